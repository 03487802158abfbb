// Package logging builds the process logger. Fatal entries wipe every live
// secret region before the process exits.
package logging

import (
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/bittensor-lab/pwledger/internal/config"
	"github.com/bittensor-lab/pwledger/internal/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ExitCode is used when a fatal entry terminates the process.
const ExitCode = 1

// PurgeAndExit is a zapcore.CheckWriteHook that destroys all secret memory
// and exits. It runs after the entry has been written.
type PurgeAndExit struct {
	// Exit terminates the process; nil means memguard.SafeExit.
	Exit func(code int)
}

// OnWrite implements zapcore.CheckWriteHook.
func (h PurgeAndExit) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {
	memory.Purge()

	exit := h.Exit
	if exit == nil {
		exit = memguard.SafeExit
	}
	exit(ExitCode)
}

// New builds a logger from the log section of cfg.
func New(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.Encoding = cfg.Log.Format

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build(zap.WithFatalHook(PurgeAndExit{}))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
