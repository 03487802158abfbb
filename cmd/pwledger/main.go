package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/bittensor-lab/pwledger/internal/config"
	"github.com/bittensor-lab/pwledger/internal/logging"
	"github.com/bittensor-lab/pwledger/internal/memory"
	"github.com/bittensor-lab/pwledger/internal/metrics"
	"github.com/bittensor-lab/pwledger/internal/terminal"
	"github.com/bittensor-lab/pwledger/pkg/passphrase"
	"github.com/bittensor-lab/pwledger/pkg/secret"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

// exitInterrupted is the conventional status for a process stopped by SIGINT.
const exitInterrupted = 130

func main() {
	// Parse command line flags
	configPath := flag.StringP("config", "c", "", "Path to configuration file (YAML or JSON)")
	fromPath := flag.String("from", "", "Read the secret from a file instead of prompting (- for stdin)")
	confirm := flag.Bool("confirm", false, "Ask for the passphrase twice")
	selftest := flag.Bool("selftest", false, "Run the hardened memory self test and exit")
	flag.Parse()

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(filepath.Clean(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Initialize logger
	logger, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	health := metrics.NewHealth()
	if cfg.Metrics.Enabled {
		serveMetrics(cfg.Metrics.Address, reg, health, logger)
	}

	opts := []secret.Option{
		secret.WithLogger(logger),
		secret.WithMetrics(m),
		secret.WithGuardTracking(cfg.Memory.TrackGuards),
	}

	// Set up signal handling so the terminal is left usable and no secret
	// memory behind. Ctrl-C during a prompt does not get here: the prompt
	// reads it as input and returns passphrase.ErrInterrupted.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-ch
		terminal.RestoreActive()
		memory.Purge()
		logger.Info("Interrupted", zap.String("signal", sig.String()))
		_ = logger.Sync()
		memguard.SafeExit(exitInterrupted)
	}()

	if *selftest {
		if err := runSelfTest(os.Stdout, opts); err != nil {
			health.SetNotServing("self test failed")
			logger.Fatal("Self test failed", zap.Error(err))
		}
		return
	}
	health.SetServing()

	readOpts := []passphrase.Option{
		passphrase.WithMaxLength(cfg.Prompt.MaxLength),
		passphrase.WithSecretOptions(opts...),
		passphrase.WithLogger(logger),
	}

	s, err := obtainSecret(*fromPath, *confirm || cfg.Prompt.Confirm, opts, readOpts, logger)
	if errors.Is(err, passphrase.ErrInterrupted) {
		logger.Info("Passphrase entry cancelled")
		_ = logger.Sync()
		memory.Purge()
		memguard.SafeExit(exitInterrupted)
	}
	if err != nil {
		logger.Fatal("Failed to read secret", zap.Error(err))
	}
	defer s.Destroy()

	fp := secret.Fingerprint(s)
	fmt.Printf("Length: %d bytes\n", s.Size())
	fmt.Printf("Fingerprint: %s\n", hex.EncodeToString(fp[:]))
}

func obtainSecret(fromPath string, confirm bool, opts []secret.Option, readOpts []passphrase.Option, logger *zap.Logger) (*secret.Secret, error) {
	// Check for password in environment variable (for testing)
	if envPassword := os.Getenv("PWLEDGER_PASSWORD"); envPassword != "" {
		return secret.NewFromBytes([]byte(envPassword), opts...), nil
	}

	if fromPath != "" {
		return passphrase.ReadFromPath(fromPath, readOpts...)
	}

	var mode terminal.Mode
	if tm, err := terminal.ForFile(os.Stdin); err == nil {
		mode = tm
		readOpts = append(readOpts, passphrase.WithMask('*'))
	} else if errors.Is(err, terminal.ErrNotTerminal) {
		logger.Warn("Standard input is not a terminal, input will be echoed")
	} else {
		return nil, err
	}

	if confirm {
		return passphrase.PromptConfirm(mode, os.Stdin, os.Stderr, "Enter passphrase: ", "Confirm passphrase: ", readOpts...)
	}
	return passphrase.Prompt(mode, os.Stdin, os.Stderr, "Enter passphrase: ", readOpts...)
}

func serveMetrics(addr string, reg *prometheus.Registry, health http.Handler, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	go func() {
		logger.Info("Serving metrics", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
}
