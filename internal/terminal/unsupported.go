//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris || windows)

package terminal

import (
	"errors"
	"fmt"
	"runtime"
)

var errUnsupported = errors.New("terminal control not supported")

type unsupportedMode struct{}

var _ Mode = unsupportedMode{}

func newMode(int) Mode {
	return unsupportedMode{}
}

func (unsupportedMode) Configure() error {
	return fmt.Errorf("%w on %s", errUnsupported, runtime.GOOS)
}

func (unsupportedMode) Restore() error { return nil }

func (unsupportedMode) IsConfigured() bool { return false }
