// Package terminal switches the process terminal into a mode suitable for
// secret entry: no echo, no line buffering and no signal keys, so every
// keystroke, Ctrl-C included, is delivered as it is typed and never shown. Terminal attributes are
// process-wide state, so at most one Session may be live at a time.
package terminal

import (
	"errors"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	ErrBusy        = errors.New("terminal session already active")
	ErrNotTerminal = errors.New("not a terminal")
)

// Mode is the capability set every platform implementation provides.
type Mode interface {
	// Configure disables echo, line buffering and signal keys, saving the
	// previous state.
	Configure() error
	// Restore puts back the state saved by Configure. It does nothing when
	// the terminal is not configured.
	Restore() error
	// IsConfigured reports whether Configure succeeded and Restore has not
	// run since.
	IsConfigured() bool
}

// ForFile returns the platform Mode for f, or ErrNotTerminal when f is not
// attached to a terminal.
func ForFile(f *os.File) (Mode, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	return newMode(fd), nil
}

var active atomic.Pointer[Session]

// Session is a live acquisition of the process terminal.
type Session struct {
	mode   Mode
	logger *zap.Logger
	err    error
}

// Acquire claims the process terminal and configures m. It fails only with
// ErrBusy. A configuration failure is logged and kept in Err; the session is
// still returned with Configured() == false so the caller can decide whether
// to continue without echo suppression.
func Acquire(m Mode, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.L()
	}

	s := &Session{mode: m, logger: logger}
	if !active.CompareAndSwap(nil, s) {
		return nil, ErrBusy
	}

	if err := m.Configure(); err != nil {
		s.err = err
		logger.Warn("Failed to configure terminal for secure input", zap.Error(err))
	}
	return s, nil
}

// Configured reports whether echo is currently suppressed.
func (s *Session) Configured() bool {
	return s.mode.IsConfigured()
}

// Err returns the configuration error, if any.
func (s *Session) Err() error {
	return s.err
}

// Release restores the terminal and frees the process slot. Restore
// failures are logged, not returned. Release is idempotent.
func (s *Session) Release() {
	if !active.CompareAndSwap(s, nil) {
		return
	}
	if err := s.mode.Restore(); err != nil {
		s.logger.Error("Failed to restore terminal", zap.Error(err))
	}
}

// Run acquires the terminal, calls fn and releases the terminal on every
// exit path, including panics.
func Run(m Mode, logger *zap.Logger, fn func(*Session) error) error {
	s, err := Acquire(m, logger)
	if err != nil {
		return err
	}
	defer s.Release()

	return fn(s)
}

// RestoreActive releases the live session, if any. It is meant for signal
// handlers that exit the process.
func RestoreActive() {
	if s := active.Load(); s != nil {
		s.Release()
	}
}
