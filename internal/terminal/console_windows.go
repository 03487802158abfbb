//go:build windows

package terminal

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// consoleMode drives a Windows console input handle.
type consoleMode struct {
	handle     windows.Handle
	saved      uint32
	configured bool
}

var _ Mode = (*consoleMode)(nil)

func newMode(fd int) Mode {
	return &consoleMode{handle: windows.Handle(fd)}
}

func (m *consoleMode) Configure() error {
	if m.configured {
		return nil
	}

	var mode uint32
	if err := windows.GetConsoleMode(m.handle, &mode); err != nil {
		return fmt.Errorf("failed to get console mode: %w", err)
	}

	// Without processed input Ctrl-C is delivered as a byte.
	raw := mode &^ (windows.ENABLE_ECHO_INPUT | windows.ENABLE_LINE_INPUT | windows.ENABLE_PROCESSED_INPUT)
	if err := windows.SetConsoleMode(m.handle, raw); err != nil {
		return fmt.Errorf("failed to set console mode: %w", err)
	}

	m.saved = mode
	m.configured = true
	return nil
}

func (m *consoleMode) Restore() error {
	if !m.configured {
		return nil
	}
	if err := windows.SetConsoleMode(m.handle, m.saved); err != nil {
		return fmt.Errorf("failed to restore console mode: %w", err)
	}
	m.configured = false
	return nil
}

func (m *consoleMode) IsConfigured() bool {
	return m.configured
}
