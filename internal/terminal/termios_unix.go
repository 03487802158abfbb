//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package terminal

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// termiosMode drives a POSIX terminal through termios.
type termiosMode struct {
	fd         int
	saved      unix.Termios
	configured bool
}

var _ Mode = (*termiosMode)(nil)

func newMode(fd int) Mode {
	return &termiosMode{fd: fd}
}

func (m *termiosMode) Configure() error {
	if m.configured {
		return nil
	}

	t, err := unix.IoctlGetTermios(m.fd, ioctlReadTermios)
	if err != nil {
		return fmt.Errorf("failed to get terminal attributes: %w", err)
	}
	saved := *t

	makeSecretInput(t)

	if err := unix.IoctlSetTermios(m.fd, ioctlWriteTermios, t); err != nil {
		return fmt.Errorf("failed to set terminal attributes: %w", err)
	}

	m.saved = saved
	m.configured = true
	return nil
}

func (m *termiosMode) Restore() error {
	if !m.configured {
		return nil
	}
	if err := unix.IoctlSetTermios(m.fd, ioctlWriteTermios, &m.saved); err != nil {
		return fmt.Errorf("failed to restore terminal attributes: %w", err)
	}
	m.configured = false
	return nil
}

func (m *termiosMode) IsConfigured() bool {
	return m.configured
}

// makeSecretInput turns off echo, line buffering and signal generation, so
// Ctrl-C reaches the reader as a byte instead of interrupting it.
func makeSecretInput(t *unix.Termios) {
	t.Lflag &^= unix.ECHO | unix.ICANON | unix.ISIG
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}
