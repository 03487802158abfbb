// Package passphrase reads secrets typed by a user or stored in a file
// directly into secret buffers. Input is consumed one byte at a time inside
// a write window, so the plaintext never lands in an ordinary heap buffer.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/awnumar/memguard"
	"github.com/bittensor-lab/pwledger/internal/terminal"
	"github.com/bittensor-lab/pwledger/pkg/secret"
	"go.uber.org/zap"
)

// DefaultMaxLength bounds interactive and file input.
const DefaultMaxLength = 1024

var (
	ErrEmpty       = errors.New("passphrase is empty")
	ErrTooLong     = errors.New("passphrase too long")
	ErrInterrupted = errors.New("passphrase entry interrupted")
	ErrMismatch    = errors.New("passphrases do not match")
)

// Control bytes understood while reading.
const (
	keyInterrupt = 0x03 // Ctrl-C
	keyEOF       = 0x04 // Ctrl-D
	keyBackspace = 0x08
	keyKillLine  = 0x15 // Ctrl-U
	keyDelete    = 0x7f
)

type config struct {
	maxLength  int
	mask       byte
	secretOpts []secret.Option
	logger     *zap.Logger
}

// Option configures reading
type Option func(*config)

// WithMaxLength sets the maximum accepted length in bytes.
func WithMaxLength(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxLength = n
		}
	}
}

// WithMask makes Prompt write mask for every accepted character and erase it
// again on backspace. Zero, the default, writes nothing.
func WithMask(mask byte) Option {
	return func(c *config) {
		c.mask = mask
	}
}

// WithSecretOptions passes options to every Secret created while reading.
func WithSecretOptions(opts ...secret.Option) Option {
	return func(c *config) {
		c.secretOpts = append(c.secretOpts, opts...)
	}
}

// WithLogger sets the logger used for terminal warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		maxLength: DefaultMaxLength,
		logger:    zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read consumes src one byte at a time until CR, LF or end of input and
// returns what was typed as an exact-size Secret. Backspace and DEL erase the
// last character, Ctrl-U erases the line, Ctrl-C aborts with
// ErrInterrupted and Ctrl-D or end of input on an empty line returns io.EOF.
// Other control characters are ignored.
func Read(src io.Reader, opts ...Option) (*secret.Secret, error) {
	return readSecret(src, echo{}, newConfig(opts))
}

func readSecret(src io.Reader, fb echo, cfg *config) (*secret.Secret, error) {
	staging := secret.New(cfg.maxLength, cfg.secretOpts...)
	defer staging.Destroy()

	n, err := secret.Write(staging, func(buf []byte) (int, error) {
		return readLine(src, buf, fb)
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmpty
	}

	return copyPrefix(staging, 0, n, cfg.secretOpts)
}

// echo writes masked feedback for typed and erased characters.
type echo struct {
	w    io.Writer
	mask byte
}

func (e echo) typed(c byte) {
	// One mask per rune: continuation bytes of a UTF-8 sequence are silent.
	if e.w == nil || e.mask == 0 || c&0xC0 == 0x80 {
		return
	}
	_, _ = e.w.Write([]byte{e.mask})
}

func (e echo) erased(runes int) {
	if e.w == nil || e.mask == 0 {
		return
	}
	for i := 0; i < runes; i++ {
		_, _ = io.WriteString(e.w, "\b \b")
	}
}

func readLine(src io.Reader, buf []byte, fb echo) (int, error) {
	var b [1]byte
	defer memguard.WipeBytes(b[:])

	n := 0
	for {
		if _, err := io.ReadFull(src, b[:]); err != nil {
			if errors.Is(err, io.EOF) {
				if n == 0 {
					return 0, io.EOF
				}
				return n, nil
			}
			return 0, fmt.Errorf("failed to read passphrase: %w", err)
		}

		switch c := b[0]; c {
		case '\r', '\n':
			return n, nil
		case keyInterrupt:
			return 0, ErrInterrupted
		case keyEOF:
			if n == 0 {
				return 0, io.EOF
			}
		case keyBackspace, keyDelete:
			if n > 0 {
				n = eraseLastRune(buf, n)
				fb.erased(1)
			}
		case keyKillLine:
			fb.erased(utf8.RuneCount(buf[:n]))
			memguard.WipeBytes(buf[:n])
			n = 0
		default:
			if c < 0x20 {
				// Tab, escape sequences and other control input.
				continue
			}
			if n == len(buf) {
				return 0, ErrTooLong
			}
			buf[n] = c
			n++
			fb.typed(c)
		}
	}
}

func eraseLastRune(buf []byte, n int) int {
	if n == 0 {
		return 0
	}
	_, size := utf8.DecodeLastRune(buf[:n])
	memguard.WipeBytes(buf[n-size : n])
	return n - size
}

// copyPrefix copies staging[from:to] into a new exact-size Secret.
func copyPrefix(staging *secret.Secret, from, to int, opts []secret.Option) (*secret.Secret, error) {
	out := secret.New(to-from, opts...)
	err := staging.WithReadAccess(func(src []byte) error {
		return out.WithWriteAccess(func(dst []byte) error {
			copy(dst, src[from:to])
			return nil
		})
	})
	if err != nil {
		out.Destroy()
		return nil, err
	}
	return out, nil
}

// Prompt writes label to out and reads a passphrase from in with the
// terminal m switched to no-echo, unbuffered input. A nil m, or a terminal
// that cannot be configured, reads without echo suppression; the latter is
// logged as a warning.
func Prompt(m terminal.Mode, in io.Reader, out io.Writer, label string, opts ...Option) (*secret.Secret, error) {
	if m == nil {
		return prompt(in, out, label, opts)
	}

	cfg := newConfig(opts)

	var result *secret.Secret
	err := terminal.Run(m, cfg.logger, func(*terminal.Session) error {
		s, err := prompt(in, out, label, opts)
		result = s
		return err
	})
	return result, err
}

func prompt(in io.Reader, out io.Writer, label string, opts []Option) (*secret.Secret, error) {
	if _, err := io.WriteString(out, label); err != nil {
		return nil, fmt.Errorf("failed to write prompt: %w", err)
	}

	cfg := newConfig(opts)
	s, err := readSecret(in, echo{w: out, mask: cfg.mask}, cfg)

	// The user's Enter was not echoed.
	_, _ = io.WriteString(out, "\n")
	return s, err
}

// PromptConfirm prompts twice and returns the passphrase only when both
// entries match. The second entry is always destroyed.
func PromptConfirm(m terminal.Mode, in io.Reader, out io.Writer, label, confirmLabel string, opts ...Option) (*secret.Secret, error) {
	first, err := Prompt(m, in, out, label, opts...)
	if err != nil {
		return nil, err
	}

	second, err := Prompt(m, in, out, confirmLabel, opts...)
	if err != nil {
		first.Destroy()
		return nil, err
	}
	defer second.Destroy()

	if !secret.Equal(first, second) {
		first.Destroy()
		return nil, ErrMismatch
	}
	return first, nil
}
