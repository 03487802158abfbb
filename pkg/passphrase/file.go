package passphrase

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode"

	"github.com/bittensor-lab/pwledger/pkg/secret"
)

// FromReader reads r to the end, trims surrounding whitespace and returns
// the rest as a Secret. Input longer than the maximum length is rejected with
// ErrTooLong and whitespace-only input with ErrEmpty.
func FromReader(r io.Reader, opts ...Option) (*secret.Secret, error) {
	cfg := newConfig(opts)

	// One spare byte tells "exactly max" apart from "longer than max".
	staging := secret.New(cfg.maxLength+1, cfg.secretOpts...)
	defer staging.Destroy()

	type span struct{ from, to int }

	sp, err := secret.Write(staging, func(buf []byte) (span, error) {
		n, err := io.ReadFull(r, buf)
		switch {
		case err == nil:
			return span{}, ErrTooLong
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		default:
			return span{}, fmt.Errorf("failed to read secret: %w", err)
		}

		from, to := trimSpace(buf[:n])
		return span{from, to}, nil
	})
	if err != nil {
		return nil, err
	}
	if sp.from == sp.to {
		return nil, ErrEmpty
	}

	return copyPrefix(staging, sp.from, sp.to, cfg.secretOpts)
}

// ReadFromPath reads a secret from the file at path, or from stdin when path
// is "-".
func ReadFromPath(path string, opts ...Option) (*secret.Secret, error) {
	if path == "-" {
		return FromReader(os.Stdin, opts...)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret file: %w", err)
	}
	defer f.Close()

	return FromReader(f, opts...)
}

// trimSpace returns the bounds of b without leading and trailing white
// space, without copying.
func trimSpace(b []byte) (int, int) {
	left := bytes.TrimLeftFunc(b, unicode.IsSpace)
	from := len(b) - len(left)
	return from, from + len(bytes.TrimRightFunc(left, unicode.IsSpace))
}
