package secret

import (
	"crypto/subtle"
	"runtime"

	"golang.org/x/crypto/blake2b"
)

// Read opens a read-only window on s, calls fn with a view of exactly
// s.Size() bytes and forwards its result. The window is closed before Read
// returns, including when fn panics. fn must not retain the view or write to
// it.
func Read[T any](s *Secret, fn func(view []byte) (T, error)) (T, error) {
	g := openRead(s)
	defer runtime.KeepAlive(s)
	defer g.close()

	return fn(g.view())
}

// Write is Read with a read-write window.
func Write[T any](s *Secret, fn func(view []byte) (T, error)) (T, error) {
	g := openWrite(s)
	defer runtime.KeepAlive(s)
	defer g.close()

	return fn(g.view())
}

// WithReadAccess runs fn inside a read-only window and returns its error.
func (s *Secret) WithReadAccess(fn func(view []byte) error) error {
	_, err := Read(s, func(view []byte) (struct{}, error) {
		return struct{}{}, fn(view)
	})
	return err
}

// WithWriteAccess runs fn inside a read-write window and returns its error.
func (s *Secret) WithWriteAccess(fn func(view []byte) error) error {
	_, err := Write(s, func(view []byte) (struct{}, error) {
		return struct{}{}, fn(view)
	})
	return err
}

// Equal reports whether a and b hold the same bytes. The contents are
// compared in constant time; sizes are not secret and are compared first.
func Equal(a, b *Secret) bool {
	if a == b {
		return true
	}
	if a.Size() != b.Size() {
		return false
	}

	eq, _ := Read(a, func(va []byte) (bool, error) {
		return Read(b, func(vb []byte) (bool, error) {
			return subtle.ConstantTimeCompare(va, vb) == 1, nil
		})
	})
	return eq
}

// Fingerprint returns the BLAKE2b-256 digest of the contents, suitable for
// telling secrets apart without revealing them.
func Fingerprint(s *Secret) [32]byte {
	sum, _ := Read(s, func(view []byte) ([32]byte, error) {
		return blake2b.Sum256(view), nil
	})
	return sum
}
