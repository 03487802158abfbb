package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/bittensor-lab/pwledger/pkg/secret"
)

type selfTest struct {
	name string
	run  func(opts []secret.Option) error
}

var selfTests = []selfTest{
	{"round trip", testRoundTrip},
	{"move", testMove},
	{"zeroize", testZeroize},
	{"sequential windows", testSequential},
}

// runSelfTest exercises the hardened allocator end to end and reports each
// scenario on w.
func runSelfTest(w io.Writer, opts []secret.Option) error {
	failed := 0
	for _, st := range selfTests {
		if err := st.run(opts); err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", st.name, err)
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", st.name)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d self tests failed", failed, len(selfTests))
	}
	return nil
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 1)
	}
	return b
}

func testRoundTrip(opts []secret.Option) error {
	for _, size := range []int{1, 32, 4096, 4097} {
		s := secret.New(size, opts...)
		want := pattern(size)

		_ = s.WithWriteAccess(func(view []byte) error {
			copy(view, want)
			return nil
		})
		err := s.WithReadAccess(func(view []byte) error {
			if !bytes.Equal(view, want) {
				return fmt.Errorf("size %d: contents differ after write", size)
			}
			return nil
		})
		s.Destroy()

		if err != nil {
			return err
		}
	}
	return nil
}

func testMove(opts []secret.Option) error {
	src := secret.NewFromBytes(pattern(32), opts...)
	dst := src.Move()
	defer dst.Destroy()
	defer src.Destroy()

	if !src.Empty() || src.Size() != 0 {
		return errors.New("source still owns a buffer after move")
	}
	if dst.Size() != 32 {
		return fmt.Errorf("destination size %d, want 32", dst.Size())
	}

	return dst.WithReadAccess(func(view []byte) error {
		if !bytes.Equal(view, pattern(32)) {
			return errors.New("destination contents differ after move")
		}
		return nil
	})
}

func testZeroize(opts []secret.Option) error {
	s := secret.NewFromBytes(pattern(64), opts...)
	defer s.Destroy()

	s.Zeroize()

	return s.WithReadAccess(func(view []byte) error {
		for i, b := range view {
			if b != 0 {
				return fmt.Errorf("byte %d is %#x after zeroize", i, b)
			}
		}
		return nil
	})
}

func testSequential(opts []secret.Option) error {
	s := secret.New(16, opts...)
	defer s.Destroy()

	for i := 0; i < 1000; i++ {
		v := byte(i)
		_ = s.WithWriteAccess(func(view []byte) error {
			view[0] = v
			return nil
		})
		got, _ := secret.Read(s, func(view []byte) (byte, error) {
			return view[0], nil
		})
		if got != v {
			return fmt.Errorf("cycle %d: read %#x, want %#x", i, got, v)
		}
	}
	return nil
}
