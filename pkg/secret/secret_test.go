package secret

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/bittensor-lab/pwledger/internal/memory"
	"github.com/bittensor-lab/pwledger/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/blake2b"
)

var errInjected = errors.New("injected failure")

// faultyAllocator wraps the hardened allocator, counts calls and fails the
// protection levels listed in failOn.
type faultyAllocator struct {
	memory.Allocator
	failAllocate bool
	failOn       map[memory.Protection]bool
	releases     int
}

func newFaultyAllocator() *faultyAllocator {
	return &faultyAllocator{
		Allocator: memory.NewHardened(),
		failOn:    make(map[memory.Protection]bool),
	}
}

func (f *faultyAllocator) Allocate(size int) (*memory.Region, error) {
	if f.failAllocate {
		return nil, errInjected
	}
	return f.Allocator.Allocate(size)
}

func (f *faultyAllocator) Protect(r *memory.Region, p memory.Protection) error {
	if f.failOn[p] {
		return errInjected
	}
	return f.Allocator.Protect(r, p)
}

func (f *faultyAllocator) Release(r *memory.Region) error {
	f.releases++
	return f.Allocator.Release(r)
}

// testLogger turns Fatal into a panic and DPanic into a panic so both
// failure classes can be observed in-process.
func testLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core, zap.Development(), zap.WithFatalHook(zapcore.WriteThenPanic)), logs
}

func testOptions(extra ...Option) ([]Option, *observer.ObservedLogs) {
	logger, logs := testLogger()
	return append([]Option{WithLogger(logger), WithGuardTracking(true)}, extra...), logs
}

func recoverPanic(fn func()) (v any) {
	defer func() {
		v = recover()
	}()
	fn()
	return nil
}

func fill(t *testing.T, s *Secret, material []byte) {
	t.Helper()
	err := s.WithWriteAccess(func(view []byte) error {
		if len(view) != len(material) {
			return fmt.Errorf("view has %d bytes, want %d", len(view), len(material))
		}
		copy(view, material)
		return nil
	})
	if err != nil {
		t.Fatalf("WithWriteAccess failed: %v", err)
	}
}

func contents(t *testing.T, s *Secret) []byte {
	t.Helper()
	out, err := Read(s, func(view []byte) ([]byte, error) {
		return bytes.Clone(view), nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	opts, _ := testOptions()

	for _, size := range []int{1, 7, 32, 255, 4096, 4097, 10000} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			material := make([]byte, size)
			if _, err := rand.Read(material); err != nil {
				t.Fatalf("rand.Read failed: %v", err)
			}

			s := New(size, opts...)
			defer s.Destroy()

			if s.Size() != size {
				t.Errorf("Size() = %d, want %d", s.Size(), size)
			}

			fill(t, s, material)
			if got := contents(t, s); !bytes.Equal(got, material) {
				t.Error("read back different bytes than were written")
			}
		})
	}
}

func TestThirtyTwoByteMaterial(t *testing.T) {
	opts, _ := testOptions()

	// 31 printable characters plus the terminating NUL.
	material := append([]byte("secret-material-here-31-bytes!!"), 0)

	s := New(32, opts...)
	defer s.Destroy()

	fill(t, s, material)

	got := contents(t, s)
	if len(got) != 32 {
		t.Fatalf("read %d bytes, want 32", len(got))
	}
	if !bytes.Equal(got, material) {
		t.Errorf("got %q, want %q", got, material)
	}
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	opts, logs := testOptions()

	for _, size := range []int{0, -1} {
		v := recoverPanic(func() { New(size, opts...) })
		if v == nil {
			t.Fatalf("New(%d) did not panic", size)
		}
		if msg, _ := v.(string); !strings.Contains(msg, "size must be positive") {
			t.Errorf("New(%d) panicked with %v", size, v)
		}
	}

	// A contract violation is not a platform failure.
	if n := logs.FilterLevelExact(zapcore.FatalLevel).Len(); n != 0 {
		t.Errorf("expected no fatal log entries, got %d", n)
	}
}

func TestZeroValueSecretPanics(t *testing.T) {
	var s Secret

	v := recoverPanic(func() {
		_ = s.WithReadAccess(func([]byte) error { return nil })
	})
	if v == nil {
		t.Fatal("access on a zero Secret did not panic")
	}
	if msg, _ := v.(string); !strings.Contains(msg, "not created by New") {
		t.Errorf("unexpected panic: %v", v)
	}
}

func TestSecretIsNotCopyable(t *testing.T) {
	typ := reflect.TypeOf((*Secret)(nil)).Elem()

	var marked bool
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).Type == reflect.TypeOf(noCopy{}) {
			marked = true
		}
	}
	if !marked {
		t.Error("Secret must embed a noCopy marker")
	}

	var _ sync.Locker = (*noCopy)(nil)
}

func TestMoveInvalidatesSource(t *testing.T) {
	opts, _ := testOptions()
	material := []byte("secret-material-here-31-bytes!!")

	src := New(len(material), opts...)
	fill(t, src, material)

	dst := src.Move()
	defer dst.Destroy()

	if src.Size() != 0 {
		t.Errorf("src.Size() = %d after move, want 0", src.Size())
	}
	if !src.Empty() {
		t.Error("src should be empty after move")
	}

	// The moved-from Secret must not alias the destination.
	err := src.WithReadAccess(func(view []byte) error {
		if len(view) != 0 {
			return fmt.Errorf("moved-from view has %d bytes", len(view))
		}
		return nil
	})
	if err != nil {
		t.Error(err)
	}

	if got := contents(t, dst); !bytes.Equal(got, material) {
		t.Errorf("dst holds %q, want %q", got, material)
	}

	// Destroying the empty source is a no-op.
	src.Destroy()
}

func TestMoveFrom(t *testing.T) {
	alloc := newFaultyAllocator()
	opts, _ := testOptions(WithAllocator(alloc))

	dst := New(8, opts...)
	fill(t, dst, []byte("old-data"))

	src := New(12, opts...)
	fill(t, src, []byte("new-material"))

	dst.MoveFrom(src)
	defer dst.Destroy()

	if alloc.releases != 1 {
		t.Errorf("expected the destination's previous buffer to be released once, got %d", alloc.releases)
	}
	if dst.Size() != 12 {
		t.Errorf("dst.Size() = %d, want 12", dst.Size())
	}
	if got := contents(t, dst); string(got) != "new-material" {
		t.Errorf("dst holds %q", got)
	}
	if src.Size() != 0 || !src.Empty() {
		t.Error("src should be empty after MoveFrom")
	}
}

func TestMoveFromSelf(t *testing.T) {
	opts, _ := testOptions()

	s := New(4, opts...)
	defer s.Destroy()
	fill(t, s, []byte("abcd"))

	s.MoveFrom(s)

	if got := contents(t, s); string(got) != "abcd" {
		t.Errorf("self move changed contents to %q", got)
	}
}

func TestZeroize(t *testing.T) {
	opts, _ := testOptions()

	t.Run("after write", func(t *testing.T) {
		s := New(16, opts...)
		defer s.Destroy()

		fill(t, s, bytes.Repeat([]byte{0xFF}, 16))
		s.Zeroize()

		if s.Size() != 16 {
			t.Errorf("Size() = %d after Zeroize, want 16", s.Size())
		}
		if got := contents(t, s); !bytes.Equal(got, make([]byte, 16)) {
			t.Errorf("expected zeros, got %x", got)
		}
		if s.region.State() != memory.NoAccess {
			t.Errorf("state after Zeroize = %s, want noaccess", s.region.State())
		}
	})

	t.Run("without prior write", func(t *testing.T) {
		s := New(10, opts...)
		defer s.Destroy()

		s.Zeroize()

		if got := contents(t, s); !bytes.Equal(got, make([]byte, 10)) {
			t.Errorf("expected 10 zero bytes, got %x", got)
		}
	})

	t.Run("empty secret", func(t *testing.T) {
		s := New(4, opts...)
		dst := s.Move()
		defer dst.Destroy()

		s.Zeroize()
	})
}

func TestWindowProtectionStates(t *testing.T) {
	opts, _ := testOptions()

	s := New(8, opts...)
	defer s.Destroy()

	if s.region.State() != memory.NoAccess {
		t.Fatalf("new secret state = %s, want noaccess", s.region.State())
	}

	_ = s.WithReadAccess(func([]byte) error {
		if s.region.State() != memory.ReadOnly {
			t.Errorf("state in read window = %s", s.region.State())
		}
		return nil
	})
	if s.region.State() != memory.NoAccess {
		t.Errorf("state after read window = %s", s.region.State())
	}

	_ = s.WithWriteAccess(func([]byte) error {
		if s.region.State() != memory.ReadWrite {
			t.Errorf("state in write window = %s", s.region.State())
		}
		return nil
	})
	if s.region.State() != memory.NoAccess {
		t.Errorf("state after write window = %s", s.region.State())
	}
}

func TestPanicInWindowRelocks(t *testing.T) {
	opts, _ := testOptions()

	s := New(8, opts...)
	defer s.Destroy()

	v := recoverPanic(func() {
		_ = s.WithWriteAccess(func(view []byte) error {
			copy(view, "partial!")
			panic("boom")
		})
	})
	if v != "boom" {
		t.Fatalf("expected the closure panic to propagate, got %v", v)
	}

	if s.region.State() != memory.NoAccess {
		t.Errorf("state after panic = %s, want noaccess", s.region.State())
	}
	if n := s.guards.Load(); n != 0 {
		t.Errorf("open windows after panic = %d, want 0", n)
	}

	// A second window works normally.
	if got := contents(t, s); string(got) != "partial!" {
		t.Errorf("got %q after recovered panic", got)
	}
}

func TestErrorInWindowRelocks(t *testing.T) {
	opts, _ := testOptions()
	errCallback := errors.New("callback failed")

	s := New(8, opts...)
	defer s.Destroy()

	err := s.WithReadAccess(func([]byte) error {
		return errCallback
	})
	if !errors.Is(err, errCallback) {
		t.Errorf("expected callback error, got %v", err)
	}
	if s.region.State() != memory.NoAccess {
		t.Errorf("state after error = %s, want noaccess", s.region.State())
	}
}

func TestReadWriteForwardResults(t *testing.T) {
	opts, _ := testOptions()

	s := New(5, opts...)
	defer s.Destroy()

	n, err := Write(s, func(view []byte) (int, error) {
		return copy(view, "hello"), nil
	})
	if err != nil || n != 5 {
		t.Fatalf("Write returned (%d, %v), want (5, nil)", n, err)
	}

	first, err := Read(s, func(view []byte) (byte, error) {
		return view[0], nil
	})
	if err != nil || first != 'h' {
		t.Errorf("Read returned (%q, %v), want ('h', nil)", first, err)
	}
}

func TestSequentialCycles(t *testing.T) {
	opts, _ := testOptions()

	s := New(6, opts...)
	defer s.Destroy()

	for _, material := range []string{"first!", "second"} {
		fill(t, s, []byte(material))
		if got := contents(t, s); string(got) != material {
			t.Errorf("cycle %q read back %q", material, got)
		}
	}
}

func TestOverlappingWindowsDetected(t *testing.T) {
	opts, logs := testOptions()

	s := New(8, opts...)
	defer s.Destroy()

	v := recoverPanic(func() {
		_ = s.WithWriteAccess(func([]byte) error {
			return s.WithReadAccess(func([]byte) error {
				t.Error("nested window should not open")
				return nil
			})
		})
	})
	if v == nil {
		t.Fatal("overlapping windows were not reported")
	}
	if logs.FilterMessage("Overlapping access windows on the same secret").Len() != 1 {
		t.Error("expected an overlap diagnostic in the logs")
	}

	if n := s.guards.Load(); n != 0 {
		t.Errorf("open windows after overlap = %d, want 0", n)
	}
	if s.region.State() != memory.NoAccess {
		t.Errorf("state after overlap = %s, want noaccess", s.region.State())
	}
}

func TestTrackingDisabledLeavesCounterAlone(t *testing.T) {
	logger, _ := testLogger()

	s := New(4, WithLogger(logger))
	defer s.Destroy()

	_ = s.WithReadAccess(func([]byte) error {
		if n := s.guards.Load(); n != 0 {
			t.Errorf("counter = %d with tracking disabled", n)
		}
		return nil
	})
}

func TestMoveWithOpenWindowDetected(t *testing.T) {
	opts, _ := testOptions()

	s := New(8, opts...)
	defer s.Destroy()

	v := recoverPanic(func() {
		_ = s.WithReadAccess(func([]byte) error {
			s.Move()
			return nil
		})
	})
	if v == nil {
		t.Fatal("move under an open window was not reported")
	}
	if s.Empty() {
		t.Error("a rejected move must leave the source intact")
	}
}

func TestAllocationFailureIsFatal(t *testing.T) {
	alloc := newFaultyAllocator()
	alloc.failAllocate = true
	opts, logs := testOptions(WithAllocator(alloc))

	if v := recoverPanic(func() { New(16, opts...) }); v == nil {
		t.Fatal("allocation failure did not terminate")
	}
	if logs.FilterLevelExact(zapcore.FatalLevel).FilterMessage("Failed to allocate secret memory").Len() != 1 {
		t.Error("expected a fatal allocation log entry")
	}
}

func TestInitialLockFailureIsFatal(t *testing.T) {
	alloc := newFaultyAllocator()
	alloc.failOn[memory.NoAccess] = true
	opts, logs := testOptions(WithAllocator(alloc))

	if v := recoverPanic(func() { New(16, opts...) }); v == nil {
		t.Fatal("initial lock failure did not terminate")
	}
	if alloc.releases != 1 {
		t.Errorf("expected the unlocked region to be released, got %d releases", alloc.releases)
	}
	if logs.FilterLevelExact(zapcore.FatalLevel).Len() != 1 {
		t.Error("expected a fatal log entry")
	}
}

func TestUnlockFailureIsFatal(t *testing.T) {
	alloc := newFaultyAllocator()
	opts, logs := testOptions(WithAllocator(alloc))

	s := New(8, opts...)
	defer s.Destroy()

	alloc.failOn[memory.ReadOnly] = true
	called := false
	v := recoverPanic(func() {
		_ = s.WithReadAccess(func([]byte) error {
			called = true
			return nil
		})
	})
	alloc.failOn[memory.ReadOnly] = false

	if v == nil {
		t.Fatal("unlock failure did not terminate")
	}
	if called {
		t.Error("closure ran without an unlocked buffer")
	}
	if s.region.State() != memory.NoAccess {
		t.Errorf("state after failed unlock = %s, want noaccess", s.region.State())
	}
	if n := s.guards.Load(); n != 0 {
		t.Errorf("open windows after failed unlock = %d, want 0", n)
	}
	if logs.FilterMessage("Failed to unlock secret memory").Len() != 1 {
		t.Error("expected an unlock failure log entry")
	}
}

func TestRelockFailureIsFatal(t *testing.T) {
	alloc := newFaultyAllocator()
	logger, logs := testLogger()

	s := New(8, WithLogger(logger), WithAllocator(alloc))
	defer s.Destroy()

	v := recoverPanic(func() {
		_ = s.WithWriteAccess(func([]byte) error {
			alloc.failOn[memory.NoAccess] = true
			return nil
		})
	})
	alloc.failOn[memory.NoAccess] = false

	if v == nil {
		t.Fatal("relock failure did not terminate")
	}
	if logs.FilterLevelExact(zapcore.FatalLevel).
		FilterMessage("Failed to restore no-access protection on secret memory").Len() != 1 {
		t.Error("expected a fatal relock log entry")
	}
}

func TestDestroy(t *testing.T) {
	alloc := newFaultyAllocator()
	opts, _ := testOptions(WithAllocator(alloc))

	s := New(8, opts...)
	fill(t, s, []byte("to-wipe!"))

	s.Destroy()
	if s.Size() != 0 || !s.Empty() {
		t.Error("destroyed secret should be empty")
	}

	s.Destroy()
	if alloc.releases != 1 {
		t.Errorf("expected one release, got %d", alloc.releases)
	}
}

func TestDestroyReleasesLockedMemory(t *testing.T) {
	alloc := newFaultyAllocator()
	opts, logs := testOptions(WithAllocator(alloc))

	s := New(32, opts...)
	fill(t, s, bytes.Repeat([]byte{0x5A}, 32))
	s.Destroy()

	dst := New(16, opts...)
	fill(t, dst, bytes.Repeat([]byte{0x11}, 16))
	src := NewFromBytes(bytes.Repeat([]byte{0x22}, 24), opts...)
	dst.MoveFrom(src)

	if got := contents(t, dst); !bytes.Equal(got, bytes.Repeat([]byte{0x22}, 24)) {
		t.Errorf("unexpected contents after MoveFrom: %x", got)
	}
	dst.Destroy()

	if !dst.Empty() || !src.Empty() {
		t.Error("expected both secrets to be empty")
	}
	// s, the region dst held before MoveFrom, and the moved region.
	if alloc.releases != 3 {
		t.Errorf("expected 3 releases, got %d", alloc.releases)
	}
	if logs.FilterLevelExact(zapcore.FatalLevel).Len() != 0 {
		t.Error("releasing no-access memory must not be fatal")
	}
}

func TestNewFromBytes(t *testing.T) {
	opts, _ := testOptions()
	src := []byte("api-token-value")
	want := bytes.Clone(src)

	s := NewFromBytes(src, opts...)
	defer s.Destroy()

	if !bytes.Equal(src, make([]byte, len(want))) {
		t.Errorf("source was not wiped: %q", src)
	}
	if got := contents(t, s); !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEqual(t *testing.T) {
	opts, _ := testOptions()

	a := NewFromBytes([]byte("hunter2"), opts...)
	defer a.Destroy()
	b := NewFromBytes([]byte("hunter2"), opts...)
	defer b.Destroy()
	c := NewFromBytes([]byte("hunter3"), opts...)
	defer c.Destroy()
	d := NewFromBytes([]byte("hunter22"), opts...)
	defer d.Destroy()

	tests := []struct {
		name string
		x, y *Secret
		want bool
	}{
		{"same contents", a, b, true},
		{"same secret", a, a, true},
		{"different contents", a, c, false},
		{"different sizes", a, d, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.x, tt.y); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	opts, _ := testOptions()
	material := []byte("fingerprint-me")

	s := NewFromBytes(bytes.Clone(material), opts...)
	defer s.Destroy()

	if got, want := Fingerprint(s), blake2b.Sum256(material); got != want {
		t.Errorf("Fingerprint() = %x, want %x", got, want)
	}
}

func TestFormattingDoesNotLeak(t *testing.T) {
	opts, _ := testOptions()
	material := "do-not-print-me"

	s := NewFromBytes([]byte(material), opts...)
	defer s.Destroy()

	out := fmt.Sprintf("%v %s %+v %#v", s, s, s, s)
	if strings.Contains(out, material) {
		t.Errorf("formatted output leaked the secret: %s", out)
	}
	if !strings.Contains(out, "secret.Secret(15 bytes)") {
		t.Errorf("unexpected formatted output: %s", out)
	}
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts, _ := testOptions(WithMetrics(metrics.New(reg)))

	s := New(16, opts...)
	fill(t, s, make([]byte, 16))
	_ = contents(t, s)
	s.Zeroize()
	s.Destroy()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}

	want := map[string]float64{
		"pwledger_secrets_allocated_total": 1,
		"pwledger_secrets_live":            0,
		"pwledger_secret_bytes_live":       0,
		"pwledger_access_windows_total":    2,
		"pwledger_zeroize_total":           1,
	}
	for name, v := range want {
		if values[name] != v {
			t.Errorf("%s = %v, want %v", name, values[name], v)
		}
	}
}
