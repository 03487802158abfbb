package secret

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/awnumar/memguard"
	"github.com/bittensor-lab/pwledger/internal/memory"
	"go.uber.org/zap"
)

// noCopy makes go vet's copylocks check reject copies of Secret.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Secret owns a fixed-size hardened buffer. Create it with New; the zero
// value is not usable.
type Secret struct {
	_ noCopy

	// addr is the Secret's own address, used to detect copies. It is a
	// uintptr so that it does not keep the Secret reachable.
	addr   uintptr
	opts   *options
	region *memory.Region
	size   int
	guards atomic.Int32
}

// New allocates a Secret of size bytes in hardened memory and locks it to
// no-access. It panics if size is not positive and exits the process if the
// memory cannot be allocated or locked.
func New(size int, opts ...Option) *Secret {
	if size <= 0 {
		panic(fmt.Sprintf("secret: size must be positive, got %d", size))
	}

	o := newOptions(opts)

	region, err := o.allocator.Allocate(size)
	if err != nil {
		o.logger.Fatal("Failed to allocate secret memory", zap.Int("size", size), zap.Error(err))
		return nil
	}

	if err := o.allocator.Protect(region, memory.NoAccess); err != nil {
		_ = o.allocator.Release(region)
		o.logger.Fatal("Failed to lock secret memory", zap.Int("size", size), zap.Error(err))
		return nil
	}

	s := newSecret(o, region, size)
	o.metrics.Allocated(size)
	return s
}

// NewFromBytes copies src into a new Secret and wipes src.
func NewFromBytes(src []byte, opts ...Option) *Secret {
	s := New(len(src), opts...)
	_ = s.WithWriteAccess(func(view []byte) error {
		copy(view, src)
		return nil
	})
	memguard.WipeBytes(src)
	return s
}

func newSecret(o *options, region *memory.Region, size int) *Secret {
	s := &Secret{opts: o, region: region, size: size}
	s.addr = uintptr(unsafe.Pointer(s))
	// The finalizer is a backstop for Secrets that are never destroyed.
	runtime.SetFinalizer(s, (*Secret).release)
	return s
}

func (s *Secret) check() {
	if s.addr == 0 {
		panic("secret: use of Secret not created by New")
	}
	if s.addr != uintptr(unsafe.Pointer(s)) {
		panic("secret: illegal use of Secret copied by value")
	}
}

// Size returns the length of the buffer in bytes. It is zero once the
// Secret has been moved from or destroyed.
func (s *Secret) Size() int {
	return s.size
}

// Empty reports whether the Secret no longer holds memory.
func (s *Secret) Empty() bool {
	return s.region == nil
}

// Zeroize overwrites the whole buffer with zeros in place. The size is
// unchanged and the buffer returns to no-access. It must not be called while
// an access window is open.
func (s *Secret) Zeroize() {
	s.check()
	if s.region == nil {
		return
	}
	s.assertNoWindow("zeroized")

	s.unlock(memory.ReadWrite)
	memguard.WipeBytes(s.region.Bytes())
	s.relock(s.region)

	s.opts.metrics.Zeroized()
}

// Move transfers the buffer to a new Secret and leaves s empty.
func (s *Secret) Move() *Secret {
	s.check()
	s.assertNoWindow("moved")

	dst := newSecret(s.opts, s.region, s.size)
	s.region, s.size = nil, 0
	return dst
}

// MoveFrom wipes and releases the buffer s holds, takes over the buffer of
// src and leaves src empty. Moving a Secret into itself does nothing.
func (s *Secret) MoveFrom(src *Secret) {
	s.check()
	src.check()
	if s == src {
		return
	}
	s.assertNoWindow("move-assigned")
	src.assertNoWindow("moved")

	s.release()

	s.opts, s.region, s.size = src.opts, src.region, src.size
	src.region, src.size = nil, 0
}

// Destroy wipes and releases the buffer. It is a no-op on an empty Secret.
func (s *Secret) Destroy() {
	s.check()
	s.assertNoWindow("destroyed")
	s.release()
}

// String never reveals the contents.
func (s *Secret) String() string {
	return fmt.Sprintf("secret.Secret(%d bytes)", s.Size())
}

// GoString never reveals the contents.
func (s *Secret) GoString() string {
	return s.String()
}

func (s *Secret) release() {
	if s.region == nil {
		return
	}

	size := s.size
	if err := s.opts.allocator.Release(s.region); err != nil {
		s.opts.logger.Fatal("Failed to release secret memory", zap.Int("size", size), zap.Error(err))
		return
	}
	s.region, s.size = nil, 0

	s.opts.metrics.Released(size)
}

func (s *Secret) unlock(level memory.Protection) {
	if err := s.opts.allocator.Protect(s.region, level); err != nil {
		s.opts.logger.Fatal("Failed to unlock secret memory",
			zap.Stringer("protection", level),
			zap.Int("size", s.size),
			zap.Error(err))
	}
}

// relock takes the region explicitly: a window relocks the region it
// opened even if the Secret has since been moved.
func (s *Secret) relock(region *memory.Region) {
	if err := s.opts.allocator.Protect(region, memory.NoAccess); err != nil {
		s.opts.logger.Fatal("Failed to restore no-access protection on secret memory",
			zap.Int("size", region.Len()),
			zap.Error(err))
	}
}

func (s *Secret) assertNoWindow(op string) {
	if !s.opts.tracking {
		return
	}
	if n := s.guards.Load(); n != 0 {
		s.opts.logger.DPanic("Secret "+op+" while an access window is open",
			zap.Int32("open_windows", n))
	}
}
