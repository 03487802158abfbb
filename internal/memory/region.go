// Package memory is the platform shim behind secret buffers. It hands out
// hardened regions: page-aligned allocations outside the Go heap that are
// locked into RAM, fenced by inaccessible guard pages, prefixed by a canary
// and switchable between no-access, read-only and read-write protection.
package memory

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/awnumar/memcall"
	"github.com/awnumar/memguard"
)

var (
	ErrInvalidSize       = errors.New("region size must be positive")
	ErrInvalidProtection = errors.New("invalid protection level")
	ErrReleased          = errors.New("region already released")
	ErrCanaryMismatch    = errors.New("region canary corrupted")
)

// Allocator is the set of platform primitives a secret buffer needs.
type Allocator interface {
	// Allocate returns a locked, guarded region of exactly size usable bytes.
	// The data pages are left read-write; callers lock them down with Protect.
	Allocate(size int) (*Region, error)
	// Protect changes the protection level of the region's data pages.
	Protect(r *Region, p Protection) error
	// Release wipes, unlocks and frees the region.
	Release(r *Region) error
}

// Region is one hardened allocation. Its layout is
//
//	[guard page][canary | data][guard page]
//
// with the data right-aligned against the trailing guard page so that an
// overflow faults immediately and an underflow lands in the canary.
type Region struct {
	memory    []byte
	preguard  []byte
	inner     []byte
	postguard []byte
	canary    []byte
	data      []byte

	state    Protection
	released bool
}

// Bytes returns the usable part of the region. Touching it while the region
// is NoAccess faults.
func (r *Region) Bytes() []byte {
	return r.data
}

// Len returns the number of usable bytes.
func (r *Region) Len() int {
	return len(r.data)
}

// State returns the last protection level successfully applied.
func (r *Region) State() Protection {
	return r.state
}

// Hardened allocates regions through memcall.
type Hardened struct {
	pageSize int

	canaryOnce sync.Once
	canary     []byte
}

var defaultHardened = NewHardened()

// Default returns the process-wide hardened allocator.
func Default() *Hardened {
	return defaultHardened
}

// NewHardened creates a hardened allocator using the system page size.
func NewHardened() *Hardened {
	return &Hardened{pageSize: os.Getpagesize()}
}

// PageSize returns the page size used to lay out regions.
func (h *Hardened) PageSize() int {
	return h.pageSize
}

func (h *Hardened) canaryBytes() []byte {
	h.canaryOnce.Do(func() {
		h.canary = make([]byte, h.pageSize)
		memguard.ScrambleBytes(h.canary)
	})
	return h.canary
}

func (h *Hardened) roundToPage(size int) int {
	return (size + h.pageSize - 1) / h.pageSize * h.pageSize
}

// Allocate implements Allocator.
func (h *Hardened) Allocate(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	ps := h.pageSize
	innerLen := h.roundToPage(size)

	mem, err := memcall.Alloc(2*ps + innerLen)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes: %w", size, err)
	}

	r := &Region{
		memory:    mem,
		preguard:  mem[:ps:ps],
		inner:     mem[ps : ps+innerLen : ps+innerLen],
		postguard: mem[ps+innerLen:],
		state:     ReadWrite,
	}
	r.canary = r.inner[: innerLen-size : innerLen-size]
	r.data = r.inner[innerLen-size:]

	if err := memcall.Lock(r.inner); err != nil {
		_ = memcall.Free(mem)
		return nil, fmt.Errorf("failed to lock memory: %w", err)
	}

	copy(r.canary, h.canaryBytes())

	for _, guard := range [][]byte{r.preguard, r.postguard} {
		if err := memcall.Protect(guard, memcall.NoAccess()); err != nil {
			_ = memcall.Unlock(r.inner)
			_ = memcall.Free(mem)
			return nil, fmt.Errorf("failed to protect guard page: %w", err)
		}
	}

	live.add(r)
	return r, nil
}

// Protect implements Allocator.
func (h *Hardened) Protect(r *Region, p Protection) error {
	live.mu.Lock()
	defer live.mu.Unlock()

	if r == nil || r.released {
		return ErrReleased
	}

	flag, err := p.flag()
	if err != nil {
		return err
	}

	if err := memcall.Protect(r.inner, flag); err != nil {
		return fmt.Errorf("failed to set %s protection: %w", p, err)
	}
	r.state = p
	return nil
}

// Release implements Allocator. The region is freed even when the canary
// check fails; ErrCanaryMismatch is reported afterwards.
func (h *Hardened) Release(r *Region) error {
	live.mu.Lock()
	defer live.mu.Unlock()

	if r == nil || r.released {
		return ErrReleased
	}

	// The region is normally no-access here; the canary cannot be read
	// until that is lifted.
	if err := memcall.Protect(r.inner, memcall.ReadOnly()); err != nil {
		return fmt.Errorf("failed to unprotect region: %w", err)
	}
	r.state = ReadOnly

	intact := subtle.ConstantTimeCompare(r.canary, h.canaryBytes()[:len(r.canary)]) == 1

	delete(live.regions, r)
	if err := destroy(r); err != nil {
		return err
	}

	if !intact {
		return ErrCanaryMismatch
	}
	return nil
}

// destroy wipes and frees a region regardless of its current protection.
func destroy(r *Region) error {
	if err := memcall.Protect(r.memory, memcall.ReadWrite()); err != nil {
		return fmt.Errorf("failed to unprotect region: %w", err)
	}
	r.state = ReadWrite

	memguard.WipeBytes(r.inner)

	if err := memcall.Unlock(r.inner); err != nil {
		return fmt.Errorf("failed to unlock memory: %w", err)
	}
	if err := memcall.Free(r.memory); err != nil {
		return fmt.Errorf("failed to free memory: %w", err)
	}

	r.released = true
	r.memory, r.preguard, r.inner, r.postguard, r.canary, r.data = nil, nil, nil, nil, nil, nil
	return nil
}
