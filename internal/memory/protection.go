package memory

import (
	"fmt"

	"github.com/awnumar/memcall"
)

// Protection is the access level enforced by the platform on a region.
type Protection int

const (
	// NoAccess makes the region unreadable and immutable.
	NoAccess Protection = iota
	// ReadOnly makes the region readable but immutable.
	ReadOnly
	// ReadWrite makes the region readable and writable.
	ReadWrite
)

// String returns the protection level name
func (p Protection) String() string {
	switch p {
	case NoAccess:
		return "noaccess"
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("protection(%d)", int(p))
	}
}

func (p Protection) flag() (memcall.MemoryProtectionFlag, error) {
	switch p {
	case NoAccess:
		return memcall.NoAccess(), nil
	case ReadOnly:
		return memcall.ReadOnly(), nil
	case ReadWrite:
		return memcall.ReadWrite(), nil
	default:
		return memcall.MemoryProtectionFlag{}, fmt.Errorf("%w: %s", ErrInvalidProtection, p)
	}
}
