package memory

import (
	"fmt"
	"sync"

	"github.com/awnumar/memcall"
	"github.com/awnumar/memguard"
)

// registry tracks live regions. Its lock also serializes protection
// changes and releases with Purge.
type registry struct {
	mu      sync.Mutex
	regions map[*Region]struct{}
}

var live = &registry{regions: make(map[*Region]struct{})}

func (reg *registry) add(r *Region) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.regions[r] = struct{}{}
}

// Live returns the number of regions allocated and not yet released.
func Live() int {
	live.mu.Lock()
	defer live.mu.Unlock()

	return len(live.regions)
}

// Purge wipes every live region. It is meant for exit paths (fatal errors,
// interrupts) and may run while another goroutine is inside an access
// window. Regions that are still no-access are freed, and any later use
// fails with ErrReleased. Regions that are readable belong to an open window:
// their data is wiped but they stay mapped, so the window's own accesses
// cannot fault. Errors are ignored so that one bad region does not stop the
// rest from being wiped.
func Purge() {
	live.mu.Lock()
	defer live.mu.Unlock()

	for r := range live.regions {
		if r.state == NoAccess {
			_ = destroy(r)
		} else {
			_ = scrub(r)
		}
		delete(live.regions, r)
	}
}

// scrub wipes the data of a region in use without changing its mapping.
func scrub(r *Region) error {
	if err := memcall.Protect(r.inner, memcall.ReadWrite()); err != nil {
		return fmt.Errorf("failed to unprotect region: %w", err)
	}
	r.state = ReadWrite

	memguard.WipeBytes(r.data)
	return nil
}
