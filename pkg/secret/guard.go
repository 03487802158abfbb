package secret

import (
	"github.com/bittensor-lab/pwledger/internal/memory"
	"go.uber.org/zap"
)

// guard is one access window on a Secret. It is created unlocked by
// openRead or openWrite and goes back to no-access on close. Guards never
// leave this package, so nobody can copy one and relock twice.
type guard struct {
	secret *Secret
	region *memory.Region
	level  memory.Protection
	active bool
}

func openRead(s *Secret) *guard {
	return open(s, memory.ReadOnly)
}

func openWrite(s *Secret) *guard {
	return open(s, memory.ReadWrite)
}

func open(s *Secret, level memory.Protection) *guard {
	s.check()

	if s.opts.tracking {
		if s.guards.Add(1) != 1 {
			// Undo while reporting so a recovered DPanic leaves the count balanced.
			s.guards.Add(-1)
			s.opts.logger.DPanic("Overlapping access windows on the same secret",
				zap.Stringer("protection", level))
			s.guards.Add(1)
		}
	}

	g := &guard{secret: s, region: s.region, level: level}

	// An empty Secret has nothing to unlock; its view is empty.
	if g.region != nil {
		if err := s.opts.allocator.Protect(g.region, level); err != nil {
			if s.opts.tracking {
				s.guards.Add(-1)
			}
			s.opts.logger.Fatal("Failed to unlock secret memory",
				zap.Stringer("protection", level),
				zap.Int("size", g.region.Len()),
				zap.Error(err))
			return g
		}
	}
	g.active = true

	if level == memory.ReadOnly {
		s.opts.metrics.WindowOpened("read")
	} else {
		s.opts.metrics.WindowOpened("write")
	}
	return g
}

// view returns exactly Size() bytes of the window's region. Writes through a
// read window fault.
func (g *guard) view() []byte {
	if !g.active || g.region == nil {
		return nil
	}
	return g.region.Bytes()
}

// close relocks unconditionally. Closing twice does nothing.
func (g *guard) close() {
	if !g.active {
		return
	}
	g.active = false

	s := g.secret
	if g.region != nil {
		s.relock(g.region)
	}
	if s.opts.tracking {
		s.guards.Add(-1)
	}
}
