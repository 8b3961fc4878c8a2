package gcgraph

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/puzpuzpuz/xsync/v3"
)

// stats accumulates collector counters. Attach and detach sit on the mutator
// fast path, so those counters are striped rather than single atomics.
type stats struct {
	attaches         *xsync.Counter
	detaches         *xsync.Counter
	collections      *xsync.Counter
	collectedObjects *xsync.Counter
	collectedBytes   *xsync.Counter
	skippedObservers *xsync.Counter

	lastPass atomic.Int64 // nanoseconds of the most recent pass
}

func newStats() *stats {
	return &stats{
		attaches:         xsync.NewCounter(),
		detaches:         xsync.NewCounter(),
		collections:      xsync.NewCounter(),
		collectedObjects: xsync.NewCounter(),
		collectedBytes:   xsync.NewCounter(),
		skippedObservers: xsync.NewCounter(),
	}
}

// StatsSnapshot is a point-in-time copy of the collector counters. Values are
// informational; concurrent mutators may observe them mid-update.
type StatsSnapshot struct {
	Attaches         uint64
	Detaches         uint64
	Collections      uint64
	CollectedObjects uint64
	CollectedBytes   uint64
	SkippedObservers uint64
	LastPass         time.Duration
}

// Stats returns a snapshot of the collector counters.
func (g *Graph) Stats() StatsSnapshot {
	return StatsSnapshot{
		Attaches:         uint64(g.stats.attaches.Value()),
		Detaches:         uint64(g.stats.detaches.Value()),
		Collections:      uint64(g.stats.collections.Value()),
		CollectedObjects: uint64(g.stats.collectedObjects.Value()),
		CollectedBytes:   uint64(g.stats.collectedBytes.Value()),
		SkippedObservers: uint64(g.stats.skippedObservers.Value()),
		LastPass:         time.Duration(g.stats.lastPass.Load()),
	}
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("Stats{attaches: %d, detaches: %d, collections: %d, collected: %d (%s), last pass: %s}",
		s.Attaches, s.Detaches, s.Collections, s.CollectedObjects,
		bytesize.New(float64(s.CollectedBytes)), s.LastPass)
}
