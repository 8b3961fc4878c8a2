// Package gcgraph implements a library-level tracing garbage collector.
//
// Managed allocations register their byte intervals with a Graph; owning and
// observing pointer slots register their own storage addresses. A collection
// pass classifies slots as roots or interior purely by address containment,
// traces reachability across the interval index, and hands every unreachable
// allocation to the caller as a Garbage batch whose release runs outside the
// graph's locks.
//
// Addresses are compared as integers throughout; no pointer is ever formed
// from an integer. The import of assume-no-moving-gc pins the assumption that
// heap addresses taken by the factory stay valid.
package gcgraph

import (
	"log"
	"sync"
	"sync/atomic"
	"unsafe"

	_ "go4.org/unsafe/assume-no-moving-gc"

	"github.com/cyclelabs/gcgraph/internal/interval"
	"github.com/cyclelabs/gcgraph/internal/registry"
)

// Graph is the collector: the registry of allocations and live pointer
// slots, and the machinery that traces reachability over them.
//
// Two mutexes protect the shared state: mu guards the range index and the
// allocation table, pmu guards the slot registry. When both are needed they
// are taken jointly, ranges before slots. Mark and sweep run with neither
// held; the collecting flag keeps passes from overlapping.
type Graph struct {
	logger *log.Logger

	mu     sync.Mutex // guards ranges, allocs
	ranges interval.Index
	allocs map[uintptr]*alloc

	pmu       sync.Mutex // guards owning, observing
	owning    registry.List
	observing registry.List

	collecting atomic.Bool
	stats      *stats

	// Per-pass buffers, reserved at construction and cleared but never
	// shrunk between passes.
	rngs []rangeMark
	info []scanRec
	scan []uint32
	keep []uint32
}

// NewGraph constructs an independent collector graph. Passing nil uses
// DefaultConfig.
func NewGraph(cfg *Config) *Graph {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	g := &Graph{
		logger: logger,
		allocs: make(map[uintptr]*alloc),
		stats:  newStats(),
		rngs:   make([]rangeMark, 0, cfg.ReserveRanges),
		info:   make([]scanRec, 0, cfg.ReserveSlots),
		scan:   make([]uint32, 0, cfg.ReserveSlots),
		keep:   make([]uint32, 0, cfg.ReserveSlots),
	}
	g.ranges.Reserve(cfg.ReserveRanges)
	g.owning.Init(registry.Owning)
	g.observing.Init(registry.Observing)
	return g
}

var (
	defaultGraph     *Graph
	defaultGraphOnce sync.Once
)

// Default returns the process-wide graph, lazily constructed on first use
// with DefaultConfig. It is intentionally never torn down: at process exit
// the graph leaks uncollected cycles and orphans surviving slots, because
// teardown order over arbitrary cycles is undefined.
func Default() *Graph {
	defaultGraphOnce.Do(func() {
		defaultGraph = NewGraph(nil)
	})
	return defaultGraph
}

// AddRange registers [p, p+size) as a live managed allocation. Called by
// allocation factories on object construction. The new interval must be
// disjoint from every registered one.
func (g *Graph) AddRange(p unsafe.Pointer, size uintptr) {
	g.mu.Lock()
	g.ranges.Add(uintptr(p), size)
	g.mu.Unlock()
}

// RemoveRange erases the range that begins at p. Called on object
// destruction; removing a range that is not present is a usage error.
func (g *Graph) RemoveRange(p unsafe.Pointer) {
	g.removeRange(uintptr(p))
}

func (g *Graph) removeRange(begin uintptr) {
	g.mu.Lock()
	g.ranges.Remove(begin)
	delete(g.allocs, begin)
	g.mu.Unlock()
}

// adopt registers a graph-owned allocation together with the root slot that
// holds it, under both locks jointly. The pairing matters: a pass snapshots
// under the same joint lock, so it can never observe the fresh range without
// the slot that references it and condemn a just-born object.
func (g *Graph) adopt(a *alloc, n *registry.Node, addr uintptr) {
	g.mu.Lock()
	g.pmu.Lock()
	g.ranges.Add(a.addr, a.size)
	g.allocs[a.addr] = a
	n.Addr = addr
	g.owning.Attach(n)
	g.pmu.Unlock()
	g.mu.Unlock()
	g.stats.attaches.Inc()
}

// AllocatedObjects returns the number of live managed ranges. Informational;
// concurrent mutators may see values that are already stale.
func (g *Graph) AllocatedObjects() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ranges.Len()
}

// AllocatedBytes returns the summed size of all live managed ranges.
func (g *Graph) AllocatedBytes() uintptr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ranges.Bytes()
}

// Slots returns the number of attached owning and observing slots.
func (g *Graph) Slots() (owning, observing int) {
	g.pmu.Lock()
	defer g.pmu.Unlock()
	return g.owning.Len(), g.observing.Len()
}

func (g *Graph) attachOwning(n *registry.Node, addr uintptr) {
	n.Addr = addr
	g.pmu.Lock()
	g.owning.Attach(n)
	g.pmu.Unlock()
	g.stats.attaches.Inc()
}

func (g *Graph) detachOwning(n *registry.Node) {
	g.pmu.Lock()
	g.owning.Detach(n)
	g.pmu.Unlock()
	g.stats.detaches.Inc()
}

func (g *Graph) attachObserving(n *registry.Node, addr uintptr) {
	n.Addr = addr
	g.pmu.Lock()
	g.observing.Attach(n)
	g.pmu.Unlock()
	g.stats.attaches.Inc()
}

func (g *Graph) detachObserving(n *registry.Node) {
	g.pmu.Lock()
	g.observing.Detach(n)
	g.pmu.Unlock()
	g.stats.detaches.Inc()
}

// detachWithin detaches and clears every slot whose storage lies inside
// [begin, end). Runs when the allocation that embeds those slots is
// destroyed.
func (g *Graph) detachWithin(begin, end uintptr) {
	detached := 0
	strip := func(l *registry.List) func(*registry.Node) {
		return func(n *registry.Node) {
			if n.Addr >= begin && n.Addr < end {
				l.Detach(n)
				n.Ref = nil
				n.Target = 0
				detached++
			}
		}
	}

	g.pmu.Lock()
	g.owning.Do(strip(&g.owning))
	g.observing.Do(strip(&g.observing))
	g.pmu.Unlock()

	g.stats.detaches.Add(int64(detached))
}

func (g *Graph) logf(format string, args ...interface{}) {
	g.logger.Printf(format, args...)
}
