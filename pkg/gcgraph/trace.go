package gcgraph

import (
	"time"

	"github.com/inhies/go-bytesize"

	"github.com/cyclelabs/gcgraph/internal/debug"
	"github.com/cyclelabs/gcgraph/internal/registry"
)

// rangeMark mirrors one index entry for the duration of a pass. managed
// records that at least one owning slot targets the range; scanned records
// that the range's interior has already been folded into the keep set; kept
// records that a kept owning slot targets the range, which is what lets its
// object survive the sweep.
type rangeMark struct {
	begin   uintptr
	end     uintptr
	a       *alloc
	managed bool
	scanned bool
	kept    bool
}

// scanRec pairs a registered slot with the index of the range its referent
// lies in. owning carries the slot kind into the sweep.
type scanRec struct {
	node   *registry.Node
	rng    int32
	owning bool
}

// Collect runs a single full trace and returns the unreachable allocations
// as a Garbage batch.
//
// The snapshot is built under both mutexes taken jointly, so no slot or
// range mutates while the pass captures its view. Mark and sweep then run
// with no lock held; this is safe because the snapshot is consistent and
// because only the returned batch can free allocations. Re-entry while a
// pass is in progress returns an empty batch without blocking.
func (g *Graph) Collect() *Garbage {
	if !g.collecting.CompareAndSwap(false, true) {
		g.logf("collection already in progress")
		return &Garbage{}
	}

	start := time.Now()

	g.snapshot()
	g.mark()
	batch := g.sweep()

	g.rngs = g.rngs[:0]
	g.info = g.info[:0]
	g.scan = g.scan[:0]
	g.keep = g.keep[:0]

	g.collecting.Store(false)

	elapsed := time.Since(start)
	g.stats.collections.Inc()
	g.stats.collectedObjects.Add(int64(batch.Len()))
	g.stats.collectedBytes.Add(int64(batch.Bytes()))
	g.stats.lastPass.Store(int64(elapsed))
	g.logf("collected %d objects (%s) in %s",
		batch.Len(), bytesize.New(float64(batch.Bytes())), elapsed)

	return batch
}

// snapshot builds the per-pass arrays under the joint range+slot lock: a
// mirror of every range, a scan record for every slot that participates in
// this pass, and the initial keep/scan split by root classification. A slot
// is a root iff its own storage address is outside every range.
func (g *Graph) snapshot() {
	g.mu.Lock()
	g.pmu.Lock()
	defer g.pmu.Unlock()
	defer g.mu.Unlock()

	for i, n := 0, g.ranges.Len(); i < n; i++ {
		r := g.ranges.At(i)
		g.rngs = append(g.rngs, rangeMark{begin: r.Begin, end: r.End, a: g.allocs[r.Begin]})
	}

	g.owning.Do(func(n *registry.Node) {
		if n.Ref == nil {
			// Empty owning slot; nothing to trace through it.
			return
		}
		ri, ok := g.ranges.FindIndex(n.Target)
		debug.Assert(ok, "owning slot at 0x%x targets 0x%x outside every range", n.Addr, n.Target)
		g.rngs[ri].managed = true
		g.record(n, int32(ri), true)
	})

	g.observing.Do(func(n *registry.Node) {
		if n.Target == 0 {
			return
		}
		ri, ok := g.ranges.FindIndex(n.Target)
		if !ok {
			// Dangling or external referent; the slot routes nothing.
			g.stats.skippedObservers.Inc()
			return
		}
		g.record(n, int32(ri), false)
	})
}

// record appends a scan record for n and classifies it: roots seed the keep
// set, interior slots wait in the scan set. Callers hold both locks.
func (g *Graph) record(n *registry.Node, rng int32, owning bool) {
	idx := uint32(len(g.info))
	g.info = append(g.info, scanRec{node: n, rng: rng, owning: owning})

	if _, interior := g.ranges.FindIndex(n.Addr); interior {
		g.scan = append(g.scan, idx)
	} else {
		g.keep = append(g.keep, idx)
	}
}

// mark grows the keep set to a fixed point. For each kept record whose
// target range has not been expanded yet, every waiting record stored inside
// that range moves to the keep set; the range is then marked scanned so
// additional roots into it do not re-walk the scan set. Removal from scan is
// swap-and-pop; its order is immaterial.
func (g *Graph) mark() {
	for i := 0; i < len(g.keep); i++ {
		parent := &g.info[g.keep[i]]
		pr := &g.rngs[parent.rng]
		if pr.scanned {
			continue
		}

		for j := 0; j < len(g.scan); {
			rec := &g.info[g.scan[j]]
			addr := rec.node.Addr
			if addr >= pr.begin && addr < pr.end {
				g.keep = append(g.keep, g.scan[j])
				g.scan[j] = g.scan[len(g.scan)-1]
				g.scan = g.scan[:len(g.scan)-1]
			} else {
				j++
			}
		}

		pr.scanned = true
	}
}

// sweep condemns every graph-owned range that no kept owning record targets
// and batches it for destruction. An allocation already condemned by an
// earlier, unreleased batch is skipped, so an immediate second pass returns
// empty.
func (g *Graph) sweep() *Garbage {
	for _, idx := range g.keep {
		rec := g.info[idx]
		if rec.owning {
			g.rngs[rec.rng].kept = true
		}
	}

	batch := &Garbage{}
	for i := range g.rngs {
		rm := &g.rngs[i]
		if debug.Checks {
			debug.Assert(!rm.kept || rm.managed,
				"range [0x%x, 0x%x) kept alive but never marked managed",
				rm.begin, rm.end)
		}
		if rm.kept || rm.a == nil {
			// Reachable, or externally owned: its lifecycle is not ours.
			continue
		}
		if rm.a.condemn() {
			batch.allocs = append(batch.allocs, rm.a)
			batch.bytes += rm.a.size
		}
	}
	return batch
}
