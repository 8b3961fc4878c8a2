// Package interval maintains the sorted sequence of live allocation ranges
// and answers address containment queries against it.
package interval

import (
	"fmt"
	"sort"

	"github.com/cyclelabs/gcgraph/internal/debug"
)

// Range is a half-open byte interval [Begin, End) naming one managed
// allocation.
type Range struct {
	Begin uintptr
	End   uintptr
}

// Size returns the byte length of the range.
func (r Range) Size() uintptr {
	return r.End - r.Begin
}

func (r Range) String() string {
	return fmt.Sprintf("Range{begin: 0x%x, end: 0x%x, size: %d}", r.Begin, r.End, r.Size())
}

// Index is a sorted, pairwise-disjoint sequence of ranges. Begin addresses
// are unique and strictly increasing. The zero value is ready to use; callers
// serialize access.
type Index struct {
	rs []Range
}

// Reserve pre-allocates capacity for n ranges so that steady-state inserts do
// not grow the backing array.
func (ix *Index) Reserve(n int) {
	if cap(ix.rs) < n {
		rs := make([]Range, len(ix.rs), n)
		copy(rs, ix.rs)
		ix.rs = rs
	}
}

// Add inserts [begin, begin+size) at the position determined by the upper
// bound of begin against existing Begin addresses. The new range must be
// disjoint from every existing one; callers guarantee this.
func (ix *Index) Add(begin, size uintptr) {
	debug.Assert(size > 0, "Add: empty range at 0x%x", begin)
	end := begin + size
	debug.Assert(end > begin, "Add: range at 0x%x wraps the address space", begin)

	i := sort.Search(len(ix.rs), func(i int) bool { return begin < ix.rs[i].Begin })

	ix.rs = append(ix.rs, Range{})
	copy(ix.rs[i+1:], ix.rs[i:])
	ix.rs[i] = Range{Begin: begin, End: end}

	if debug.Checks {
		ix.verify()
	}
}

// Remove erases the range whose Begin equals begin and returns it. Removing a
// range that is not present is a usage error.
func (ix *Index) Remove(begin uintptr) Range {
	i, ok := ix.FindIndex(begin)
	debug.Assert(ok && ix.rs[i].Begin == begin, "Remove: no range begins at 0x%x", begin)

	r := ix.rs[i]
	ix.rs = append(ix.rs[:i], ix.rs[i+1:]...)

	if debug.Checks {
		ix.verify()
	}
	return r
}

// Find returns the range containing addr, if any. The upper bound of the
// containment test is inclusive on purpose: an address equal to a range's End
// still attributes to that range, so that slot storage sitting one past the
// end of an allocation resolves against the correct neighbor.
func (ix *Index) Find(addr uintptr) (Range, bool) {
	i, ok := ix.FindIndex(addr)
	if !ok {
		return Range{}, false
	}
	return ix.rs[i], true
}

// FindIndex is Find returning the position of the containing range instead of
// the range itself.
func (ix *Index) FindIndex(addr uintptr) (int, bool) {
	if addr == 0 || len(ix.rs) == 0 {
		return 0, false
	}

	// Short-circuit against the outermost envelope before searching.
	if addr < ix.rs[0].Begin || addr > ix.rs[len(ix.rs)-1].End {
		return 0, false
	}

	i := sort.Search(len(ix.rs), func(i int) bool { return addr < ix.rs[i].Begin })
	if i == 0 {
		return 0, false
	}
	i--

	if addr >= ix.rs[i].Begin && addr <= ix.rs[i].End {
		return i, true
	}
	return 0, false
}

// Len returns the number of live ranges.
func (ix *Index) Len() int {
	return len(ix.rs)
}

// Bytes returns the summed size of all live ranges.
func (ix *Index) Bytes() uintptr {
	var total uintptr
	for _, r := range ix.rs {
		total += r.Size()
	}
	return total
}

// At returns the i-th range in Begin order.
func (ix *Index) At(i int) Range {
	return ix.rs[i]
}

// AppendTo appends every range in Begin order to dst and returns it. The
// tracer uses this to mirror the index into its per-pass buffer without
// aliasing the live sequence.
func (ix *Index) AppendTo(dst []Range) []Range {
	return append(dst, ix.rs...)
}

// verify checks sortedness and pairwise disjointness of the whole sequence.
func (ix *Index) verify() {
	for i := 1; i < len(ix.rs); i++ {
		prev, cur := ix.rs[i-1], ix.rs[i]
		debug.Assert(prev.Begin < cur.Begin, "index out of order at %d: %v before %v", i, prev, cur)
		debug.Assert(prev.End <= cur.Begin, "overlapping ranges at %d: %v and %v", i, prev, cur)
	}
}
