package gcgraph

// Garbage owns the allocations a collection pass found unreachable, in range
// index order. The caller may release it immediately or defer it off the
// mutator's critical path; until Release runs, the dead objects' memory and
// ranges stay valid (and a second pass will not re-collect them).
type Garbage struct {
	allocs []*alloc
	bytes  uintptr
}

// Len returns the number of objects in the batch.
func (z *Garbage) Len() int {
	return len(z.allocs)
}

// Bytes returns the summed size of the batched allocations.
func (z *Garbage) Bytes() uintptr {
	return z.bytes
}

// Empty reports whether the pass collected nothing.
func (z *Garbage) Empty() bool {
	return len(z.allocs) == 0
}

// Release destroys the batched allocations in order. It must run outside any
// graph lock: destruction re-enters RemoveRange and detach, and those take
// the locks themselves. Release is idempotent.
func (z *Garbage) Release() {
	for _, a := range z.allocs {
		a.destroy()
	}
	z.allocs = nil
	z.bytes = 0
}
