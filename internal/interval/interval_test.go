package interval

import (
	"math/rand"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclelabs/gcgraph/internal/debug"
)

func TestMain(m *testing.M) {
	debug.Checks = true
	os.Exit(m.Run())
}

func TestIndex_AddKeepsSortedOrder(t *testing.T) {
	var ix Index

	// Insert out of order; the index must end up sorted by Begin.
	ix.Add(0x3000, 0x100)
	ix.Add(0x1000, 0x100)
	ix.Add(0x2000, 0x100)

	require.Equal(t, 3, ix.Len())
	assert.Equal(t, uintptr(0x1000), ix.At(0).Begin)
	assert.Equal(t, uintptr(0x2000), ix.At(1).Begin)
	assert.Equal(t, uintptr(0x3000), ix.At(2).Begin)
	assert.Equal(t, uintptr(0x300), ix.Bytes())
}

func TestIndex_Find(t *testing.T) {
	var ix Index
	ix.Add(0x1000, 0x100)
	ix.Add(0x3000, 0x100)

	tests := []struct {
		name  string
		addr  uintptr
		want  uintptr // Begin of expected range
		found bool
	}{
		{"null address", 0, 0, false},
		{"before all ranges", 0x800, 0, false},
		{"first byte", 0x1000, 0x1000, true},
		{"interior", 0x1080, 0x1000, true},
		{"exactly at end (inclusive rule)", 0x1100, 0x1000, true},
		{"gap between ranges", 0x2000, 0, false},
		{"second range interior", 0x3050, 0x3000, true},
		{"past everything", 0x4000, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := ix.Find(tt.addr)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, r.Begin)
			}
		})
	}
}

func TestIndex_FindEmptyIndex(t *testing.T) {
	var ix Index
	_, ok := ix.Find(0x1000)
	assert.False(t, ok)
}

func TestIndex_InclusiveEndDoesNotLeakAcrossGap(t *testing.T) {
	var ix Index
	ix.Add(0x1000, 0x100)

	// One past End is still attributed; two past is not.
	_, ok := ix.Find(0x1100)
	assert.True(t, ok)
	_, ok = ix.Find(0x1101)
	assert.False(t, ok)
}

func TestIndex_AdjacentRangesAttributeSharedBoundary(t *testing.T) {
	var ix Index
	ix.Add(0x1000, 0x100)
	ix.Add(0x1100, 0x100)

	// The shared boundary belongs to the later range: upper-bound lands on
	// its Begin first.
	r, ok := ix.Find(0x1100)
	require.True(t, ok)
	assert.Equal(t, uintptr(0x1100), r.Begin)
}

func TestIndex_Remove(t *testing.T) {
	var ix Index
	ix.Add(0x1000, 0x100)
	ix.Add(0x2000, 0x200)
	ix.Add(0x3000, 0x300)

	r := ix.Remove(0x2000)
	assert.Equal(t, uintptr(0x200), r.Size())
	assert.Equal(t, 2, ix.Len())

	_, ok := ix.Find(0x2080)
	assert.False(t, ok)

	// The neighbors are untouched.
	_, ok = ix.Find(0x1080)
	assert.True(t, ok)
	_, ok = ix.Find(0x3080)
	assert.True(t, ok)
}

func TestIndex_RemoveAbsentPanics(t *testing.T) {
	var ix Index
	ix.Add(0x1000, 0x100)

	assert.Panics(t, func() { ix.Remove(0x2000) })
	// An interior address is not a Begin either.
	assert.Panics(t, func() { ix.Remove(0x1010) })
}

func TestIndex_AddEmptyRangePanics(t *testing.T) {
	var ix Index
	assert.Panics(t, func() { ix.Add(0x1000, 0) })
}

func TestIndex_OverlapDetected(t *testing.T) {
	var ix Index
	ix.Add(0x1000, 0x100)

	// Verification runs because debug.Checks is on for this package's tests.
	assert.Panics(t, func() { ix.Add(0x1080, 0x100) })
}

func TestIndex_RandomizedDisjointness(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var ix Index

	// Disjoint 0x100-byte ranges on a 0x200 grid, inserted and removed in
	// random order. verify() asserts sortedness and disjointness after every
	// mutation.
	begins := make([]uintptr, 0, 256)
	for i := 0; i < 256; i++ {
		begins = append(begins, uintptr(0x10000+i*0x200))
	}
	rng.Shuffle(len(begins), func(i, j int) { begins[i], begins[j] = begins[j], begins[i] })

	for _, b := range begins {
		ix.Add(b, 0x100)
	}
	require.Equal(t, 256, ix.Len())

	sorted := sort.SliceIsSorted(begins, func(i, j int) bool { return begins[i] < begins[j] })
	assert.False(t, sorted, "shuffle should have produced an unsorted insert order")

	// Every interior address resolves to its own range and only its own.
	for _, b := range begins {
		r, ok := ix.Find(b + 0x80)
		require.True(t, ok)
		assert.Equal(t, b, r.Begin)
	}

	rng.Shuffle(len(begins), func(i, j int) { begins[i], begins[j] = begins[j], begins[i] })
	for _, b := range begins {
		ix.Remove(b)
	}
	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, uintptr(0), ix.Bytes())
}

func TestIndex_Reserve(t *testing.T) {
	var ix Index
	ix.Add(0x1000, 0x100)
	ix.Reserve(1024)

	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, uintptr(0x1000), ix.At(0).Begin)
}

func TestRange_String(t *testing.T) {
	r := Range{Begin: 0x1000, End: 0x1100}
	s := r.String()
	assert.Contains(t, s, "0x1000")
	assert.Contains(t, s, "0x1100")
	assert.Contains(t, s, "256")
}
