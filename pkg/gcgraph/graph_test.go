package gcgraph

import (
	"io"
	"log"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/cyclelabs/gcgraph/internal/debug"
)

func TestMain(m *testing.M) {
	debug.Checks = true
	os.Exit(m.Run())
}

// newTestGraph returns a small, quiet graph for tests.
func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	return NewGraph(&Config{
		ReserveRanges: 1024,
		ReserveSlots:  1024,
		Logger:        log.New(io.Discard, "", 0),
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100_000, cfg.ReserveRanges)
	assert.Equal(t, 100_000, cfg.ReserveSlots)
	assert.NotNil(t, cfg.Logger)
}

func TestNewGraph_NilConfig(t *testing.T) {
	g := NewGraph(nil)

	assert.NotNil(t, g)
	assert.Equal(t, 0, g.AllocatedObjects())
	assert.Equal(t, uintptr(0), g.AllocatedBytes())
}

func TestDefault_Singleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestGraph_AddRemoveRange(t *testing.T) {
	g := newTestGraph(t)

	buf1 := make([]byte, 256)
	buf2 := make([]byte, 512)
	p1 := unsafe.Pointer(&buf1[0])
	p2 := unsafe.Pointer(&buf2[0])

	g.AddRange(p1, 256)
	g.AddRange(p2, 512)
	assert.Equal(t, 2, g.AllocatedObjects())
	assert.Equal(t, uintptr(768), g.AllocatedBytes())

	g.RemoveRange(p1)
	assert.Equal(t, 1, g.AllocatedObjects())
	assert.Equal(t, uintptr(512), g.AllocatedBytes())

	g.RemoveRange(p2)
	assert.Equal(t, 0, g.AllocatedObjects())
}

func TestGraph_RemoveAbsentRangePanics(t *testing.T) {
	g := newTestGraph(t)

	buf := make([]byte, 64)
	assert.Panics(t, func() { g.RemoveRange(unsafe.Pointer(&buf[0])) })
}

// externalBuf backs the externally registered range below. It lives at
// package level so its address stays fixed: a buffer on the test goroutine's
// stack would move when the stack grows during Collect.
var externalBuf [128]byte

func TestGraph_ExternalRangeSurvivesCollection(t *testing.T) {
	g := newTestGraph(t)

	// A range registered directly via AddRange has no graph-owned
	// allocation behind it; its lifecycle belongs to whoever registered it,
	// so a pass must not touch it.
	buf := externalBuf[:]
	g.AddRange(unsafe.Pointer(&buf[0]), 128)

	batch := g.Collect()
	assert.True(t, batch.Empty())
	assert.Equal(t, 1, g.AllocatedObjects())

	g.RemoveRange(unsafe.Pointer(&buf[0]))
}

func TestGraph_SlotCounts(t *testing.T) {
	g := newTestGraph(t)

	p := NewRoot[int](g)
	r := NewRawRoot[int](g)

	owning, observing := g.Slots()
	assert.Equal(t, 1, owning)
	assert.Equal(t, 1, observing)

	p.Detach()
	r.Detach()

	owning, observing = g.Slots()
	assert.Equal(t, 0, owning)
	assert.Equal(t, 0, observing)
}

func TestGraph_StatsCounters(t *testing.T) {
	g := newTestGraph(t)

	p := NewRoot[int](g)
	r := NewRawRoot[int](g)
	p.Detach()
	r.Detach()

	s := g.Stats()
	assert.Equal(t, uint64(2), s.Attaches)
	assert.Equal(t, uint64(2), s.Detaches)
	assert.Equal(t, uint64(0), s.Collections)

	g.Collect()
	s = g.Stats()
	assert.Equal(t, uint64(1), s.Collections)
}

func TestStatsSnapshot_String(t *testing.T) {
	s := StatsSnapshot{
		Attaches:         10,
		Detaches:         4,
		Collections:      2,
		CollectedObjects: 3,
		CollectedBytes:   2048,
	}

	str := s.String()
	assert.Contains(t, str, "attaches: 10")
	assert.Contains(t, str, "collected: 3")
	assert.Contains(t, str, "KB")
}
