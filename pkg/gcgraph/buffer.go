package gcgraph

import (
	"unsafe"

	"github.com/cyclelabs/gcgraph/internal/arena"
)

// Buffer is a managed flat byte payload. The registered range covers Data
// itself, which lives in an arena linear memory rather than the Go heap, so
// interior raw pointers into the payload attribute to the buffer's range by
// containment. Buffers are leaf objects: they embed no slots.
type Buffer struct {
	Data []byte
}

// Len returns the payload length in bytes.
func (b *Buffer) Len() int {
	return len(b.Data)
}

// NewBuffer allocates a managed buffer of n bytes from h and returns a root
// slot holding it. The block returns to the arena when the collector
// destroys the buffer.
func NewBuffer(g *Graph, h *arena.Heap, n int) (*Ptr[Buffer], error) {
	block, addr, err := h.Alloc(uint32(n))
	if err != nil {
		return nil, err
	}

	b := &Buffer{Data: block}
	a := &alloc{
		graph: g,
		addr:  addr,
		size:  uintptr(n),
		val:   b,
		fin:   func() { h.Free(addr) },
	}

	p := &Ptr[Buffer]{g: g}
	p.node.Ref = a
	p.node.Target = addr
	g.adopt(a, &p.node, uintptr(unsafe.Pointer(p)))
	return p, nil
}
