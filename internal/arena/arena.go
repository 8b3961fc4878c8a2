// Package arena carves fixed-size byte allocations out of a wazero linear
// memory. The collector registers each allocation as a managed range, so the
// arena gives the graph address intervals that live outside the Go heap and
// never move.
package arena

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/cyclelabs/gcgraph/internal/debug"
)

// PageSize is the WebAssembly linear memory page size.
const PageSize = 65536

// allocAlign is the minimum alignment of every arena allocation.
const allocAlign = 8

// HeapError represents arena allocation failures.
type HeapError struct {
	Type    string
	Size    uint32
	Message string
}

func (e *HeapError) Error() string {
	return fmt.Sprintf("arena error [%s]: %s (size=%d)", e.Type, e.Message, e.Size)
}

// Heap is a bump allocator with exact-size free lists over one wazero linear
// memory. The memory is instantiated with min == max pages so the backing
// array is never reallocated; addresses handed out stay valid for the life of
// the heap.
type Heap struct {
	runtime wazero.Runtime
	module  api.Module
	mem     api.Memory

	buf  []byte  // the full linear memory, shared with the module
	base uintptr // address of buf[0]

	mu        sync.Mutex
	brk       uint32              // bump offset
	allocated map[uint32]uint32   // offset -> size of live blocks
	freelists map[uint32][]uint32 // size -> reusable offsets

	allocs atomic.Uint64
	frees  atomic.Uint64
	inUse  atomic.Uint64
}

// NewHeap instantiates a linear memory of the given page count and returns a
// heap over it.
func NewHeap(ctx context.Context, pages uint32) (*Heap, error) {
	if pages == 0 {
		return nil, &HeapError{Type: "config", Message: "page count must be positive"}
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithMemoryCapacityFromMax(true))

	compiled, err := rt.CompileModule(ctx, memoryModule(pages))
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compiling arena module: %w", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("arena"))
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiating arena module: %w", err)
	}

	mem := mod.Memory()
	buf, ok := mem.Read(0, pages*PageSize)
	if !ok {
		rt.Close(ctx)
		return nil, &HeapError{Type: "memory", Message: "linear memory smaller than declared"}
	}

	return &Heap{
		runtime:   rt,
		module:    mod,
		mem:       mem,
		buf:       buf,
		base:      uintptr(unsafe.Pointer(&buf[0])),
		allocated: make(map[uint32]uint32),
		freelists: make(map[uint32][]uint32),
	}, nil
}

// Close releases the backing runtime. All addresses handed out become
// invalid.
func (h *Heap) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Size returns the heap capacity in bytes.
func (h *Heap) Size() uint32 {
	return uint32(len(h.buf))
}

// Base returns the host address of the first byte of the linear memory.
func (h *Heap) Base() uintptr {
	return h.base
}

// Alloc returns a zeroed block of n bytes and the host address of its first
// byte. Blocks are 8-byte aligned.
func (h *Heap) Alloc(n uint32) ([]byte, uintptr, error) {
	if n == 0 {
		return nil, 0, &HeapError{Type: "size", Message: "zero-length allocation"}
	}
	size := (n + allocAlign - 1) &^ uint32(allocAlign-1)

	h.mu.Lock()
	off, ok := h.takeFree(size)
	if !ok {
		if uint64(h.brk)+uint64(size) > uint64(len(h.buf)) {
			h.mu.Unlock()
			return nil, 0, &HeapError{Type: "exhausted", Size: n,
				Message: fmt.Sprintf("heap of %d bytes exhausted", len(h.buf))}
		}
		off = h.brk
		h.brk += size
	}
	h.allocated[off] = size
	h.mu.Unlock()

	h.allocs.Add(1)
	h.inUse.Add(uint64(size))

	block := h.buf[off : off+size : off+size]
	for i := range block {
		block[i] = 0
	}
	return block[:n], h.base + uintptr(off), nil
}

// Free returns the block at addr to the heap. Freeing an address that was not
// handed out by Alloc is a usage error.
func (h *Heap) Free(addr uintptr) {
	debug.Assert(addr >= h.base && addr < h.base+uintptr(len(h.buf)),
		"Free: address 0x%x outside the heap", addr)
	off := uint32(addr - h.base)

	h.mu.Lock()
	size, ok := h.allocated[off]
	debug.Assert(ok, "Free: no live block at offset %d", off)
	delete(h.allocated, off)
	h.freelists[size] = append(h.freelists[size], off)
	h.mu.Unlock()

	h.frees.Add(1)
	h.inUse.Add(^uint64(size - 1))
}

// takeFree pops a reusable block of exactly size bytes, if one exists.
// Callers hold h.mu.
func (h *Heap) takeFree(size uint32) (uint32, bool) {
	list := h.freelists[size]
	if len(list) == 0 {
		return 0, false
	}
	off := list[len(list)-1]
	h.freelists[size] = list[:len(list)-1]
	return off, true
}

// Stats returns allocation statistics.
func (h *Heap) Stats() map[string]uint64 {
	h.mu.Lock()
	live := uint64(len(h.allocated))
	brk := uint64(h.brk)
	h.mu.Unlock()

	return map[string]uint64{
		"allocs":      h.allocs.Load(),
		"frees":       h.frees.Load(),
		"in_use":      h.inUse.Load(),
		"live_blocks": live,
		"brk":         brk,
		"capacity":    uint64(len(h.buf)),
	}
}

// memoryModule encodes a WebAssembly module that declares and exports a
// single linear memory with min == max == pages:
//
//	(module (memory (export "memory") pages pages))
func memoryModule(pages uint32) []byte {
	var limits []byte
	limits = append(limits, 0x01) // min and max present
	limits = appendULEB(limits, pages)
	limits = appendULEB(limits, pages)

	memSection := append([]byte{0x01}, limits...) // one memory

	name := "memory"
	export := []byte{0x01, byte(len(name))} // one export
	export = append(export, name...)
	export = append(export, 0x02, 0x00) // memory index 0

	bin := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	bin = appendSection(bin, 0x05, memSection)
	bin = appendSection(bin, 0x07, export)
	return bin
}

func appendSection(bin []byte, id byte, payload []byte) []byte {
	bin = append(bin, id)
	bin = appendULEB(bin, uint32(len(payload)))
	return append(bin, payload...)
}

func appendULEB(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b = append(b, c|0x80)
			continue
		}
		return append(b, c)
	}
}
