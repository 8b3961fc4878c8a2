package gcgraph

import (
	"reflect"
	"unsafe"

	"github.com/cyclelabs/gcgraph/internal/debug"
	"github.com/cyclelabs/gcgraph/internal/registry"
)

// Ptr is an owning pointer slot: a storage location holding a strong
// reference to a managed object. While any owning slot transitively reachable
// from a root targets the object, it survives collection.
//
// A Ptr registers its own storage address with the graph, so it must never
// be copied by value; create roots with New or NewRoot and embed Ptr fields
// directly in managed structs (the factory attaches them). Slots stored
// behind slices or maps are not registered and do not participate in
// tracing.
//
// Reads and writes through slots must not race with a collection that could
// condemn their referent; mutators are quiescent with respect to their own
// unreachable subgraph during a pass.
type Ptr[T any] struct {
	g    *Graph
	node registry.Node
}

// New allocates a managed T, registers its byte interval and every slot
// embedded in it, and returns a fresh root slot holding it. Zero-size types
// cannot be managed: every allocation needs a nonempty interval.
func New[T any](g *Graph) *Ptr[T] {
	obj := new(T)
	size := unsafe.Sizeof(*obj)
	debug.Assert(size > 0, "New: cannot manage zero-size type %v", reflect.TypeOf(obj).Elem())

	a := &alloc{
		graph: g,
		addr:  uintptr(unsafe.Pointer(obj)),
		size:  size,
		val:   obj,
	}

	p := &Ptr[T]{g: g}
	p.node.Ref = a
	p.node.Target = a.addr
	g.adopt(a, &p.node, uintptr(unsafe.Pointer(p)))

	attachEmbedded(g, reflect.ValueOf(obj).Elem())
	return p
}

// NewRoot returns an empty owning slot pinned on the heap, so its storage
// address is stable and outside every managed range.
func NewRoot[T any](g *Graph) *Ptr[T] {
	p := &Ptr[T]{g: g}
	g.attachOwning(&p.node, uintptr(unsafe.Pointer(p)))
	return p
}

// Get returns the referent, or nil when the slot is empty.
func (p *Ptr[T]) Get() *T {
	a, ok := p.node.Ref.(*alloc)
	if !ok || a.val == nil {
		return nil
	}
	return a.val.(*T)
}

// Set makes p hold the same referent as q. A nil q clears the slot.
func (p *Ptr[T]) Set(q *Ptr[T]) {
	if q == nil {
		p.Clear()
		return
	}
	p.node.Ref = q.node.Ref
	p.node.Target = q.node.Target
}

// Clear empties the slot. The referent stays alive until a collection finds
// it unreachable.
func (p *Ptr[T]) Clear() {
	p.node.Ref = nil
	p.node.Target = 0
}

// Detach removes the slot from the registry and empties it. A root slot
// going out of use must detach exactly once before its storage is reused;
// slots embedded in managed objects are detached by the collector when their
// object is destroyed.
func (p *Ptr[T]) Detach() {
	p.g.detachOwning(&p.node)
	p.node.Ref = nil
	p.node.Target = 0
}

// MoveTo transfers the slot's contents to dst and empties p. Moving a slot
// to new storage is modeled as detach at the old address plus attach at the
// new one; dst is the already-attached new storage.
func (p *Ptr[T]) MoveTo(dst *Ptr[T]) {
	dst.node.Ref = p.node.Ref
	dst.node.Target = p.node.Target
	p.Detach()
}

// Raw is an observing pointer slot: it holds only an address and never keeps
// its referent alive. It participates in tracing solely because its own
// storage address may route reachability. Dereferencing a Raw after its
// referent has been collected is a usage error by contract.
type Raw[T any] struct {
	g    *Graph
	node registry.Node
	obj  *T
}

// NewRawRoot returns an empty observing slot pinned on the heap.
func NewRawRoot[T any](g *Graph) *Raw[T] {
	r := &Raw[T]{g: g}
	g.attachObserving(&r.node, uintptr(unsafe.Pointer(r)))
	return r
}

// Get returns the observed object. The address may dangle once the referent
// has been collected; the caller guarantees it has not been.
func (r *Raw[T]) Get() *T {
	return r.obj
}

// Set points the slot at p's referent.
func (r *Raw[T]) Set(p *Ptr[T]) {
	if p == nil {
		r.Clear()
		return
	}
	r.obj = p.Get()
	r.node.Target = p.node.Target
}

// SetRaw points the slot at the same address as o.
func (r *Raw[T]) SetRaw(o *Raw[T]) {
	if o == nil {
		r.Clear()
		return
	}
	r.obj = o.obj
	r.node.Target = o.node.Target
}

// SetInterior points the slot off bytes into p's referent. The address stays
// attributed to the referent's range by containment.
func (r *Raw[T]) SetInterior(p *Ptr[T], off uintptr) {
	a, ok := p.node.Ref.(*alloc)
	debug.Assert(ok, "SetInterior: empty owning slot")
	debug.Assert(off <= a.size, "SetInterior: offset %d beyond allocation of %d bytes", off, a.size)
	r.obj = p.Get()
	r.node.Target = p.node.Target + off
}

// Clear empties the slot.
func (r *Raw[T]) Clear() {
	r.obj = nil
	r.node.Target = 0
}

// Detach removes the slot from the registry and empties it.
func (r *Raw[T]) Detach() {
	r.g.detachObserving(&r.node)
	r.obj = nil
	r.node.Target = 0
}

// embeddedSlot is implemented by the slot types; the factory uses it to
// attach slots found inside freshly allocated objects.
type embeddedSlot interface {
	attachAt(g *Graph, addr uintptr)
}

func (p *Ptr[T]) attachAt(g *Graph, addr uintptr) {
	p.g = g
	g.attachOwning(&p.node, addr)
}

func (r *Raw[T]) attachAt(g *Graph, addr uintptr) {
	r.g = g
	g.attachObserving(&r.node, addr)
}

// attachEmbedded walks the fields of a freshly allocated object and attaches
// every slot it embeds, directly or inside nested structs and arrays. The
// walk takes field addresses through reflect, so unexported fields attach
// the same as exported ones.
func attachEmbedded(g *Graph, v reflect.Value) {
	switch v.Kind() {
	case reflect.Struct:
		addr := unsafe.Pointer(v.UnsafeAddr())
		if s, ok := reflect.NewAt(v.Type(), addr).Interface().(embeddedSlot); ok {
			s.attachAt(g, uintptr(addr))
			return
		}
		for i := 0; i < v.NumField(); i++ {
			attachEmbedded(g, v.Field(i))
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			attachEmbedded(g, v.Index(i))
		}
	}
}
