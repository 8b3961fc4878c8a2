// Package registry keeps the intrusive collections of live pointer slots.
//
// Each slot embeds a Node; attaching links the node into the list for its
// kind, detaching unlinks it in O(1). The registry stores back-pointers only:
// nodes are never dereferenced outside the collection critical section and
// the slot lifecycle points.
package registry

import "github.com/cyclelabs/gcgraph/internal/debug"

// Kind distinguishes the two slot collections.
type Kind uint8

const (
	// Owning slots hold a strong reference and keep their referent alive.
	Owning Kind = iota
	// Observing slots hold only a raw address and never keep anything alive.
	Observing
)

func (k Kind) String() string {
	if k == Owning {
		return "owning"
	}
	return "observing"
}

// Node is the intrusive link embedded in every slot.
//
// Addr is the storage address of the slot itself; the tracer classifies the
// slot as root or interior by testing Addr against the range index. Target is
// the referent address (0 when the slot is empty). Ref carries the owning
// slot's allocation handle; it is opaque at this layer.
type Node struct {
	prev, next *Node
	list       *List

	Addr   uintptr
	Target uintptr
	Ref    interface{}
}

// Attached reports whether the node is currently linked into a list.
func (n *Node) Attached() bool {
	return n.list != nil
}

// List is an intrusive doubly-linked list with a sentinel head. The zero
// value must be initialized with Init before use.
type List struct {
	head Node
	n    int
	kind Kind
}

// Init prepares an empty list for the given kind.
func (l *List) Init(kind Kind) {
	l.head.prev = &l.head
	l.head.next = &l.head
	l.n = 0
	l.kind = kind
}

// Kind returns the slot kind this list holds.
func (l *List) Kind() Kind {
	return l.kind
}

// Len returns the number of attached slots.
func (l *List) Len() int {
	return l.n
}

// Attach links n at the back of the list. Attaching a node twice is a usage
// error.
func (l *List) Attach(n *Node) {
	debug.Assert(n.list == nil, "attach: %s slot at 0x%x already attached", l.kind, n.Addr)

	tail := l.head.prev
	tail.next = n
	n.prev = tail
	n.next = &l.head
	l.head.prev = n
	n.list = l
	l.n++
}

// Detach unlinks n. Detaching a node that is not attached to this list is a
// usage error.
func (l *List) Detach(n *Node) {
	debug.Assert(n.list == l, "detach: %s slot at 0x%x not attached here", l.kind, n.Addr)

	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
	n.list = nil
	l.n--
}

// Do calls f for every attached node in attach order. f must not attach or
// detach nodes other than the one it was handed.
func (l *List) Do(f func(*Node)) {
	for n := l.head.next; n != &l.head; {
		next := n.next
		f(n)
		n = next
	}
}
