// Package debug holds the collector's contract assertions and the switch for
// expensive invariant verification.
package debug

import "fmt"

// Checks enables full-structure invariant verification on mutation paths
// (sortedness and disjointness of the range index after every insert and
// erase). It is off by default; tests turn it on.
var Checks = false

// Assert panics when cond is false. Contract violations by the caller —
// removing an absent range, attaching a slot twice, overlapping ranges — are
// programming bugs, not recoverable conditions, so they surface the same way
// misuse of sync.Mutex does.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic("gcgraph: " + fmt.Sprintf(format, args...))
	}
}
