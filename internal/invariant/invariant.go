// Package invariant provides the InvariantViolation kind from spec.md
// §7: an assertion failure fatal to the shard that discovers it. Go
// has no exceptions, so a violation is modeled as a panic; the shard's
// supervisor goroutine is the only recover point (spec §9: "treat any
// failure in an event loop as a tagged result propagating to the
// shard's supervisor callback").
package invariant

import "fmt"

// Violation is the panic value Check raises. It carries enough context
// to log a useful message from the shard supervisor's recover site.
type Violation struct {
	Message string
}

func (v Violation) Error() string {
	return "invariant violation: " + v.Message
}

// Check panics with a Violation if cond is false. Callers only use
// this for conditions that must never occur in a correctly verified
// script and a correctly implemented core — e.g. active_sessions
// underflowing, or a range escaping verifier-checked bounds.
func Check(cond bool, format string, args ...any) {
	if cond {
		return
	}
	panic(Violation{Message: fmt.Sprintf(format, args...)})
}
