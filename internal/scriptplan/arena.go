// Package scriptplan lowers a verified script.Program into the inputs
// the runtime actually consumes: a payload.Manager, a session.Config,
// a broadcast action.Descriptor timeline, and resolved endpoints.
// Grounded on original_source/src/cli/execution-plan.h, which performs
// the equivalent lowering from a parsed AST into the C++ runtime's
// ActionDescriptor/PayloadDescriptor vectors.
package scriptplan

// PacketArena is a pre-sized byte pool that every packet body read
// from disk is copied into once, at plan-build time. It stands in for
// the original's std::pmr::monotonic_buffer_resource: Go has no direct
// arena allocator, so growth here just reallocates and copies forward
// rather than aborting, but --arena-init-mb still sizes the common
// case so a typical plan never reallocates mid-build.
type PacketArena struct {
	buf []byte
}

// NewPacketArena preallocates capacityBytes of backing storage.
func NewPacketArena(capacityBytes int) *PacketArena {
	if capacityBytes < 0 {
		capacityBytes = 0
	}
	return &PacketArena{buf: make([]byte, 0, capacityBytes)}
}

// Copy appends src into the arena and returns the stable slice backing
// it. Slices returned before a growing Copy remain valid: Go's garbage
// collector keeps the old backing array alive as long as any slice
// into it is reachable, so reallocation here never dangles a
// previously returned packet body.
func (a *PacketArena) Copy(src []byte) []byte {
	start := len(a.buf)
	need := start + len(src)

	if cap(a.buf) < need {
		grown := make([]byte, start, need*2)
		copy(grown, a.buf)
		a.buf = grown
	}

	a.buf = a.buf[:need]
	copy(a.buf[start:], src)
	return a.buf[start:need]
}
