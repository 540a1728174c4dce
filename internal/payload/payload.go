// Package payload implements the zero-copy scatter-gather payload
// assembly described in spec.md §4.1: static packet bytes patched
// in-place with monotonic counters and wall-clock timestamps, shared
// read-only across shards except for the atomic counters.
package payload

import "sync/atomic"

// OpType is the kind of patch applied to one span of a packet.
type OpType uint8

const (
	Identity OpType = iota
	Counter
	Timestamp
)

// TimestampUnit selects the wall-clock resolution written by a
// Timestamp operation.
type TimestampUnit uint8

const (
	Seconds TimestampUnit = iota
	Milliseconds
	Microseconds
	Nanoseconds
)

// MaxModLength is the largest byte span a single modification may
// cover (spec §3: "length ≤ 8").
const MaxModLength = 8

// Op is one entry in a Descriptor's ops list. Length bytes are either
// copied verbatim from the static packet (Identity) or computed fresh
// (Counter, Timestamp).
type Op struct {
	Type         OpType
	Length       uint32
	LittleEndian bool
	Unit         TimestampUnit

	// CounterIndex selects which of the Descriptor's per-payload
	// counters this op fetch-adds. Only meaningful for Type == Counter.
	CounterIndex int
}

// Descriptor describes one catalog packet: its static bytes plus the
// ordered sequence of patches applied on every fill. Sum of op lengths
// must equal len(PacketBytes). scriptplan builds ops that cover the
// packet exactly from verified, non-overlapping modifications;
// Manager.Fill does not re-check the sum.
type Descriptor struct {
	PacketBytes []byte
	Ops         []Op
}

// counterPaddingBytes keeps each AtomicCounter far enough from its neighbours
// that two shards touching adjacent counters for different payloads
// never share a hardware cache line. Most platforms Go targets use
// 64-byte lines; this matches the teacher's alignment intent for its
// own per-connection bookkeeping and the spec's
// "cache-line aligned" PayloadCounter (§3).
const counterPaddingBytes = 64

// AtomicCounter is an atomically incremented u64 shared read-only (its step)
// and read-write (its value) across every shard. It is padded to a
// full cache line so that concurrent fetch-adds on distinct counters
// from different shard goroutines never false-share.
type AtomicCounter struct {
	value uint64
	step  uint32
	_     [counterPaddingBytes - 8 - 4]byte
}

// NewCounter builds a counter with the given step. A step of 0 is
// rejected by the script verifier before any AtomicCounter is constructed.
func NewCounter(step uint32) *AtomicCounter {
	return &AtomicCounter{step: step}
}

// Next atomically fetch-adds step and returns the pre-increment value,
// matching the C++ source's std::memory_order_relaxed fetch_add: the
// first observed value is 0, subsequent values increase monotonically
// by step, and overflow wraps silently.
func (c *AtomicCounter) Next() uint64 {
	return atomic.AddUint64(&c.value, uint64(c.step)) - uint64(c.step)
}

// Slice is one span of a PreparedPayload's gather list: either a
// window into the Descriptor's static PacketBytes, or a window into
// the PreparedPayload's own Temps buffer.
type Slice struct {
	Bytes []byte
}

// Prepared is the concrete byte-gather assembly produced by one call
// to Manager.Fill. Temps MUST be grown to its final capacity before any
// Slice referencing it is recorded, or a later append could reallocate
// and dangle every slice already pushed — this is the one
// non-negotiable invariant of the package (spec §4.1).
type Prepared struct {
	Temps  []byte
	Slices []Slice
}

// Reset clears Slices and Temps while keeping their backing capacity,
// mirroring PreparedPayload::clear() in the original source.
func (p *Prepared) Reset() {
	p.Temps = p.Temps[:0]
	p.Slices = p.Slices[:0]
}

// TotalLen returns the sum of all slice lengths, i.e. the number of
// bytes a gather-write of this Prepared payload would emit.
func (p *Prepared) TotalLen() int {
	n := 0
	for _, s := range p.Slices {
		n += len(s.Bytes)
	}
	return n
}

// Buffers returns the gather list in the shape net.Buffers expects,
// without copying any of the underlying bytes.
func (p *Prepared) Buffers() [][]byte {
	out := make([][]byte, len(p.Slices))
	for i, s := range p.Slices {
		out[i] = s.Bytes
	}
	return out
}
