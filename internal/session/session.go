// Package session implements the per-connection state machines from
// spec.md §4.3/§4.4: TCPSession (stream, full read/write pipeline) and
// UDPSession (connectionless). Both are grounded on
// original_source/src/transports/{tcp,udp}-session.h, adapted from
// boost::asio's callback model onto Go's blocking-I/O-plus-fan-in
// idiom: each session spawns its own reader/writer goroutines that do
// nothing but perform blocking syscalls and post raw completions onto
// a single channel; all business logic (framing, handler invocation,
// metrics, queue bookkeeping) runs exclusively on the shard's one
// event-loop goroutine that drains that channel — the Go rendition of
// the "strand" (spec §4.3: "handlers for the same session never run
// concurrently").
package session

import (
	"time"

	"github.com/loadshear/loadshear/internal/handler"
	"github.com/loadshear/loadshear/internal/metrics"
	"github.com/loadshear/loadshear/internal/payload"
)

// State is a session's position in the state machine diagrammed in
// spec §4.3.
type State uint8

const (
	Idle State = iota
	Connecting
	ReadingHeader
	ReadingBody
	Draining
	Closed
)

// InlineBodyBufferSize is the inline ring-buffer size for small
// message bodies before falling back to a growable buffer, fixed by
// original_source/src/transports/tcp-session.h's MESSAGE_BUFFER_SIZE.
const InlineBodyBufferSize = 4 * 1024

// Config is the immutable per-session configuration shared by every
// session a pool creates, mirroring SessionConfig in the original
// source.
type Config struct {
	HeaderSize  uint32
	BodyMax     uint32
	ReadEnabled bool

	// Repeat controls whether a session's payload cursor wraps back to
	// the start of Sequence once exhausted (spec §4.3 "wrapping if
	// repeat").
	Repeat bool

	// Sequence is the ordered list of payload-catalog indices a
	// session draws from for both SEND and FLOOD writes, built once at
	// plan time (internal/scriptplan) by concatenating every SEND
	// action's packet variant (COPIES-many times) in script order. A
	// script with no SEND action at all (a bare FLOOD) falls back to
	// one entry per catalog packet, since FLOOD itself names no packet
	// in the DSL. original_source's ActionDescriptor carries no payload
	// index, so payload selection is this per-session sequential
	// cursor (next_payload_index_ in tcp-session.h), not a runtime
	// parameter.
	Sequence []int

	DrainDefaultTimeout time.Duration
}

// EventKind distinguishes the raw I/O completions a session's auxiliary
// goroutines post back to the shard loop.
type EventKind uint8

const (
	EventConnectDone EventKind = iota
	EventHeaderRead
	EventBodyRead
	EventWriteDone
	EventClosed
)

// Event is one raw I/O completion, carrying just enough for the shard
// loop to advance the originating session's state machine. No business
// logic runs in the goroutine that produces an Event.
type Event struct {
	Kind    EventKind
	Session Session
	Bytes   []byte
	Err     error
	// StartedAt is when the corresponding operation began, used to
	// compute latency at the point the event is processed.
	StartedAt time.Time
}

// Deps bundles the shared, read-only (or atomically-mutated)
// collaborators every session needs: the payload catalog, the
// per-shard message handler instance, and the shard's metrics sink.
type Deps struct {
	Payloads *payload.Manager
	Handler  handler.Handler
	Metrics  *metrics.Shard
	Events   chan<- Event
}

// Session is the capability set pool and shard operate over — the
// Go rendition of spec §9's note that template specialization on
// session type becomes "a capability set with variants {TCPSession,
// UDPSession}" in a language without templates.
type Session interface {
	Index() int
	State() State

	// Start begins connecting (TCP) or associating (UDP) to an
	// endpoint. Idempotent past the first call from Idle.
	Start(endpoint any)

	Send(copies uint32)
	Flood()
	Drain(timeout time.Duration)
	Stop()

	// handleEvent advances the state machine in response to one Event
	// previously produced by this session's own goroutines. Called
	// only from the shard's event-loop goroutine.
	handleEvent(ev Event)
}

// HandleEvent is the shard-loop-facing entry point, since Session's own
// handleEvent is unexported (package-private dispatch, public surface
// for pool/shard is the exported methods above).
func HandleEvent(s Session, ev Event) {
	s.handleEvent(ev)
}

func bucketLatencyUS(since time.Time) uint64 {
	d := time.Since(since)
	if d <= 0 {
		return 0
	}
	return uint64(d.Microseconds())
}
