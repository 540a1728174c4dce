package session

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/loadshear/loadshear/internal/handler"
	"github.com/loadshear/loadshear/internal/payload"
	"github.com/loadshear/loadshear/internal/sockdiag"
)

// latencySampleEvery throttles send/read latency bucketing so a
// high-rate flood doesn't contend the shard's hot metrics cache line on
// every single completion (spec §4.3: "Sampling avoids high-rate
// latency updates contending within the shard thread").
const latencySampleEvery = 8

// TCP is the stream session state machine (spec §4.3), grounded on
// original_source/src/transports/tcp-session.h.
type TCP struct {
	index int
	cfg   *Config
	deps  Deps

	conn *net.TCPConn

	state       State
	disconnectOnce sync.Once
	onDisconnect   func(index int)

	headerBuf []byte
	inlineBody [InlineBodyBufferSize]byte
	growableBody []byte

	writing      bool
	writeQueue   [][]byte // response bytes, FIFO, interleaved ahead of payload writes
	flood        bool
	writesQueued uint32
	cursor       int
	prepared     payload.Prepared

	draining   bool
	drainTimer *time.Timer

	connectStarted time.Time
	sendSampleN    int
	readSampleN    int

	everLive bool
}

// NewTCP constructs an idle TCP session. onDisconnect is invoked
// exactly once, when the session reaches Closed.
func NewTCP(index int, cfg *Config, deps Deps, onDisconnect func(index int)) *TCP {
	return &TCP{
		index:     index,
		cfg:       cfg,
		deps:      deps,
		state:     Idle,
		headerBuf: make([]byte, cfg.HeaderSize),
		onDisconnect: onDisconnect,
	}
}

func (s *TCP) Index() int    { return s.index }
func (s *TCP) State() State  { return s.state }

// Start dials endpoint asynchronously; the dial itself runs on an
// auxiliary goroutine and posts EventConnectDone. The dialed conn is
// assigned to s.conn before the event is sent, which happens-before
// the shard loop's corresponding receive — the only safe way for the
// dial goroutine to hand state back without its own lock.
func (s *TCP) Start(endpoint any) {
	if s.state != Idle {
		return
	}
	addr, ok := endpoint.(*net.TCPAddr)
	if !ok {
		s.closeSession()
		return
	}

	s.state = Connecting
	s.deps.Metrics.RecordConnectionAttempt()
	s.connectStarted = time.Now()

	started := s.connectStarted
	go func() {
		conn, err := net.DialTCP("tcp", nil, addr)
		if err == nil {
			s.conn = conn
		}
		s.deps.Events <- Event{Kind: EventConnectDone, Session: s, Err: err, StartedAt: started}
	}()
}

func (s *TCP) handleEvent(ev Event) {
	if s.state == Closed {
		// Stop()/Shutdown() already ran while this completion was in
		// flight from an auxiliary goroutine — a connect that raced in
		// after stop leaks a live socket unless we close it here.
		if ev.Kind == EventConnectDone && ev.Err == nil && s.conn != nil {
			_ = s.conn.Close()
		}
		return
	}

	switch ev.Kind {
	case EventConnectDone:
		s.handleConnectDone(ev)
	case EventHeaderRead:
		s.handleHeaderRead(ev)
	case EventBodyRead:
		s.handleBodyRead(ev)
	case EventWriteDone:
		s.handleWriteDone(ev)
	case EventClosed:
		s.closeSession()
	}
}

func (s *TCP) handleConnectDone(ev Event) {
	latencyUS := bucketLatencyUS(ev.StartedAt)
	s.deps.Metrics.RecordConnectionLatency(latencyUS)

	if ev.Err != nil {
		s.deps.Metrics.RecordFailedConnection()
		s.closeSession()
		return
	}

	s.everLive = true
	s.state = ReadingHeader
	s.sampleSockDiag()

	// Sessions only maintain a read loop when the script enabled it
	// (spec §3 SettingsBlock.read_enabled); a write-only flood against
	// a sink server, as in S1, never arms a read.
	if s.cfg.ReadEnabled {
		s.armHeaderRead()
	}
}

// sampleSockDiag folds one kernel TCP_INFO sample into the shard's
// metrics, an optional enrichment around connect/drain (spec §6.5's
// UI-collaborator metrics get augmented with retransmits/RTT where the
// platform supports it; absent is silently treated as "no enrichment
// available" rather than a session failure).
func (s *TCP) sampleSockDiag() {
	if s.conn == nil {
		return
	}
	info, err := sockdiag.Sample(s.conn)
	if err != nil {
		return
	}
	s.deps.Metrics.RecordSockDiag(info.Retransmits, info.RTTMicros)
}

func (s *TCP) armHeaderRead() {
	if s.cfg.HeaderSize == 0 {
		// No framing configured: treat every read as a fixed-size body
		// read directly, per a degenerate but legal SettingsBlock.
		s.armBodyRead(int(s.cfg.BodyMax))
		return
	}

	started := time.Now()
	conn := s.conn
	buf := s.headerBuf
	go func() {
		_, err := io.ReadFull(conn, buf)
		s.deps.Events <- Event{Kind: EventHeaderRead, Session: s, Err: err, StartedAt: started}
	}()
}

func (s *TCP) handleHeaderRead(ev Event) {
	if ev.Err != nil {
		s.closeSession()
		return
	}

	result := s.deps.Handler.ParseHeader(s.headerBuf)
	if result.Status != handler.StatusOK {
		// A header-parse error only ever happens after the connection
		// reached LIVE (handleConnectDone already set everLive), so
		// this is a finished connection, not a failed one — closeSession
		// records RecordFinishedConnection via wasLive below. Recording
		// both here would double-count and push
		// Σ(finished+failed) above Σ(connection_attempts) (spec §7,
		// invariant 2).
		if !s.everLive {
			s.deps.Metrics.RecordFailedConnection()
		}
		s.closeSession()
		return
	}

	s.armBodyRead(int(result.Length))
}

func (s *TCP) armBodyRead(length int) {
	if length <= 0 {
		s.handleBodyRead(Event{StartedAt: time.Now()})
		return
	}

	var buf []byte
	if length <= InlineBodyBufferSize {
		buf = s.inlineBody[:length]
	} else {
		if cap(s.growableBody) < length {
			s.growableBody = make([]byte, length)
		}
		buf = s.growableBody[:length]
	}

	started := time.Now()
	conn := s.conn
	go func() {
		_, err := io.ReadFull(conn, buf)
		s.deps.Events <- Event{Kind: EventBodyRead, Session: s, Bytes: buf, Err: err, StartedAt: started}
	}()
}

func (s *TCP) handleBodyRead(ev Event) {
	if ev.Err != nil {
		s.closeSession()
		return
	}

	s.deps.Metrics.AddBytesRead(uint64(len(ev.Bytes)))
	s.readSampleN++
	if s.readSampleN >= latencySampleEvery {
		s.readSampleN = 0
		s.deps.Metrics.RecordReadLatency(bucketLatencyUS(ev.StartedAt))
	}

	resp, err := s.deps.Handler.ParseMessage(s.headerBuf, ev.Bytes)
	if err != nil {
		s.closeSession()
		return
	}
	if !resp.Empty() {
		s.writeQueue = append(s.writeQueue, resp.Bytes)
		s.tryStartWrite()
	}

	s.state = ReadingHeader
	s.armHeaderRead()
}

// nextPayload advances the session's sequential cursor over the shared
// send sequence, wrapping if cfg.Repeat, per spec §4.3's flood refill
// rule.
func (s *TCP) nextPayload() (int, bool) {
	if len(s.cfg.Sequence) == 0 {
		return 0, false
	}
	if s.cursor >= len(s.cfg.Sequence) {
		if !s.cfg.Repeat {
			return 0, false
		}
		s.cursor = 0
	}
	idx := s.cfg.Sequence[s.cursor]
	s.cursor++
	return idx, true
}

func (s *TCP) Send(copies uint32) {
	s.writesQueued += copies
	s.tryStartWrite()
}

func (s *TCP) Flood() {
	s.flood = true
	s.tryStartWrite()
}

// tryStartWrite enforces the at-most-one-outstanding-write invariant
// (spec §4.3, §8 property 5): it is a no-op unless s.writing is false.
func (s *TCP) tryStartWrite() {
	if s.writing || s.state == Closed {
		return
	}

	var buffers net.Buffers

	if len(s.writeQueue) > 0 {
		buffers = net.Buffers{s.writeQueue[0]}
		s.writeQueue = s.writeQueue[1:]
	} else if s.writesQueued > 0 {
		idx, ok := s.nextPayload()
		if !ok {
			return
		}
		s.writesQueued--
		s.deps.Payloads.Fill(idx, &s.prepared)
		buffers = s.prepared.Buffers()
	} else if s.flood && !s.draining {
		idx, ok := s.nextPayload()
		if !ok {
			s.flood = false
			s.maybeFinishDrain()
			return
		}
		s.deps.Payloads.Fill(idx, &s.prepared)
		buffers = s.prepared.Buffers()
	} else {
		s.maybeFinishDrain()
		return
	}

	s.writing = true
	started := time.Now()
	conn := s.conn

	go func() {
		n, err := buffers.WriteTo(conn)
		s.deps.Events <- Event{Kind: EventWriteDone, Session: s, Err: err, StartedAt: started, Bytes: make([]byte, n)}
	}()
}

func (s *TCP) handleWriteDone(ev Event) {
	s.writing = false

	if ev.Err != nil {
		s.closeSession()
		return
	}

	s.deps.Metrics.AddBytesSent(uint64(len(ev.Bytes)))
	s.sendSampleN++
	if s.sendSampleN >= latencySampleEvery {
		s.sendSampleN = 0
		s.deps.Metrics.RecordSendLatency(bucketLatencyUS(ev.StartedAt))
	}

	s.tryStartWrite()
}

func (s *TCP) maybeFinishDrain() {
	if s.draining && !s.writing && len(s.writeQueue) == 0 {
		s.closeSession()
	}
}

// Drain disables new flood/explicit writes, lets any in-flight and
// already-queued write finish, and closes either when the queue
// empties or timeout elapses — original_source's drain() body is
// absent; this codifies the grace-period behavior its tests assume
// (spec §9 Open Questions).
func (s *TCP) Drain(timeout time.Duration) {
	if s.state == Closed || s.draining {
		return
	}
	s.draining = true
	s.flood = false
	s.writesQueued = 0
	s.sampleSockDiag()

	s.drainTimer = time.AfterFunc(timeout, func() {
		s.deps.Events <- Event{Kind: EventClosed, Session: s}
	})

	s.maybeFinishDrain()
}

// Stop cancels all pending operations immediately and closes the
// socket without waiting for in-flight writes. A session that was
// never started (still Idle) was never counted into the pool's
// activeSessions, so stopping it must not fire onDisconnect — it
// simply marks itself Closed so a later Stop/Shutdown stays a no-op.
func (s *TCP) Stop() {
	if s.state == Idle {
		s.state = Closed
		return
	}
	s.closeSession()
}

func (s *TCP) closeSession() {
	if s.state == Closed {
		return
	}
	wasLive := s.everLive
	s.state = Closed

	if s.drainTimer != nil {
		s.drainTimer.Stop()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}

	if wasLive {
		s.deps.Metrics.RecordFinishedConnection()
	}

	s.disconnectOnce.Do(func() {
		if s.onDisconnect != nil {
			s.onDisconnect(s.index)
		}
	})
}
