package session

import (
	"net"
	"sync"
	"time"

	"github.com/loadshear/loadshear/internal/payload"
)

// MaxDatagramSize is 65535 - 8 (IPv4/UDP), per spec §4.4 and
// original_source's UDPSession::MAX_DATAGRAM_SIZE. IPv6 is out of
// scope (spec §9 Open Questions).
const MaxDatagramSize = 65535 - 8

// UDP is the connectionless session variant (spec §4.4): no connect
// phase, reads use a single packet buffer, writes are one
// PreparedPayload per datagram.
type UDP struct {
	index int
	cfg   *Config
	deps  Deps

	conn *net.UDPConn

	state          State
	disconnectOnce sync.Once
	onDisconnect   func(index int)

	readBuf  []byte
	writing  bool
	writeQueue [][]byte
	flood    bool
	writesQueued uint32
	cursor   int
	prepared payload.Prepared

	draining   bool
	drainTimer *time.Timer

	readSampleN, sendSampleN int
	everLive                 bool
}

func NewUDP(index int, cfg *Config, deps Deps, onDisconnect func(index int)) *UDP {
	bufSize := MaxDatagramSize
	if cfg.BodyMax > 0 && int(cfg.BodyMax) < bufSize {
		bufSize = int(cfg.BodyMax)
	}
	return &UDP{
		index:        index,
		cfg:          cfg,
		deps:         deps,
		state:        Idle,
		readBuf:      make([]byte, bufSize),
		onDisconnect: onDisconnect,
	}
}

func (s *UDP) Index() int   { return s.index }
func (s *UDP) State() State { return s.state }

// Start associates the session with a remote endpoint. UDP has no
// connect handshake, so this completes synchronously from the shard's
// point of view — no auxiliary goroutine or event round-trip needed
// (spec §4.4: "start binds/associates the endpoint; no connect
// phase").
func (s *UDP) Start(endpoint any) {
	if s.state != Idle {
		return
	}
	addr, ok := endpoint.(*net.UDPAddr)
	if !ok {
		s.closeSession()
		return
	}

	s.deps.Metrics.RecordConnectionAttempt()

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		s.deps.Metrics.RecordFailedConnection()
		s.closeSession()
		return
	}

	s.conn = conn
	s.everLive = true
	s.state = ReadingBody

	if s.cfg.ReadEnabled {
		s.armRead()
	}
}

func (s *UDP) armRead() {
	started := time.Now()
	conn := s.conn
	buf := s.readBuf
	go func() {
		n, err := conn.Read(buf)
		var got []byte
		if n > 0 {
			got = make([]byte, n)
			copy(got, buf[:n])
		}
		s.deps.Events <- Event{Kind: EventBodyRead, Session: s, Bytes: got, Err: err, StartedAt: started}
	}()
}

func (s *UDP) handleEvent(ev Event) {
	if s.state == Closed {
		return
	}

	switch ev.Kind {
	case EventBodyRead:
		s.handleRead(ev)
	case EventWriteDone:
		s.handleWriteDone(ev)
	case EventClosed:
		s.closeSession()
	}
}

func (s *UDP) handleRead(ev Event) {
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

	resp, err := s.deps.Handler.ParseMessage(nil, ev.Bytes)
	if err == nil && !resp.Empty() {
		s.writeQueue = append(s.writeQueue, resp.Bytes)
		s.tryStartWrite()
	}

	s.armRead()
}

func (s *UDP) nextPayload() (int, bool) {
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

func (s *UDP) Send(copies uint32) {
	s.writesQueued += copies
	s.tryStartWrite()
}

func (s *UDP) Flood() {
	s.flood = true
	s.tryStartWrite()
}

func (s *UDP) tryStartWrite() {
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
		var n int64
		var err error
		for _, b := range buffers {
			var wrote int
			wrote, err = conn.Write(b)
			n += int64(wrote)
			if err != nil {
				break
			}
		}
		s.deps.Events <- Event{Kind: EventWriteDone, Session: s, Err: err, StartedAt: started, Bytes: make([]byte, n)}
	}()
}

func (s *UDP) handleWriteDone(ev Event) {
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

func (s *UDP) maybeFinishDrain() {
	if s.draining && !s.writing && len(s.writeQueue) == 0 {
		s.closeSession()
	}
}

// Drain mirrors TCP.Drain without a half-close, per spec §4.4.
func (s *UDP) Drain(timeout time.Duration) {
	if s.state == Closed || s.draining {
		return
	}
	s.draining = true
	s.flood = false
	s.writesQueued = 0

	s.drainTimer = time.AfterFunc(timeout, func() {
		s.deps.Events <- Event{Kind: EventClosed, Session: s}
	})

	s.maybeFinishDrain()
}

// Stop mirrors TCP.Stop: a never-started (Idle) session was never
// counted into the pool's activeSessions, so it must not fire
// onDisconnect.
func (s *UDP) Stop() {
	if s.state == Idle {
		s.state = Closed
		return
	}
	s.closeSession()
}

func (s *UDP) closeSession() {
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
