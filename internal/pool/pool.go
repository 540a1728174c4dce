// Package pool implements SessionPool (spec.md §4.5): the per-shard
// owner of session descriptors, routing range operations and tracking
// active-session accounting. Grounded on
// original_source/src/orchestrator/session-pool.h/.cpp.
package pool

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/loadshear/loadshear/internal/invariant"
	"github.com/loadshear/loadshear/internal/session"
)

// Factory builds one Session at the given index. Supplied by the shard
// so the pool stays generic over {TCP, UDP} (spec §9's "capability set
// with variants").
type Factory func(index int, onDisconnect func(int)) session.Session

// Pool owns every session descriptor for one shard. All methods are
// only ever called from the shard's single event-loop goroutine,
// matching "all called on the shard thread" (spec §4.5).
type Pool struct {
	sessions []session.Session

	// activeSessions is accessed from the shard goroutine only in
	// practice, but kept atomic to make the invariant
	// ("never negative") cheap to assert defensively even if that
	// assumption is ever relaxed.
	activeSessions int64

	closed bool

	onPoolClosed func()
}

// New returns an empty pool; sessions are constructed lazily by
// Create.
func New() *Pool {
	return &Pool{}
}

// Create refuses if the pool is non-empty; otherwise constructs count
// sessions via factory, each wired with a disconnect callback that
// decrements activeSessions exactly once.
func (p *Pool) Create(count uint32, factory Factory) {
	if len(p.sessions) != 0 {
		return
	}

	p.sessions = make([]session.Session, count)
	for i := range p.sessions {
		idx := i
		p.sessions[i] = factory(idx, p.onSessionDisconnect)
	}
}

func (p *Pool) onSessionDisconnect(index int) {
	remaining := atomic.AddInt64(&p.activeSessions, -1)
	invariant.Check(remaining >= 0, "active_sessions underflowed after session %d disconnected", index)

	if p.closed && remaining == 0 && p.onPoolClosed != nil {
		cb := p.onPoolClosed
		p.onPoolClosed = nil
		cb()
	}
}

// ActiveSessions returns the current count of sessions that have not
// yet called their disconnect callback.
func (p *Pool) ActiveSessions() int64 {
	return atomic.LoadInt64(&p.activeSessions)
}

// Len returns the number of session descriptors the pool holds
// (constant for the pool's lifetime once Create has run).
func (p *Pool) Len() int {
	return len(p.sessions)
}

// StartRange begins connecting sessions [a, b) to endpoint, picked
// round-robin from endpoints if more than one is configured.
// activeSessions is incremented by b-a at entry, per spec §4.5's
// invariant, before any session's disconnect callback can possibly
// fire.
func (p *Pool) StartRange(endpoints []net.Addr, a, b uint32) {
	if p.closed || len(endpoints) == 0 {
		return
	}

	atomic.AddInt64(&p.activeSessions, int64(b-a))

	for i := a; i < b; i++ {
		endpoint := endpoints[int(i)%len(endpoints)]
		p.sessions[i].Start(endpoint)
	}
}

func (p *Pool) SendRange(a, b, copies uint32) {
	if p.closed {
		return
	}
	for i := a; i < b; i++ {
		p.sessions[i].Send(copies)
	}
}

func (p *Pool) FloodRange(a, b uint32) {
	if p.closed {
		return
	}
	for i := a; i < b; i++ {
		p.sessions[i].Flood()
	}
}

func (p *Pool) DrainRange(a, b uint32, timeout time.Duration) {
	if p.closed {
		return
	}
	for i := a; i < b; i++ {
		p.sessions[i].Drain(timeout)
	}
}

func (p *Pool) StopRange(a, b uint32) {
	if p.closed {
		return
	}
	for i := a; i < b; i++ {
		p.sessions[i].Stop()
	}
}

// Shutdown is idempotent: it stops every session and, once
// activeSessions reaches zero, invokes onPoolClosed — either
// immediately (if already quiescent) or from the last session's
// disconnect callback.
func (p *Pool) Shutdown(onPoolClosed func()) {
	if p.closed {
		return
	}
	p.closed = true
	p.onPoolClosed = onPoolClosed

	for _, s := range p.sessions {
		s.Stop()
	}

	if atomic.LoadInt64(&p.activeSessions) == 0 && p.onPoolClosed != nil {
		cb := p.onPoolClosed
		p.onPoolClosed = nil
		cb()
	}
}
