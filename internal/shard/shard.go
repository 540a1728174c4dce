// Package shard implements the single-threaded event-loop worker from
// spec.md §4.6: owns a session pool, a per-thread message handler
// instance, and a metrics sink; exposes submit_work and
// schedule_metrics_pull. Grounded on
// original_source/src/orchestrator/shard.h, rendered as one goroutine
// per shard draining two channels (work, session I/O completions)
// instead of a boost::asio executor with a work guard.
package shard

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loadshear/loadshear/internal/action"
	"github.com/loadshear/loadshear/internal/handler"
	"github.com/loadshear/loadshear/internal/invariant"
	"github.com/loadshear/loadshear/internal/metrics"
	"github.com/loadshear/loadshear/internal/payload"
	"github.com/loadshear/loadshear/internal/pool"
	"github.com/loadshear/loadshear/internal/session"
)

// ForceStopTimeout is the hard timeout after which a shard's loop is
// stopped regardless of session state (spec §4.6, §5).
const ForceStopTimeout = 30 * time.Second

// NewSession builds one session of the protocol this run targets. The
// CLI wires this to session.NewTCP, the only protocol the verifier
// accepts; session.NewUDP fits the same shape. Shards and pools stay
// generic over the capability, per spec §9.
type NewSession func(index int, cfg *session.Config, deps session.Deps, onDisconnect func(int)) session.Session

type metricsPullRequest struct {
	history *metrics.History
	done    func()
}

// Shard is one event-loop worker. Construct with New, then Start it
// exactly once.
type Shard struct {
	id int

	sessionConfig *session.Config
	endpoints     []net.Addr
	payloads      *payload.Manager
	handlerFactory handler.Factory
	newSession    NewSession

	metrics *metrics.Shard
	pool    *pool.Pool
	log     *logrus.Entry

	workCh        chan action.Descriptor
	eventsCh      chan session.Event
	metricsPullCh chan metricsPullRequest
	stopCh        chan struct{}
	doneCh        chan struct{}

	stopRequested bool
}

// New constructs an idle shard. Nothing runs until Start is called.
func New(id int, sessionConfig *session.Config, endpoints []net.Addr, payloads *payload.Manager, handlerFactory handler.Factory, newSession NewSession, log *logrus.Entry) *Shard {
	return &Shard{
		id:             id,
		sessionConfig:  sessionConfig,
		endpoints:      endpoints,
		payloads:       payloads,
		handlerFactory: handlerFactory,
		newSession:     newSession,
		metrics:        metrics.NewShard(),
		pool:           pool.New(),
		log:            log.WithField("shard", id),

		workCh:        make(chan action.Descriptor, 64),
		eventsCh:      make(chan session.Event, 1024),
		metricsPullCh: make(chan metricsPullRequest, 4),
		stopCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}
}

// Start spawns the shard's single worker goroutine. onShardClosed
// fires exactly once, whether the shard stopped gracefully or a panic
// escaped the loop (spec §4.6: "any exception escaping the event loop
// ... on_shard_closed still fires").
func (s *Shard) Start(onShardClosed func()) {
	go s.run(onShardClosed)
}

func (s *Shard) run(onShardClosed func()) {
	defer close(s.doneCh)
	defer func() {
		if r := recover(); r != nil {
			s.log.Warnf("shard loop terminated by panic: %v", r)
		}
		onShardClosed()
	}()

	handlerInstance, err := s.handlerFactory()
	if err != nil {
		s.log.Errorf("handler factory failed: %v", err)
		return
	}

	deps := session.Deps{
		Payloads: s.payloads,
		Handler:  handlerInstance,
		Metrics:  s.metrics,
		Events:   s.eventsCh,
	}

	factory := func(index int, onDisconnect func(int)) session.Session {
		return s.newSession(index, s.sessionConfig, deps, onDisconnect)
	}

	var forceStopTimer <-chan time.Time
	var poolClosedCh chan struct{}

	for {
		select {
		case a := <-s.workCh:
			s.dispatch(a, factory)

		case ev := <-s.eventsCh:
			session.HandleEvent(ev.Session, ev)

		case req := <-s.metricsPullCh:
			req.history.Push(s.snapshot())
			req.done()

		case <-s.stopCh:
			if s.stopRequested {
				continue
			}
			s.stopRequested = true
			poolClosedCh = make(chan struct{})
			closed := poolClosedCh
			s.pool.Shutdown(func() { close(closed) })
			timer := time.NewTimer(ForceStopTimeout)
			defer timer.Stop()
			forceStopTimer = timer.C

		case <-poolClosedCh:
			return

		case <-forceStopTimer:
			s.log.Warn("shard force-stop timeout elapsed with sessions still active")
			return
		}
	}
}

func (s *Shard) dispatch(a action.Descriptor, factory pool.Factory) {
	switch a.Type {
	case action.Create:
		s.pool.Create(a.Count, factory)
	case action.Connect:
		s.pool.StartRange(s.endpoints, a.SessionsStart, a.SessionsEnd)
	case action.Send:
		s.pool.SendRange(a.SessionsStart, a.SessionsEnd, a.Count)
	case action.Flood:
		s.pool.FloodRange(a.SessionsStart, a.SessionsEnd)
	case action.Drain:
		s.pool.DrainRange(a.SessionsStart, a.SessionsEnd, time.Duration(a.Count)*time.Millisecond)
	case action.Disconnect:
		s.pool.StopRange(a.SessionsStart, a.SessionsEnd)
	default:
		invariant.Check(false, "unknown action type %v", a.Type)
	}
}

func (s *Shard) snapshot() metrics.Snapshot {
	snap := s.metrics.FetchSnapshot()
	snap.ConnectedSessions = uint64(s.pool.ActiveSessions())
	return snap
}

// SubmitWork posts an action onto the shard's work queue. Safe to call
// from any goroutine (the orchestrator's timeline driver).
func (s *Shard) SubmitWork(a action.Descriptor) {
	s.workCh <- a
}

// ScheduleMetricsPull asks the shard to snapshot its metrics plus the
// pool's active session count into history, on the shard's own
// goroutine, then invoke done.
func (s *Shard) ScheduleMetricsPull(history *metrics.History, done func()) {
	s.metricsPullCh <- metricsPullRequest{history: history, done: done}
}

// Stop requests shutdown: idempotent, safe to call more than once.
func (s *Shard) Stop() {
	select {
	case s.stopCh <- struct{}{}:
	default:
	}
}

// Join blocks until the shard's goroutine has exited.
func (s *Shard) Join() {
	<-s.doneCh
}
