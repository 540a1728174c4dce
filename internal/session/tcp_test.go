package session

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loadshear/loadshear/internal/handler"
	"github.com/loadshear/loadshear/internal/metrics"
	"github.com/loadshear/loadshear/internal/payload"
)

// startSink runs a TCP server that discards everything it reads and
// counts total bytes received, the same role as the sink server in S1
// (spec §8).
func startSink(t *testing.T) (addr *net.TCPAddr, received *int64, closeFn func()) {
	t.Helper()

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var total int64
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					atomic.AddInt64(&total, int64(n))
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr), &total, func() { ln.Close() }
}

// TestTCPFloodSingleShard is S1 from spec.md §8: CREATE 50; CONNECT
// 0:50; FLOOD 0:50; DRAIN 0:50 TIMEOUT 10000ms; DISCONNECT 0:50,
// scaled down to a handful of sessions for test speed, with repeat
// disabled so flooding sends the single-variant packet exactly once
// per session.
func TestTCPFloodSingleShard(t *testing.T) {
	addr, received, closeSink := startSink(t)
	defer closeSink()

	packet := []byte("Hello world") // 11 bytes, matches S1's fixture.
	mgr := payload.NewManager([]payload.Descriptor{
		{PacketBytes: packet, Ops: []payload.Op{{Type: payload.Identity, Length: uint32(len(packet))}}},
	}, [][]uint32{{}})

	const sessionCount = 5
	shardMetrics := metrics.NewShard()

	cfg := &Config{
		HeaderSize: 0,
		ReadEnabled: false,
		Repeat:      false,
		Sequence:    []int{0},
	}

	events := make(chan Event, 256)
	deps := Deps{Payloads: mgr, Handler: handler.NOP{}, Metrics: shardMetrics, Events: events}

	var disconnectCount int32
	sessions := make([]*TCP, sessionCount)
	for i := range sessions {
		idx := i
		sessions[i] = NewTCP(idx, cfg, deps, func(int) { atomic.AddInt32(&disconnectCount, 1) })
	}

	for _, s := range sessions {
		s.Start(addr)
	}

	deadline := time.After(5 * time.Second)
	connected := 0
	for connected < sessionCount {
		select {
		case ev := <-events:
			HandleEvent(ev.Session, ev)
			if ev.Kind == EventConnectDone && ev.Err == nil {
				connected++
			}
		case <-deadline:
			t.Fatalf("timed out waiting for connects, got %d/%d", connected, sessionCount)
		}
	}

	for _, s := range sessions {
		s.Flood()
	}

	for _, s := range sessions {
		s.Drain(2 * time.Second)
	}

	deadline = time.After(5 * time.Second)
	for atomic.LoadInt32(&disconnectCount) < sessionCount {
		select {
		case ev := <-events:
			HandleEvent(ev.Session, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for disconnects, got %d/%d", disconnectCount, sessionCount)
		}
	}

	// Drain any trailing write-completion events so the sink has a
	// chance to observe every byte before we assert the total.
	time.Sleep(200 * time.Millisecond)

	want := int64(len(packet) * sessionCount)
	got := atomic.LoadInt64(received)
	if got != want {
		t.Errorf("sink received %d bytes, want %d", got, want)
	}
}
