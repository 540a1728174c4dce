package metrics

import "time"

// Snapshot is a point-in-time copy of a shard's metrics (or the sum of
// several), safe to pass across goroutines.
type Snapshot struct {
	BytesSent uint64
	BytesRead uint64

	ConnectionAttempts  uint64
	FailedConnections   uint64
	FinishedConnections uint64

	// ConnectedSessions is filled in by the shard when it takes the
	// snapshot, since Shard itself has no visibility into the pool's
	// active-session count (spec §4.6: "snapshots plus active_sessions").
	ConnectedSessions uint64

	ConnectionLatencyBuckets [NumBuckets]uint64
	SendLatencyBuckets       [NumBuckets]uint64
	ReadLatencyBuckets       [NumBuckets]uint64

	// Retransmits and RTTMicrosLast mirror Shard's optional TCP_INFO
	// enrichment (internal/sockdiag).
	Retransmits   uint64
	RTTMicrosLast uint64
}

// Add accumulates rhs into s, used when summing snapshots across
// shards.
func (s *Snapshot) Add(rhs Snapshot) {
	s.BytesSent += rhs.BytesSent
	s.BytesRead += rhs.BytesRead
	s.ConnectionAttempts += rhs.ConnectionAttempts
	s.FailedConnections += rhs.FailedConnections
	s.FinishedConnections += rhs.FinishedConnections
	s.ConnectedSessions += rhs.ConnectedSessions
	s.Retransmits += rhs.Retransmits
	// RTTMicrosLast is a gauge, not a counter: summing across shards
	// would produce a meaningless value, so the most recent non-zero
	// sample wins.
	if rhs.RTTMicrosLast != 0 {
		s.RTTMicrosLast = rhs.RTTMicrosLast
	}

	for i := 0; i < NumBuckets; i++ {
		s.ConnectionLatencyBuckets[i] += rhs.ConnectionLatencyBuckets[i]
		s.SendLatencyBuckets[i] += rhs.SendLatencyBuckets[i]
		s.ReadLatencyBuckets[i] += rhs.ReadLatencyBuckets[i]
	}
}

// Delta is the signed difference between two Snapshots. Most fields
// should never go negative, but SIGNED avoids overflow / wraparound if
// they ever do (e.g. connected_sessions while winding down).
type Delta struct {
	BytesSent int64
	BytesRead int64

	ConnectionAttempts  int64
	FailedConnections   int64
	FinishedConnections int64
	ConnectedSessions   int64

	ConnectionLatencyBuckets [NumBuckets]int64
	SendLatencyBuckets       [NumBuckets]int64
	ReadLatencyBuckets       [NumBuckets]int64

	Retransmits int64
}

// ComputeDifference fills d with current - previous.
func (d *Delta) ComputeDifference(current, previous Snapshot) {
	d.BytesSent = int64(current.BytesSent) - int64(previous.BytesSent)
	d.BytesRead = int64(current.BytesRead) - int64(previous.BytesRead)
	d.ConnectionAttempts = int64(current.ConnectionAttempts) - int64(previous.ConnectionAttempts)
	d.FailedConnections = int64(current.FailedConnections) - int64(previous.FailedConnections)
	d.FinishedConnections = int64(current.FinishedConnections) - int64(previous.FinishedConnections)
	d.ConnectedSessions = int64(current.ConnectedSessions) - int64(previous.ConnectedSessions)
	d.Retransmits = int64(current.Retransmits) - int64(previous.Retransmits)

	for i := 0; i < NumBuckets; i++ {
		d.ConnectionLatencyBuckets[i] = int64(current.ConnectionLatencyBuckets[i]) - int64(previous.ConnectionLatencyBuckets[i])
		d.SendLatencyBuckets[i] = int64(current.SendLatencyBuckets[i]) - int64(previous.SendLatencyBuckets[i])
		d.ReadLatencyBuckets[i] = int64(current.ReadLatencyBuckets[i]) - int64(previous.ReadLatencyBuckets[i])
	}
}

// Aggregate holds the latest cross-shard snapshot, its delta from the
// previous sample, the run ID it belongs to, and an offset from
// orchestrator startup — the value delivered to the UI/TUI collaborator
// per spec §6.5.
type Aggregate struct {
	RunID    string
	Current  Snapshot
	Change   Delta
	Offset   time.Duration
}
