package metrics

// cacheLinePad rounds ShardMetrics up to a multiple of a typical
// hardware cache line. Go gives no alignas equivalent for arbitrary
// struct alignment, so this is a best-effort measure: padding the
// struct's *size* to a cache-line multiple means that when shards are
// held as one-per-element in a slice (Orchestrator's usual layout),
// no two shards' hot fields land in the same line even though the
// slice's own base address isn't guaranteed 64-byte aligned.
const cacheLinePad = 72

// Shard is the live-updating metrics sink for one shard. It is written
// only by that shard's single worker goroutine (spec §5: "Metrics
// writes occur only on the owning shard thread"); the orchestrator only
// ever observes it through FetchSnapshot, invoked by the shard itself
// in response to a pull request.
type Shard struct {
	BytesSent uint64
	BytesRead uint64

	ConnectionAttempts  uint64
	FailedConnections   uint64
	FinishedConnections uint64

	ConnectionLatencyBuckets [NumBuckets]uint64
	SendLatencyBuckets       [NumBuckets]uint64
	ReadLatencyBuckets       [NumBuckets]uint64

	// Retransmits and RTTMicrosLast are an optional kernel TCP_INFO
	// enrichment (internal/sockdiag), sampled around connect/drain —
	// absent (zero) on platforms or connections sockdiag can't sample.
	Retransmits   uint64
	RTTMicrosLast uint64

	_ [cacheLinePad]byte
}

// NewShard returns a zeroed shard metrics sink.
func NewShard() *Shard {
	return &Shard{}
}

func (m *Shard) RecordConnectionLatency(latencyUS uint64) {
	m.ConnectionLatencyBuckets[bucketFor(latencyUS)]++
}

func (m *Shard) RecordSendLatency(latencyUS uint64) {
	m.SendLatencyBuckets[bucketFor(latencyUS)]++
}

func (m *Shard) RecordReadLatency(latencyUS uint64) {
	m.ReadLatencyBuckets[bucketFor(latencyUS)]++
}

func (m *Shard) AddBytesSent(n uint64) {
	m.BytesSent += n
}

func (m *Shard) AddBytesRead(n uint64) {
	m.BytesRead += n
}

func (m *Shard) RecordConnectionAttempt() {
	m.ConnectionAttempts++
}

func (m *Shard) RecordFailedConnection() {
	m.FailedConnections++
}

func (m *Shard) RecordFinishedConnection() {
	m.FinishedConnections++
}

// RecordSockDiag folds one TCP_INFO sample into the shard's running
// enrichment: retransmits accumulate (they only ever increase over a
// connection's life), RTT is a last-sample gauge.
func (m *Shard) RecordSockDiag(retransmits uint8, rttMicros uint32) {
	m.Retransmits += uint64(retransmits)
	m.RTTMicrosLast = uint64(rttMicros)
}

// FetchSnapshot copies the current counters into a value-typed
// Snapshot, safe to hand to another goroutine since it no longer
// aliases the shard's live fields. Must be called from the owning
// shard goroutine.
func (m *Shard) FetchSnapshot() Snapshot {
	return Snapshot{
		BytesSent:                m.BytesSent,
		BytesRead:                m.BytesRead,
		ConnectionAttempts:       m.ConnectionAttempts,
		FailedConnections:        m.FailedConnections,
		FinishedConnections:      m.FinishedConnections,
		ConnectionLatencyBuckets: m.ConnectionLatencyBuckets,
		SendLatencyBuckets:       m.SendLatencyBuckets,
		ReadLatencyBuckets:       m.ReadLatencyBuckets,
		Retransmits:              m.Retransmits,
		RTTMicrosLast:            m.RTTMicrosLast,
	}
}

