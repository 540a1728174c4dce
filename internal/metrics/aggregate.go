package metrics

import "time"

// History is one shard's append-only sequence of snapshots. Kept as
// its own type (rather than a bare slice) so each shard's history list
// can be given its own backing array up front via Reserve, matching the
// SnapshotList::reserve pattern in the original source.
type History struct {
	snapshots []Snapshot
}

// Reserve pre-sizes the backing array to avoid reallocation during a
// long-running sampling loop.
func (h *History) Reserve(n int) {
	if cap(h.snapshots) < n {
		grown := make([]Snapshot, len(h.snapshots), n)
		copy(grown, h.snapshots)
		h.snapshots = grown
	}
}

func (h *History) Push(s Snapshot) {
	h.snapshots = append(h.snapshots, s)
}

func (h *History) Len() int {
	return len(h.snapshots)
}

func (h *History) At(i int) Snapshot {
	return h.snapshots[i]
}

// Orchestrator accumulates one History per shard and derives the
// cross-shard Aggregate on demand.
type Orchestrator struct {
	RunID    string
	Start    time.Time
	Shards   []*History
}

// NewOrchestrator allocates n per-shard histories.
func NewOrchestrator(runID string, start time.Time, shardCount int) *Orchestrator {
	o := &Orchestrator{RunID: runID, Start: start, Shards: make([]*History, shardCount)}
	for i := range o.Shards {
		o.Shards[i] = &History{}
	}
	return o
}

// AggregateDelta sums the latest snapshot across all shards and the
// previous one, then returns both as one Aggregate, mirroring
// OrchestratorMetrics::get_aggregate_delta.
func (o *Orchestrator) AggregateDelta() Aggregate {
	var current, previous Snapshot

	for _, h := range o.Shards {
		n := h.Len()
		if n == 0 {
			continue
		}

		current.Add(h.At(n - 1))

		if n >= 2 {
			previous.Add(h.At(n - 2))
		}
	}

	var agg Aggregate
	agg.RunID = o.RunID
	agg.Current = current
	agg.Change.ComputeDifference(current, previous)
	agg.Offset = time.Since(o.Start)

	return agg
}
