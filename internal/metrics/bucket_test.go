package metrics

import (
	"testing"
	"time"
)

func TestBucketForBoundaries(t *testing.T) {
	cases := []struct {
		us   uint64
		want int
	}{
		{0, 0},
		{63, 0},
		{64, 1},
		{127, 1},
		{128, 2},
		{1 << 20, 15},
		{1 << 30, 15},
	}

	for _, c := range cases {
		if got := bucketFor(c.us); got != c.want {
			t.Errorf("bucketFor(%d) = %d, want %d", c.us, got, c.want)
		}
	}
}

func TestShardSnapshotRoundTrip(t *testing.T) {
	m := NewShard()
	m.AddBytesSent(11)
	m.RecordConnectionAttempt()
	m.RecordConnectionLatency(100)

	snap := m.FetchSnapshot()
	if snap.BytesSent != 11 {
		t.Fatalf("bytes sent = %d", snap.BytesSent)
	}
	if snap.ConnectionLatencyBuckets[1] != 1 {
		t.Fatalf("expected bucket 1 to have one sample, got %v", snap.ConnectionLatencyBuckets)
	}
}

func TestOrchestratorAggregateDelta(t *testing.T) {
	o := NewOrchestrator("run1", time.Now(), 2)

	o.Shards[0].Push(Snapshot{BytesSent: 10})
	o.Shards[1].Push(Snapshot{BytesSent: 20})

	agg := o.AggregateDelta()
	if agg.Current.BytesSent != 30 {
		t.Fatalf("expected 30 bytes total, got %d", agg.Current.BytesSent)
	}

	o.Shards[0].Push(Snapshot{BytesSent: 15})
	o.Shards[1].Push(Snapshot{BytesSent: 25})

	agg = o.AggregateDelta()
	if agg.Current.BytesSent != 40 {
		t.Fatalf("expected 40 bytes total, got %d", agg.Current.BytesSent)
	}
	if agg.Change.BytesSent != 10 {
		t.Fatalf("expected delta of 10 bytes, got %d", agg.Change.BytesSent)
	}
}
