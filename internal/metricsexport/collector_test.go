package metricsexport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loadshear/loadshear/internal/metrics"
)

func TestCollectBeforeSetEmitsNothing(t *testing.T) {
	c := New("run-1")

	out := make(chan prometheus.Metric, 64)
	c.Collect(out)
	close(out)

	count := 0
	for range out {
		count++
	}
	if count != 0 {
		t.Errorf("Collect before any Set emitted %d metrics, want 0", count)
	}
}

func TestDescribeEmitsEveryDesc(t *testing.T) {
	c := New("run-1")

	out := make(chan *prometheus.Desc, 64)
	c.Describe(out)
	close(out)

	count := 0
	for range out {
		count++
	}
	if count != 11 {
		t.Errorf("Describe emitted %d descs, want 11", count)
	}
}

func TestCollectAfterSetEmitsCounters(t *testing.T) {
	c := New("run-1")

	var agg metrics.Aggregate
	agg.Current.BytesSent = 1024
	agg.Current.ConnectedSessions = 3
	c.Set(agg)

	out := make(chan prometheus.Metric, 256)
	c.Collect(out)
	close(out)

	count := 0
	for range out {
		count++
	}
	// 8 scalar metrics + 3 histograms * NumBuckets each.
	want := 8 + 3*metrics.NumBuckets
	if count != want {
		t.Errorf("Collect after Set emitted %d metrics, want %d", count, want)
	}
}

func TestBucketLabelBoundaries(t *testing.T) {
	if got := bucketLabel(0); got != "<64us" {
		t.Errorf("bucketLabel(0) = %q, want \"<64us\"", got)
	}
	if got := bucketLabel(metrics.NumBuckets - 1); got != ">=1s" {
		t.Errorf("bucketLabel(last) = %q, want \">=1s\"", got)
	}
}
