// Package metricsexport adapts a metrics.Aggregate into a
// prometheus.Collector, the Go analogue of spec.md §6.5's "ordered
// sequence of MetricsAggregate values delivered to the UI
// collaborator" — here the UI is whatever scrapes /metrics. Grounded
// on pkg/exporter/exporter.go's TCPInfoCollector: a mutex-guarded
// snapshot plus a fixed Describe/Collect pair, instead of per-connection
// fd lookups.
package metricsexport

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loadshear/loadshear/internal/metrics"
)

// Collector exposes the latest metrics.Aggregate the orchestrator has
// computed. Set is called from the orchestrator's sampling loop;
// Collect is called from Prometheus's own scrape goroutine, hence the
// mutex — the one place in this module two independent goroutines
// genuinely share mutable state outside a channel.
type Collector struct {
	mu      sync.Mutex
	current metrics.Aggregate
	haveAny bool

	bytesSent      *prometheus.Desc
	bytesRead      *prometheus.Desc
	connAttempts   *prometheus.Desc
	finishedConns  *prometheus.Desc
	failedConns    *prometheus.Desc
	activeSessions *prometheus.Desc
	connectLatency *prometheus.Desc
	sendLatency    *prometheus.Desc
	readLatency    *prometheus.Desc
	retransmits    *prometheus.Desc
	rttLast        *prometheus.Desc
}

// New builds a Collector labeled with the run ID it will report
// against (constLabels, mirroring NewTCPInfoCollector's constLabels
// parameter).
func New(runID string) *Collector {
	constLabels := prometheus.Labels{"run_id": runID}

	return &Collector{
		bytesSent:      prometheus.NewDesc("loadshear_bytes_sent_total", "Total bytes written across all shards.", nil, constLabels),
		bytesRead:      prometheus.NewDesc("loadshear_bytes_read_total", "Total bytes read across all shards.", nil, constLabels),
		connAttempts:   prometheus.NewDesc("loadshear_connection_attempts_total", "Total connection attempts across all shards.", nil, constLabels),
		finishedConns:  prometheus.NewDesc("loadshear_finished_connections_total", "Total sessions that closed after having connected.", nil, constLabels),
		failedConns:    prometheus.NewDesc("loadshear_failed_connections_total", "Total connection attempts that failed.", nil, constLabels),
		activeSessions: prometheus.NewDesc("loadshear_active_sessions", "Sessions that have not yet disconnected.", nil, constLabels),
		connectLatency: prometheus.NewDesc("loadshear_connect_latency_bucket_count", "Connect latency histogram, bucketed per spec §6.5.", []string{"bucket"}, constLabels),
		sendLatency:    prometheus.NewDesc("loadshear_send_latency_bucket_count", "Send latency histogram, bucketed per spec §6.5.", []string{"bucket"}, constLabels),
		readLatency:    prometheus.NewDesc("loadshear_read_latency_bucket_count", "Read latency histogram, bucketed per spec §6.5.", []string{"bucket"}, constLabels),
		retransmits:    prometheus.NewDesc("loadshear_tcp_retransmits_total", "Cumulative TCP_INFO retransmits sampled at connect/drain, across all shards.", nil, constLabels),
		rttLast:        prometheus.NewDesc("loadshear_tcp_rtt_last_microseconds", "Most recent TCP_INFO RTT sample, across all shards.", nil, constLabels),
	}
}

// Set records the latest aggregate, called once per metrics-sample
// interval by the orchestrator.
func (c *Collector) Set(agg metrics.Aggregate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = agg
	c.haveAny = true
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.bytesSent
	descs <- c.bytesRead
	descs <- c.connAttempts
	descs <- c.finishedConns
	descs <- c.failedConns
	descs <- c.activeSessions
	descs <- c.connectLatency
	descs <- c.sendLatency
	descs <- c.readLatency
	descs <- c.retransmits
	descs <- c.rttLast
}

func (c *Collector) Collect(out chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.haveAny {
		return
	}

	snap := c.current.Current

	out <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(snap.BytesSent))
	out <- prometheus.MustNewConstMetric(c.bytesRead, prometheus.CounterValue, float64(snap.BytesRead))
	out <- prometheus.MustNewConstMetric(c.connAttempts, prometheus.CounterValue, float64(snap.ConnectionAttempts))
	out <- prometheus.MustNewConstMetric(c.finishedConns, prometheus.CounterValue, float64(snap.FinishedConnections))
	out <- prometheus.MustNewConstMetric(c.failedConns, prometheus.CounterValue, float64(snap.FailedConnections))
	out <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(snap.ConnectedSessions))
	out <- prometheus.MustNewConstMetric(c.retransmits, prometheus.CounterValue, float64(snap.Retransmits))
	out <- prometheus.MustNewConstMetric(c.rttLast, prometheus.GaugeValue, float64(snap.RTTMicrosLast))

	for i := 0; i < metrics.NumBuckets; i++ {
		label := bucketLabel(i)
		out <- prometheus.MustNewConstMetric(c.connectLatency, prometheus.CounterValue, float64(snap.ConnectionLatencyBuckets[i]), label)
		out <- prometheus.MustNewConstMetric(c.sendLatency, prometheus.CounterValue, float64(snap.SendLatencyBuckets[i]), label)
		out <- prometheus.MustNewConstMetric(c.readLatency, prometheus.CounterValue, float64(snap.ReadLatencyBuckets[i]), label)
	}
}

func bucketLabel(i int) string {
	if i == 0 {
		return "<64us"
	}
	if i == metrics.NumBuckets-1 {
		return ">=1s"
	}
	lo := 1 << uint(6+i-1)
	hi := 1 << uint(6+i)
	return fmt.Sprintf("%d-%dus", lo, hi)
}
