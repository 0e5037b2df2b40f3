// Package metrics exposes the Prometheus counters and gauges named in
// spec.md: verifier_truncated_total, queue depth, and cluster-write
// conflicts, plus article processing latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements ingestion.Metrics on top of standard Prometheus
// client types. The HTTP health endpoint does not read it.
type Collector struct {
	VerifierTruncated prometheus.Counter
	ClusterConflicts  prometheus.Counter
	QueueDepth        prometheus.Gauge
	ArticleLatency    prometheus.Histogram
}

// NewCollector registers the clustering service's metrics on reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test packages.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		VerifierTruncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsclust",
			Subsystem: "verifier",
			Name:      "truncated_total",
			Help:      "Number of articles whose candidate verification was cut short by the wall-clock budget, which only applies once the minimum candidate count has been checked.",
		}),
		ClusterConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsclust",
			Subsystem: "cluster",
			Name:      "write_conflicts_total",
			Help:      "Number of times the Cluster Manager exhausted its optimistic-concurrency retry budget.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "newsclust",
			Subsystem: "ingestion",
			Name:      "queue_depth",
			Help:      "Number of messages waiting to be reserved, the ingestion backpressure signal.",
		}),
		ArticleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsclust",
			Subsystem: "ingestion",
			Name:      "article_seconds",
			Help:      "End-to-end time to fingerprint, recall, verify, and assign one article.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.VerifierTruncated, c.ClusterConflicts, c.QueueDepth, c.ArticleLatency)
	return c
}

func (c *Collector) IncVerifierTruncated()               { c.VerifierTruncated.Inc() }
func (c *Collector) IncClusterConflict()                 { c.ClusterConflicts.Inc() }
func (c *Collector) SetQueueDepth(n int64)                { c.QueueDepth.Set(float64(n)) }
func (c *Collector) ObserveArticleLatency(d time.Duration) { c.ArticleLatency.Observe(d.Seconds()) }
