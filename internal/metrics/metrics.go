// Package metrics exports Prometheus metrics for the memory engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the engine's Prometheus instruments.
type Collector struct {
	registry *prometheus.Registry

	ingestDocuments  prometheus.Counter
	ingestChunks     prometheus.Counter
	ingestLatency    prometheus.Histogram
	embeddingLatency prometheus.Histogram

	searchRequests prometheus.Counter
	searchStage    *prometheus.CounterVec
	searchLatency  prometheus.Histogram

	rebuildDuration prometheus.Histogram
	tenantClears    prometheus.Counter
	compactions     prometheus.Counter
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ingestDocuments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "ingest_documents_total",
			Help:      "Documents ingested.",
		}),
		ingestChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "ingest_chunks_total",
			Help:      "Memory chunks written by ingestion.",
		}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recall",
			Name:      "ingest_duration_seconds",
			Help:      "End-to-end ingest latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		embeddingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recall",
			Name:      "embedding_duration_seconds",
			Help:      "Embedding provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		searchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "search_requests_total",
			Help:      "Search requests served.",
		}),
		searchStage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "search_stage_hits_total",
			Help:      "Results contributed per retrieval stage.",
		}, []string{"stage"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recall",
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recall",
			Name:      "index_rebuild_duration_seconds",
			Help:      "Full vector index rebuild duration.",
			Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 900},
		}),
		tenantClears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "tenant_clears_total",
			Help:      "Tenant-scoped deletions performed.",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "index_compactions_total",
			Help:      "Snapshot compactions triggered by tombstone buildup.",
		}),
	}

	c.registry.MustRegister(
		c.ingestDocuments,
		c.ingestChunks,
		c.ingestLatency,
		c.embeddingLatency,
		c.searchRequests,
		c.searchStage,
		c.searchLatency,
		c.rebuildDuration,
		c.tenantClears,
		c.compactions,
	)
	return c
}

func (c *Collector) ObserveIngest(chunks int, d time.Duration) {
	c.ingestDocuments.Inc()
	c.ingestChunks.Add(float64(chunks))
	c.ingestLatency.Observe(d.Seconds())
}

func (c *Collector) ObserveEmbedding(d time.Duration) {
	c.embeddingLatency.Observe(d.Seconds())
}

func (c *Collector) ObserveSearch(d time.Duration) {
	c.searchRequests.Inc()
	c.searchLatency.Observe(d.Seconds())
}

// CountStageHits records how many results a retrieval stage contributed.
func (c *Collector) CountStageHits(stage string, n int) {
	if n > 0 {
		c.searchStage.WithLabelValues(stage).Add(float64(n))
	}
}

func (c *Collector) ObserveRebuild(d time.Duration) {
	c.rebuildDuration.Observe(d.Seconds())
}

func (c *Collector) CountTenantClear() {
	c.tenantClears.Inc()
}

func (c *Collector) CountCompaction() {
	c.compactions.Inc()
}

// Handler serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
