// Package metrics exposes pipeline counters and latencies to Prometheus.
//
// Collectors are registered on an explicit registry owned by the caller.
// A nil *Metrics is valid and records nothing, so services and tests can
// run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ragpipe"

// Metrics groups the pipeline collectors.
type Metrics struct {
	documentsFetched *prometheus.CounterVec
	failures         *prometheus.CounterVec
	chunksProduced   prometheus.Counter
	embedBatches     *prometheus.CounterVec
	embedDuration    prometheus.Histogram
	storeReplaces    *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	ingestsInFlight  prometheus.Gauge
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		documentsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_fetched_total",
			Help:      "Raw documents fetched, by source kind.",
		}, []string{"kind"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Per-item ingestion failures, by pipeline stage.",
		}, []string{"stage"}),
		chunksProduced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_produced_total",
			Help:      "Chunks produced by the chunker.",
		}),
		embedBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_total",
			Help:      "Embedding batches, by outcome.",
		}, []string{"outcome"}),
		embedDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_batch_duration_seconds",
			Help:      "Latency of one embedding batch including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		storeReplaces: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_replaces_total",
			Help:      "Atomic source replacements, by outcome.",
		}, []string{"outcome"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Retrieval latency, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		ingestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingests_in_flight",
			Help:      "Ingestion calls currently running.",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// DocumentFetched counts a fetched raw document.
func (m *Metrics) DocumentFetched(kind string) {
	if m == nil {
		return
	}
	m.documentsFetched.WithLabelValues(kind).Inc()
}

// Failure counts a per-item failure.
func (m *Metrics) Failure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

// Chunks counts produced chunks.
func (m *Metrics) Chunks(n int) {
	if m == nil {
		return
	}
	m.chunksProduced.Add(float64(n))
}

// EmbedBatch records one embedding batch.
func (m *Metrics) EmbedBatch(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.embedBatches.WithLabelValues(outcome(err)).Inc()
	m.embedDuration.Observe(d.Seconds())
}

// StoreReplace records one source replacement.
func (m *Metrics) StoreReplace(err error) {
	if m == nil {
		return
	}
	m.storeReplaces.WithLabelValues(outcome(err)).Inc()
}

// Query records one retrieval.
func (m *Metrics) Query(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

// IngestStarted marks an ingestion as running. Call the returned func when done.
func (m *Metrics) IngestStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ingestsInFlight.Inc()
	return m.ingestsInFlight.Dec
}
