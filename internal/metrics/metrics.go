// Package metrics exposes ingestion measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ingest"

const (
	MetricRuns           = "runs_total"
	MetricChunks         = "chunks_total"
	MetricChunkRetries   = "chunk_retries_total"
	MetricChunkDuration  = "chunk_duration_seconds"
	MetricChunksInFlight = "chunks_in_flight"
	MetricRecords        = "records_total"
)

// Ingest implements ingest.Observer on its own registry so several
// orchestrators (or tests) never collide on the global one.
type Ingest struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	chunks        *prometheus.CounterVec
	chunkRetries  prometheus.Counter
	chunkDuration prometheus.Histogram
	inFlight      prometheus.Gauge
	records       *prometheus.CounterVec
}

func New() *Ingest {
	m := &Ingest{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRuns,
			Help:      "Finished ingestion runs by terminal status.",
		}, []string{"status"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricChunks,
			Help:      "Chunks settled by outcome.",
		}, []string{"outcome"}),
		chunkRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricChunkRetries,
			Help:      "Chunk attempts that were retried.",
		}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricChunkDuration,
			Help:      "Wall time from chunk admission to settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricChunksInFlight,
			Help:      "Chunks currently being processed.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRecords,
			Help:      "Records settled by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.runs,
		m.chunks,
		m.chunkRetries,
		m.chunkDuration,
		m.inFlight,
		m.records,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Ingest) ChunkStarted() {
	m.inFlight.Inc()
}

func (m *Ingest) ChunkFinished(outcome string, d time.Duration) {
	m.inFlight.Dec()
	m.chunks.WithLabelValues(outcome).Inc()
	m.chunkDuration.Observe(d.Seconds())
}

func (m *Ingest) ChunkRetried() {
	m.chunkRetries.Inc()
}

func (m *Ingest) RecordsSettled(processed, failed int) {
	if processed > 0 {
		m.records.WithLabelValues("processed").Add(float64(processed))
	}
	if failed > 0 {
		m.records.WithLabelValues("failed").Add(float64(failed))
	}
}

func (m *Ingest) RunFinished(status string) {
	m.runs.WithLabelValues(status).Inc()
}

func (m *Ingest) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Ingest) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
