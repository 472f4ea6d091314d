// Package metrics exposes Prometheus metrics for pipeline runs.
//
// A Collector owns one set of counters and histograms registered against a
// prometheus.Registerer. The CLI registers a single collector with the
// default registry; tests create their own registry so collectors never
// collide.
//
//	c := metrics.NewCollector(prometheus.NewRegistry())
//	c.RunFinished("permits", metrics.OutcomeSuccess)
//	c.RowsLoaded("permits", 5000)
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "ledgerline"

// Run outcomes used as the "outcome" label.
const (
	OutcomeSuccess   = "success"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// Collector records pipeline activity.
type Collector struct {
	runs          *prometheus.CounterVec   // runs by outcome
	rowsLoaded    *prometheus.CounterVec   // rows delivered to the loader
	rowsRejected  *prometheus.CounterVec   // rows failing validation in lenient mode
	headerSkips   *prometheus.CounterVec   // repeated header rows dropped
	chunks        *prometheus.CounterVec   // chunks by write status
	chunkDuration *prometheus.HistogramVec // seconds spent in Load per chunk
	runDuration   *prometheus.HistogramVec // seconds per run
}

// NewCollector registers the pipeline metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"pipeline", "outcome"}),
		rowsLoaded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rows_loaded_total",
			Help:      "Rows delivered to the loader",
		}, []string{"pipeline"}),
		rowsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rows_rejected_total",
			Help:      "Rows dropped after failing validation",
		}, []string{"pipeline"}),
		headerSkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "header_rows_skipped_total",
			Help:      "Rows skipped because they repeat the header",
		}, []string{"pipeline"}),
		chunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_total",
			Help:      "Chunks handed to the loader by write status",
		}, []string{"pipeline", "write_status"}),
		chunkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "chunk_load_duration_seconds",
			Help:      "Time spent loading one chunk",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"pipeline"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"pipeline", "outcome"}),
	}
}

// RunFinished counts a completed run.
func (c *Collector) RunFinished(pipeline, outcome string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(pipeline, outcome).Inc()
}

// ObserveRun records the wall time of a run.
func (c *Collector) ObserveRun(pipeline, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.runDuration.WithLabelValues(pipeline, outcome).Observe(d.Seconds())
}

// RowsLoaded adds n rows delivered to the loader.
func (c *Collector) RowsLoaded(pipeline string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.rowsLoaded.WithLabelValues(pipeline).Add(float64(n))
}

// RowRejected counts one row dropped by lenient validation.
func (c *Collector) RowRejected(pipeline string) {
	if c == nil {
		return
	}
	c.rowsRejected.WithLabelValues(pipeline).Inc()
}

// HeaderSkipped counts one repeated header row.
func (c *Collector) HeaderSkipped(pipeline string) {
	if c == nil {
		return
	}
	c.headerSkips.WithLabelValues(pipeline).Inc()
}

// ChunkLoaded records one Load call and its duration.
func (c *Collector) ChunkLoaded(pipeline, writeStatus string, d time.Duration) {
	if c == nil {
		return
	}
	if writeStatus == "" {
		writeStatus = "unknown"
	}
	c.chunks.WithLabelValues(pipeline, writeStatus).Inc()
	c.chunkDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

// Timer measures elapsed time from its creation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
