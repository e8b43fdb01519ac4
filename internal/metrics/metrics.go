// Package metrics exposes Prometheus counters for analysis runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stockanalyzer"

// Recorder records run, fetch, batch and dispatch outcomes. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	runs               *prometheus.CounterVec
	runDuration        prometheus.Histogram
	verdicts           prometheus.Counter
	batches            *prometheus.CounterVec
	fetches            *prometheus.CounterVec
	enrichmentFailures *prometheus.CounterVec
	dispatches         *prometheus.CounterVec
}

// New creates a recorder registered on reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Completed analysis runs",
			},
			[]string{"mode"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of analysis runs",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		verdicts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdicts_total",
				Help:      "Verdicts produced",
			},
		),
		batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Analysis batches by outcome",
			},
			[]string{"outcome"},
		),
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Per-symbol history fetch outcomes",
			},
			[]string{"outcome"},
		),
		enrichmentFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_failures_total",
				Help:      "Failed optional enrichment steps",
			},
			[]string{"step"},
		),
		dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Notification deliveries by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
	}
}

// RecordRun records a finished run.
func (r *Recorder) RecordRun(dryRun bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	mode := "analyze"
	if dryRun {
		mode = "dry_run"
	}
	r.runs.WithLabelValues(mode).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

// RecordVerdicts adds n produced verdicts.
func (r *Recorder) RecordVerdicts(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.verdicts.Add(float64(n))
}

// RecordBatch records one batch outcome.
func (r *Recorder) RecordBatch(failed bool) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(outcome(!failed)).Inc()
}

// RecordFetch records a fetch outcome: "fetched", "skipped" or "failed".
func (r *Recorder) RecordFetch(result string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(result).Inc()
}

// RecordEnrichmentFailure records a failed enrichment step.
func (r *Recorder) RecordEnrichmentFailure(step string) {
	if r == nil {
		return
	}
	r.enrichmentFailures.WithLabelValues(step).Inc()
}

// RecordDispatch records a delivery attempt on channel.
func (r *Recorder) RecordDispatch(channel string, success bool) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(channel, outcome(success)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
