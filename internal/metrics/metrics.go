// Package metrics exposes Prometheus collectors for the ingestion pipeline.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Recorder owns a private registry with the pipeline collectors.
type Recorder struct {
	reg      *prometheus.Registry
	uploads  *prometheus.CounterVec
	rows     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers the pipeline collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coa_ingest_uploads_total",
				Help: "Uploaded files processed, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coa_ingest_rows_total",
				Help: "Records written by successful ingestions (readings, results).",
			},
			[]string{"kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coa_ingest_duration_seconds",
				Help:    "Time spent validating and writing one upload.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
	r.reg.MustRegister(r.uploads, r.rows, r.duration)
	return r
}

// ObserveUpload counts one processed upload and its duration.
func (r *Recorder) ObserveUpload(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(outcome).Inc()
	r.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// AddRows counts the readings and results written by one ingestion.
func (r *Recorder) AddRows(readings, results int) {
	if r == nil {
		return
	}
	r.rows.WithLabelValues("readings").Add(float64(readings))
	r.rows.WithLabelValues("results").Add(float64(results))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
