// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the ingest pipeline.
//
//   - It exposes a narrow interface (Backend) of counters, timings and gauges.
//   - It keeps a global, pluggable backend that defaults to a no-op
//     implementation, so metrics are always safe to call even when no real
//     backend is configured.
//   - Concrete metric systems live in subpackages (prompush, datadog) the same
//     way storage backends live under storage.
//
// Metric names are the exported constants below; backends route on them.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Metric names.
const (
	StepTotal    = "logparsely_step_total"
	StepDuration = "logparsely_step_duration_seconds"
	RecordsTotal = "logparsely_records_total"
	BatchesTotal = "logparsely_batches_total"
	Columns      = "logparsely_columns"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// SetGauge sets the current value of a gauge.
	SetGauge(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) SetGauge(name string, value float64, labels Labels)         {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// Pusher flushes the backend every interval until ctx ends, then once more.
// Push failures are logged, never returned: metrics must not stop ingestion.
func Pusher(ctx context.Context, interval time.Duration, lg *slog.Logger) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := Flush(); err != nil {
				lg.Warn("metrics: final push failed", "err", err)
			}
			return nil
		case <-t.C:
			if err := Flush(); err != nil {
				lg.Warn("metrics: push failed", "err", err)
			}
		}
	}
}

// RecordStep is a convenience for the common pattern:
// measure latency + success/failure per pipeline step.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter for the given job and kind.
//
// Kinds mirror the run summary:
//   - "inserted"
//   - "decode_errors"
//   - "rejected_paths"
//   - "dropped"
//   - "lost"
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches increments a batch-level counter for the given job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{
		"job": job,
	})
}

// RecordColumns reports the number of live dynamic columns.
func RecordColumns(job string, n int) {
	current().SetGauge(Columns, float64(n), Labels{"job": job})
}
