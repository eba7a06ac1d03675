// Package metrics records operational metrics of crawlstream runs through a
// pluggable Backend.
//
// A process-wide backend defaults to a no-op, so instrumented code never has
// to check whether metrics are enabled. Concrete systems live in subpackages
// (prompush for a Prometheus Pushgateway, datadog for DogStatsD) and are
// installed once by the CLI with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by all backends.
const (
	StepTotal           = "crawlstream_step_total"
	StepDurationSeconds = "crawlstream_step_duration_seconds"
	RowsTotal           = "crawlstream_rows_total"
	BatchesTotal        = "crawlstream_batches_total"
)

// Row kinds reported under RowsTotal.
const (
	RowsRead       = "read"
	RowsCast       = "cast"
	RowsCastErrors = "cast_errors"
	RowsBuffered   = "buffered"
	RowsSpilled    = "spilled"
	RowsLoaded     = "loaded"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-style observation.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// SetBackend installs b. Passing nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of step and records its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// StartStep returns a function that records step when called with the
// step's outcome:
//
//	done := metrics.StartStep(job, "fill")
//	err := cache.Fill(rows)
//	done(err)
func StartStep(job, step string) func(error) {
	start := time.Now()
	return func(err error) { RecordStep(job, step, err, time.Since(start)) }
}

// RecordRows adds delta rows of kind. Non-positive deltas are ignored.
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordBatches adds delta loaded batches.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"job": job})
}
