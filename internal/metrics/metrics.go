// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from ingestion and query paths.
//
// It exposes a narrow interface (Backend) focused on counters and timings and
// a global, pluggable backend that defaults to a no-op implementation, so the
// helpers are always safe to call even when no real backend is configured.
// Concrete systems live in subpackages (prompush, datadog).
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names shared by all backends.
const (
	StepTotal    = "eav_step_total"
	StepDuration = "eav_step_duration_seconds"
	RecordsTotal = "eav_records_total"
	BatchesTotal = "eav_batches_total"
)

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

// backend is set once at startup, before any recording goroutine runs.
var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of step (ingest, flush, query) and its
// duration, labeled with success or failure.
func RecordStep(step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"step": step, "status": status}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows increments a record-level counter. Kinds in use:
//   - "records"      data records read from streams
//   - "facts"        facts written by committed flushes
//   - "parse_errors" records that failed the stream
//   - "skipped"      empty values dropped before enqueue
func RecordRows(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{"kind": kind})
}

// RecordBatches increments the committed batch counter.
func RecordBatches(delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), nil)
}
