// Package metrics is a small backend-agnostic facade for migration metrics.
//
// A global backend defaults to a no-op, so every call is safe when metrics
// are disabled. Concrete backends live in subpackages (prompush, datadog) and
// are installed with SetBackend from main.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by every backend.
const (
	StepTotal       = "migration_step_total"
	StepDuration    = "migration_step_duration_seconds"
	RowsTotal       = "migration_rows_total"
	BatchesTotal    = "migration_batches_total"
	MismatchesTotal = "migration_mismatches_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface a metrics system has to offer.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-like value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes buffered metrics.
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

// SetBackend installs b. Passing nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error { return current().Flush() }

// RecordStep counts one execution of a run stage and records its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows counts rows moved for one entity kind.
func RecordRows(job, entity string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"job": job, "entity": entity})
}

// RecordBatches counts committed batches for one entity kind.
func RecordBatches(job, entity string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"job": job, "entity": entity})
}

// RecordMismatches counts cross-store consistency mismatches.
func RecordMismatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(MismatchesTotal, float64(delta), Labels{"job": job})
}
