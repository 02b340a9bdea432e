// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. A batch job has no scrape window, so collected metrics are
// pushed once at the end of a run.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"mssql2pg/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec
	stepDuration *prometheus.SummaryVec
	rowCounter   *prometheus.CounterVec
	batchCounter *prometheus.CounterVec
	mismatches   prometheus.Counter
}

// NewBackend constructs a backend pushing to gatewayURL under jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "mssql2pg"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Run stage executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Run stage duration in seconds by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows committed to the target by entity kind.",
		}, []string{"entity"}),
		batchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Batches committed to the target by entity kind.",
		}, []string{"entity"}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.MismatchesTotal,
			Help: "Source/target consistency mismatches.",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":     b.stepCounter,
		"step summary":     b.stepDuration,
		"row counter":      b.rowCounter,
		"batch counter":    b.batchCounter,
		"mismatch counter": b.mismatches,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rowCounter.WithLabelValues(labels["entity"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchCounter.WithLabelValues(labels["entity"]).Add(delta)
	case metrics.MismatchesTotal:
		b.mismatches.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the Pushgateway, replacing the job's group.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
