// Package prompush pushes crawlstream metrics to a Prometheus Pushgateway.
//
// A batch job has no scrape endpoint, so the backend collects into a private
// registry and pushes it on Flush, grouped under the job name.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"crawlstream/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	grouping   map[string]string
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	rowCounter   *prometheus.CounterVec
	batchCounter prometheus.Counter
}

// NewBackend constructs a backend pushing to gatewayURL under jobName.
// Extra grouping labels (e.g. a run id) are given as key/value pairs.
func NewBackend(jobName, gatewayURL string, grouping ...string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if len(grouping)%2 != 0 {
		return nil, fmt.Errorf("prompush: grouping needs key/value pairs, got %d values", len(grouping))
	}
	if jobName == "" {
		jobName = "crawlstream"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		grouping:   make(map[string]string, len(grouping)/2),
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Executions of crawlstream steps by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Duration of crawlstream steps in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows by kind (read, cast, cast_errors, buffered, spilled, loaded).",
		}, []string{"kind"}),
		batchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Batches loaded into the sink.",
		}),
	}
	for i := 0; i < len(grouping); i += 2 {
		b.grouping[grouping[i]] = grouping[i+1]
	}
	for _, c := range []prometheus.Collector{b.stepCounter, b.stepDuration, b.rowCounter, b.batchCounter} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchCounter.Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry, replacing the previous push of the same group.
func (b *Backend) Flush() error {
	p := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg)
	for k, v := range b.grouping {
		p = p.Grouping(k, v)
	}
	if err := p.Push(); err != nil {
		return fmt.Errorf("prompush: push to %s: %w", b.gatewayURL, err)
	}
	return nil
}

// Gatherer exposes the backend's registry.
func (b *Backend) Gatherer() prometheus.Gatherer { return b.reg }
