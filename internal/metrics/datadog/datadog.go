// Package datadog sends crawlstream metrics to a DogStatsD agent.
package datadog

import (
	"fmt"
	"sort"

	"github.com/DataDog/datadog-go/v5/statsd"

	"crawlstream/internal/metrics"
)

// Config holds Datadog backend configuration.
type Config struct {
	// Addr is the DogStatsD address, e.g. "127.0.0.1:8125" or
	// "unix:///var/run/datadog/dsd.socket".
	Addr string

	// Namespace prefixes every metric name, e.g. "crawl.".
	Namespace string

	// GlobalTags are added to every metric, e.g. "env:prod".
	GlobalTags []string
}

// Backend maps metric labels onto DogStatsD tags.
type Backend struct {
	client statsd.ClientInterface
}

// NewBackend dials the agent described by cfg.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: Addr is required")
	}
	var opts []statsd.Option
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}
	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: create client: %w", err)
	}
	return &Backend{client: c}, nil
}

// IncCounter sends a count; fractional deltas are truncated.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	_ = b.client.Count(name, int64(delta), tags(labels), 1)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	_ = b.client.Histogram(name, value, tags(labels), 1)
}

// Flush sends buffered metrics and closes the client; call it once at
// shutdown.
func (b *Backend) Flush() error {
	if err := b.client.Flush(); err != nil {
		return fmt.Errorf("datadog: flush: %w", err)
	}
	return b.client.Close()
}

// tags renders labels as sorted "key:value" tags.
func tags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		out = append(out, k+":"+v)
	}
	sort.Strings(out)
	return out
}
