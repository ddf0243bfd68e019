package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pusher sends a batch run's metrics to a Prometheus Pushgateway.
type Pusher struct {
	pusher *push.Pusher
}

// NewPusher creates a private registry with the run metrics registered and a
// pusher for the gateway at url under the given job name.
func NewPusher(url, job string) (*Pusher, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetricsForRegistry(reg)
	return &Pusher{pusher: push.New(url, job).Gatherer(reg)}, m
}

// Push replaces the job's metrics on the gateway.
func (p *Pusher) Push(ctx context.Context) error {
	if err := p.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
