// Package metrics counts resolution outcomes in Prometheus.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

const (
	namespace = "edge"
	subsystem = "router"
)

// Publisher implements ports.EventPublisher by incrementing counters.
// Labels are limited to the outcome since hosts are client controlled.
type Publisher struct {
	Resolutions *prometheus.CounterVec
	Fallbacks   prometheus.Counter

	mu     sync.Mutex
	counts map[string]uint64
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates the collectors and registers them with reg when non-nil.
func NewPublisher(reg prometheus.Registerer) *Publisher {
	p := &Publisher{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resolutions_total",
			Help:      "Count of routed requests by outcome",
		}, []string{"outcome"}),

		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fallbacks_total",
			Help:      "Count of requests served from the fallback origin",
		}),

		counts: make(map[string]uint64),
	}
	if reg != nil {
		reg.MustRegister(p.PrometheusCollectors()...)
	}
	return p
}

func (p *Publisher) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		p.Resolutions,
		p.Fallbacks,
	}
}

func (p *Publisher) Publish(ctx context.Context, event *domain.ResolutionEvent) error {
	outcome := event.Type.Outcome()
	p.Resolutions.WithLabelValues(outcome).Inc()
	if event.Type.IsFallback() {
		p.Fallbacks.Inc()
	}

	p.mu.Lock()
	p.counts[outcome]++
	p.mu.Unlock()
	return nil
}

// Counts returns a copy of the per-outcome totals.
func (p *Publisher) Counts() map[string]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]uint64, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

func (p *Publisher) Close() error {
	return nil
}
