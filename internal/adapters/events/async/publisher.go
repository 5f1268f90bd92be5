// Package async fans resolution events out to several publishers off the request path.
package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

// Publisher queues events on a bounded buffer drained by one goroutine.
// When the buffer is full the event is dropped; Publish never blocks.
type Publisher struct {
	sinks   []ports.EventPublisher
	queue   chan *domain.ResolutionEvent
	logger  *slog.Logger
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher starts the drain goroutine. buffer <= 0 uses 256.
func NewPublisher(buffer int, logger *slog.Logger, sinks ...ports.EventPublisher) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		sinks:  sinks,
		queue:  make(chan *domain.ResolutionEvent, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, sink := range p.sinks {
			if err := sink.Publish(ctx, event); err != nil {
				p.logger.Debug("event sink failed",
					slog.String("event_id", event.ID),
					slog.String("error", err.Error()))
			}
		}
		cancel()
	}
}

// Publish enqueues event without waiting for the sinks.
func (p *Publisher) Publish(ctx context.Context, event *domain.ResolutionEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return nil
	}

	select {
	case p.queue <- event:
	default:
		if p.dropped.Add(1)%100 == 1 {
			p.logger.Warn("event buffer full, dropping events", slog.Uint64("dropped", p.dropped.Load()))
		}
	}
	return nil
}

// Dropped returns the number of events discarded so far.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close drains queued events, then closes every sink.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	var firstErr error
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
