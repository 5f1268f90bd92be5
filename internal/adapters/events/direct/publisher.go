// Package direct provides a direct event publisher that writes to storage.
package direct

import (
	"context"
	"fmt"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

// Publisher implements ports.EventPublisher by appending events to an audit store.
// It writes synchronously; wrap it in an async publisher on the request path.
type Publisher struct {
	store ports.EventStore
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.EventStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}

	return &Publisher{
		store: store,
	}, nil
}

// Publish writes a resolution event directly to storage.
func (p *Publisher) Publish(ctx context.Context, event *domain.ResolutionEvent) error {
	return p.store.AppendEvent(ctx, event)
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}
