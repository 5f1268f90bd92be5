package ports

import (
	"context"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
)

// ResolutionTable maps a (service, tenant) pair to a destination base URL.
// Lookup returns domain.ErrRouteNotFound when no entry exists; any other error
// means the backing store failed.
type ResolutionTable interface {
	Lookup(ctx context.Context, key domain.SubdomainKey) (string, error)
}

// RouteStore is a ResolutionTable that can also be managed through the control plane.
// Implementations: memory (default), SQLite, Redis, DynamoDB, Consul.
type RouteStore interface {
	ResolutionTable

	// ListRoutes returns every route ordered by key.
	ListRoutes(ctx context.Context) ([]*domain.Route, error)

	// PutRoute inserts or replaces a route.
	PutRoute(ctx context.Context, route *domain.Route) error

	// DeleteRoute removes a route, returning domain.ErrRouteNotFound if absent.
	DeleteRoute(ctx context.Context, key domain.SubdomainKey) error

	Close() error
}

// EventStore persists resolution events for auditing.
type EventStore interface {
	AppendEvent(ctx context.Context, event *domain.ResolutionEvent) error
	ListEvents(ctx context.Context, opts EventListOptions) ([]*domain.ResolutionEvent, error)
}

// EventListOptions filters ListEvents.
type EventListOptions struct {
	Type   domain.ResolutionEventType
	Limit  int
	Offset int
}
