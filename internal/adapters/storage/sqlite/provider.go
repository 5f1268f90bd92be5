// Package sqlite provides the SQLite route table adapter for the router.
package sqlite

import (
	"context"
	"fmt"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
	"github.com/tjfontaine/edge-origin-router/internal/storage/sqldb"
)

// Provider implements ports.RouteStore and ports.EventStore using SQLite.
// It wraps the sqldb implementation.
type Provider struct {
	*sqldb.Store
}

// NewProvider creates a new SQLite storage provider.
func NewProvider(path string) (*Provider, error) {
	store, err := sqldb.NewSQLite(path)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Store: store,
	}, nil
}

// Seed upserts "<service>-<tenant>" -> destination entries.
func (p *Provider) Seed(ctx context.Context, entries map[string]string) error {
	for k, dest := range entries {
		key, ok := domain.ParseKey(k)
		if !ok {
			return fmt.Errorf("invalid route key %q: want <service>-<tenant>", k)
		}
		if _, err := domain.ValidateDestination(dest); err != nil {
			return fmt.Errorf("route %s: %w", k, err)
		}
		route := &domain.Route{ServiceID: key.ServiceID, TenantID: key.TenantID, Destination: dest}
		if err := p.PutRoute(ctx, route); err != nil {
			return err
		}
	}
	return nil
}

// Ensure Provider implements the storage ports at compile time.
var (
	_ ports.RouteStore = (*Provider)(nil)
	_ ports.EventStore = (*Provider)(nil)
)
