// Package memory provides an in-memory route store, used for the static table.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

// Store is an in-memory implementation of RouteStore
type Store struct {
	mu     sync.RWMutex
	routes map[domain.SubdomainKey]*domain.Route
}

var _ ports.RouteStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		routes: make(map[domain.SubdomainKey]*domain.Route),
	}
}

// NewFromMap creates a store seeded with "<service>-<tenant>" -> destination entries.
func NewFromMap(entries map[string]string) (*Store, error) {
	s := New()
	now := time.Now().UTC()
	for k, dest := range entries {
		key, ok := domain.ParseKey(k)
		if !ok {
			return nil, fmt.Errorf("invalid route key %q: want <service>-<tenant>", k)
		}
		s.routes[key] = &domain.Route{
			ServiceID:   key.ServiceID,
			TenantID:    key.TenantID,
			Destination: dest,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return s, nil
}

func (s *Store) Lookup(ctx context.Context, key domain.SubdomainKey) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	route, exists := s.routes[key]
	if !exists {
		return "", domain.ErrRouteNotFound
	}
	return route.Destination, nil
}

func (s *Store) ListRoutes(ctx context.Context) ([]*domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Route, 0, len(s.routes))
	for _, r := range s.routes {
		copied := *r
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ServiceID != result[j].ServiceID {
			return result[i].ServiceID < result[j].ServiceID
		}
		return result[i].TenantID < result[j].TenantID
	})
	return result, nil
}

func (s *Store) PutRoute(ctx context.Context, route *domain.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := route.Key()
	if existing, ok := s.routes[key]; ok {
		route.CreatedAt = existing.CreatedAt
	} else if route.CreatedAt.IsZero() {
		route.CreatedAt = now
	}
	route.UpdatedAt = now

	copied := *route
	s.routes[key] = &copied
	return nil
}

func (s *Store) DeleteRoute(ctx context.Context, key domain.SubdomainKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.routes[key]; !exists {
		return domain.ErrRouteNotFound
	}
	delete(s.routes, key)
	return nil
}

func (s *Store) Close() error {
	return nil
}
