// Package redis provides a Redis-backed route table.
//
// Routes live in a single hash "<prefix>:routes" whose fields are
// "<service>-<tenant>" and whose values are destination URLs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "edge"

func routesKey(prefix string) string {
	return fmt.Sprintf("%s:routes", prefix)
}

// Store implements ports.RouteStore for Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ ports.RouteStore = (*Store)(nil)

// New connects to the Redis server at url and verifies it with a ping.
func New(ctx context.Context, url, prefix string, logger *slog.Logger) (*Store, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts := redis.UniversalOptions{
		Addrs:     []string{parsed.Addr},
		DB:        parsed.DB,
		Username:  parsed.Username,
		Password:  parsed.Password,
		TLSConfig: parsed.TLSConfig,
	}

	store := NewWithClient(redis.NewUniversalClient(&opts), prefix, logger)
	if err := store.client.Ping(ctx).Err(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", parsed.Addr, err)
	}

	store.logger.Info("using redis route table",
		slog.String("addr", parsed.Addr),
		slog.String("key", routesKey(store.prefix)))
	return store, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) Lookup(ctx context.Context, key domain.SubdomainKey) (string, error) {
	dest, err := s.client.HGet(ctx, routesKey(s.prefix), key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrRouteNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis lookup %s: %w", key, err)
	}
	return dest, nil
}

// ListRoutes returns all routes. Redis keeps no timestamps, so they are zero.
func (s *Store) ListRoutes(ctx context.Context) ([]*domain.Route, error) {
	all, err := s.client.HGetAll(ctx, routesKey(s.prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list routes: %w", err)
	}

	routes := make([]*domain.Route, 0, len(all))
	for field, dest := range all {
		key, ok := domain.ParseKey(field)
		if !ok {
			s.logger.Warn("skipping malformed route field", slog.String("field", field))
			continue
		}
		routes = append(routes, &domain.Route{ServiceID: key.ServiceID, TenantID: key.TenantID, Destination: dest})
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Key().String() < routes[j].Key().String()
	})
	return routes, nil
}

func (s *Store) PutRoute(ctx context.Context, route *domain.Route) error {
	if err := s.client.HSet(ctx, routesKey(s.prefix), route.Key().String(), route.Destination).Err(); err != nil {
		return fmt.Errorf("redis put route %s: %w", route.Key(), err)
	}
	return nil
}

func (s *Store) DeleteRoute(ctx context.Context, key domain.SubdomainKey) error {
	n, err := s.client.HDel(ctx, routesKey(s.prefix), key.String()).Result()
	if err != nil {
		return fmt.Errorf("redis delete route %s: %w", key, err)
	}
	if n == 0 {
		return domain.ErrRouteNotFound
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
