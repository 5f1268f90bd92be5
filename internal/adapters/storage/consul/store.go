// Package consul provides a Consul KV-backed route table.
//
// Each route is a key "<prefix>/<service>-<tenant>" whose value is the destination URL.
package consul

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	consul "github.com/hashicorp/consul/api"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "edge/routes"

// KV is the subset of the Consul KV API the store uses.
type KV interface {
	Get(key string, q *consul.QueryOptions) (*consul.KVPair, *consul.QueryMeta, error)
	Put(p *consul.KVPair, q *consul.WriteOptions) (*consul.WriteMeta, error)
	Delete(key string, w *consul.WriteOptions) (*consul.WriteMeta, error)
	List(prefix string, q *consul.QueryOptions) (consul.KVPairs, *consul.QueryMeta, error)
}

// Store implements ports.RouteStore for Consul.
type Store struct {
	kv     KV
	prefix string
	logger *slog.Logger
}

var _ ports.RouteStore = (*Store)(nil)

// New creates a store talking to the Consul agent at address.
func New(address, prefix, token string, logger *slog.Logger) (*Store, error) {
	cfg := consul.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	if token != "" {
		cfg.Token = token
	}
	client, err := consul.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}

	store := NewWithKV(client.KV(), prefix, logger)
	store.logger.Info("using consul route table",
		slog.String("address", cfg.Address),
		slog.String("prefix", store.prefix))
	return store, nil
}

// NewWithKV wraps an existing KV client.
func NewWithKV(kv KV, prefix string, logger *slog.Logger) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, prefix: prefix, logger: logger}
}

func (s *Store) routeKey(key domain.SubdomainKey) string {
	return s.prefix + "/" + key.String()
}

func (s *Store) Lookup(ctx context.Context, key domain.SubdomainKey) (string, error) {
	pair, _, err := s.kv.Get(s.routeKey(key), (&consul.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("consul lookup %s: %w", key, err)
	}
	if pair == nil || len(pair.Value) == 0 {
		return "", domain.ErrRouteNotFound
	}
	return string(pair.Value), nil
}

func (s *Store) ListRoutes(ctx context.Context) ([]*domain.Route, error) {
	pairs, _, err := s.kv.List(s.prefix+"/", (&consul.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul list routes: %w", err)
	}

	routes := make([]*domain.Route, 0, len(pairs))
	for _, pair := range pairs {
		name := strings.TrimPrefix(pair.Key, s.prefix+"/")
		key, ok := domain.ParseKey(name)
		if !ok {
			s.logger.Warn("skipping malformed route key", slog.String("key", pair.Key))
			continue
		}
		routes = append(routes, &domain.Route{ServiceID: key.ServiceID, TenantID: key.TenantID, Destination: string(pair.Value)})
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Key().String() < routes[j].Key().String()
	})
	return routes, nil
}

func (s *Store) PutRoute(ctx context.Context, route *domain.Route) error {
	pair := &consul.KVPair{Key: s.routeKey(route.Key()), Value: []byte(route.Destination)}
	if _, err := s.kv.Put(pair, (&consul.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("consul put route %s: %w", route.Key(), err)
	}
	return nil
}

// DeleteRoute checks for the key first since Consul deletes are idempotent.
func (s *Store) DeleteRoute(ctx context.Context, key domain.SubdomainKey) error {
	if _, err := s.Lookup(ctx, key); err != nil {
		return err
	}
	if _, err := s.kv.Delete(s.routeKey(key), (&consul.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("consul delete route %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
