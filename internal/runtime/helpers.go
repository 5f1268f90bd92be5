package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/tjfontaine/edge-origin-router/internal/adapters/storage/consul"
	"github.com/tjfontaine/edge-origin-router/internal/adapters/storage/dynamodb"
	"github.com/tjfontaine/edge-origin-router/internal/adapters/storage/redis"
	"github.com/tjfontaine/edge-origin-router/internal/adapters/storage/resilient"
	"github.com/tjfontaine/edge-origin-router/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
	"github.com/tjfontaine/edge-origin-router/internal/pkg/config"
	"github.com/tjfontaine/edge-origin-router/internal/router"
	"github.com/tjfontaine/edge-origin-router/internal/storage/memory"
)

// OpenTable opens the route store selected by cfg.Table. Every backend except
// the static map is wrapped with caching and retries.
func OpenTable(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ports.RouteStore, error) {
	tc := cfg.Table

	var store ports.RouteStore
	switch tc.Type {
	case config.TableStatic:
		s, err := memory.NewFromMap(tc.Routes)
		if err != nil {
			return nil, fmt.Errorf("static table: %w", err)
		}
		logger.Info("using static route table", slog.Int("routes", len(tc.Routes)))
		return s, nil

	case config.TableSQLite:
		if dir := filepath.Dir(tc.SQLite.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		p, err := sqlite.NewProvider(tc.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite table: %w", err)
		}
		if err := p.Seed(ctx, tc.Routes); err != nil {
			p.Close()
			return nil, fmt.Errorf("seed sqlite table: %w", err)
		}
		logger.Info("using sqlite route table", slog.String("path", tc.SQLite.Path))
		store = p

	case config.TableRedis:
		s, err := redis.New(ctx, tc.Redis.URL, tc.Redis.Prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("redis table: %w", err)
		}
		store = s

	case config.TableDynamoDB:
		s, err := dynamodb.New(ctx, tc.DynamoDB.Table, tc.DynamoDB.Endpoint, tc.DynamoDB.Region, logger)
		if err != nil {
			return nil, fmt.Errorf("dynamodb table: %w", err)
		}
		store = s

	case config.TableConsul:
		s, err := consul.New(tc.Consul.Address, tc.Consul.Prefix, tc.Consul.Token, logger)
		if err != nil {
			return nil, fmt.Errorf("consul table: %w", err)
		}
		store = s

	default:
		return nil, fmt.Errorf("unknown table type %q", tc.Type)
	}

	return resilient.New(store, resilient.Options{
		CacheSize:    tc.Cache.Size,
		TTL:          tc.Cache.TTL,
		NegativeTTL:  tc.Cache.NegativeTTL,
		Retries:      tc.Retry.Attempts,
		Backoff:      tc.Retry.Backoff,
		FetchTimeout: cfg.Router.LookupTimeout,
		Logger:       logger,
	}), nil
}

// eventStoreOf returns the audit store behind a route store, if it has one.
func eventStoreOf(store ports.RouteStore) (ports.EventStore, bool) {
	if r, ok := store.(*resilient.Store); ok {
		store = r.Unwrap()
	}
	es, ok := store.(ports.EventStore)
	return es, ok
}

// liveRouter forwards to whichever router is current; reloads swap it atomically.
type liveRouter struct {
	current atomic.Pointer[router.Router]
}

func (l *liveRouter) Route(ctx context.Context, req *domain.Request) *domain.Request {
	return l.current.Load().Route(ctx, req)
}

// dryRunRouter routes with the current router without publishing events.
type dryRunRouter struct {
	live *liveRouter
}

func (d dryRunRouter) Route(ctx context.Context, req *domain.Request) *domain.Request {
	return d.live.current.Load().Quiet().Route(ctx, req)
}

// liveTable holds the current route store.
type liveTable struct {
	current atomic.Pointer[ports.RouteStore]
}

func (l *liveTable) Load() ports.RouteStore {
	if p := l.current.Load(); p != nil {
		return *p
	}
	return nil
}

func (l *liveTable) Store(s ports.RouteStore) {
	l.current.Store(&s)
}

// stats reports cache counters when the current table has them.
func (l *liveTable) stats() any {
	if r, ok := l.Load().(*resilient.Store); ok {
		return r.Stats()
	}
	return nil
}
