// Package resilient decorates a route store with caching, request
// coalescing and bounded retries for remote lookups.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

// Options configures a Store.
type Options struct {
	// CacheSize bounds each of the positive and negative caches. 0 disables caching.
	CacheSize   int
	TTL         time.Duration
	NegativeTTL time.Duration

	// Retries is the number of extra attempts after a backend error.
	Retries int
	Backoff time.Duration

	// FetchTimeout bounds a shared backend fetch, which outlives any single caller.
	FetchTimeout time.Duration

	Logger *slog.Logger
}

// Stats are cumulative lookup counters.
type Stats struct {
	Hits          uint64 `json:"hits"`
	NegativeHits  uint64 `json:"negative_hits"`
	Misses        uint64 `json:"misses"`
	BackendErrors uint64 `json:"backend_errors"`
	Retries       uint64 `json:"retries"`
}

// Store wraps a RouteStore. Lookups are served from cache when possible;
// concurrent misses for the same key share one backend call. Only backend
// errors are retried; ErrRouteNotFound is an answer and is cached negatively.
type Store struct {
	next     ports.RouteStore
	opts     Options
	logger   *slog.Logger
	group    singleflight.Group
	positive *expirable.LRU[domain.SubdomainKey, string]
	negative *expirable.LRU[domain.SubdomainKey, struct{}]

	// gen is bumped by every write; a fetch that saw an older value must not
	// populate the cache.
	cacheMu sync.Mutex
	gen     uint64

	hits, negHits, misses, backendErrs, retries atomic.Uint64
}

var _ ports.RouteStore = (*Store)(nil)

// New wraps next.
func New(next ports.RouteStore, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	s := &Store{next: next, opts: opts, logger: opts.Logger}
	if opts.CacheSize > 0 {
		s.positive = expirable.NewLRU[domain.SubdomainKey, string](opts.CacheSize, nil, opts.TTL)
		s.negative = expirable.NewLRU[domain.SubdomainKey, struct{}](opts.CacheSize, nil, opts.NegativeTTL)
	}
	return s
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() ports.RouteStore {
	return s.next
}

func (s *Store) Lookup(ctx context.Context, key domain.SubdomainKey) (string, error) {
	if s.positive != nil {
		if dest, ok := s.positive.Get(key); ok {
			s.hits.Add(1)
			return dest, nil
		}
		if _, ok := s.negative.Get(key); ok {
			s.negHits.Add(1)
			return "", domain.ErrRouteNotFound
		}
	}
	s.misses.Add(1)

	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, key)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Store) generation() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.gen
}

// remember caches a fetch result unless a write happened since the fetch began.
func (s *Store) remember(key domain.SubdomainKey, gen uint64, dest string, found bool) {
	if s.positive == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.gen != gen {
		return
	}
	if found {
		s.positive.Add(key, dest)
		s.negative.Remove(key)
	} else {
		s.negative.Add(key, struct{}{})
	}
}

func (s *Store) fetch(ctx context.Context, key domain.SubdomainKey) (string, error) {
	gen := s.generation()
	var lastErr error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			s.retries.Add(1)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("lookup %s: %w", key, errors.Join(lastErr, ctx.Err()))
			case <-time.After(s.opts.Backoff * time.Duration(attempt)):
			}
		}

		dest, err := s.next.Lookup(ctx, key)
		switch {
		case err == nil:
			s.remember(key, gen, dest, true)
			return dest, nil
		case errors.Is(err, domain.ErrRouteNotFound):
			s.remember(key, gen, "", false)
			return "", err
		}

		s.backendErrs.Add(1)
		lastErr = err
		s.logger.Debug("route lookup failed",
			slog.String("key", key.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	return "", lastErr
}

// invalidate drops cached answers for key and detaches in-flight fetches so
// later lookups read the backend again.
func (s *Store) invalidate(key domain.SubdomainKey) {
	s.cacheMu.Lock()
	s.gen++
	if s.positive != nil {
		s.positive.Remove(key)
		s.negative.Remove(key)
	}
	s.cacheMu.Unlock()
	s.group.Forget(key.String())
}

func (s *Store) ListRoutes(ctx context.Context) ([]*domain.Route, error) {
	return s.next.ListRoutes(ctx)
}

func (s *Store) PutRoute(ctx context.Context, route *domain.Route) error {
	defer s.invalidate(route.Key())
	return s.next.PutRoute(ctx, route)
}

func (s *Store) DeleteRoute(ctx context.Context, key domain.SubdomainKey) error {
	defer s.invalidate(key)
	return s.next.DeleteRoute(ctx, key)
}

// Stats returns a snapshot of the lookup counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:          s.hits.Load(),
		NegativeHits:  s.negHits.Load(),
		Misses:        s.misses.Load(),
		BackendErrors: s.backendErrs.Load(),
		Retries:       s.retries.Load(),
	}
}

func (s *Store) Close() error {
	return s.next.Close()
}
