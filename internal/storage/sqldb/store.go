// Package sqldb stores routes and resolution events in SQLite.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

// Store is a SQL implementation of RouteStore and EventStore.
type Store struct {
	db *sqlx.DB
}

var (
	_ ports.RouteStore = (*Store)(nil)
	_ ports.EventStore = (*Store)(nil)
)

// NewSQLite opens (creating if needed) the SQLite database at dsn and initializes the schema.
func NewSQLite(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to a plain :memory: DSN is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS routes (
service_id TEXT NOT NULL,
tenant_id TEXT NOT NULL,
destination TEXT NOT NULL,
created_at TIMESTAMP NOT NULL,
updated_at TIMESTAMP NOT NULL,
PRIMARY KEY (service_id, tenant_id)
)`,
		`CREATE TABLE IF NOT EXISTS resolution_events (
id TEXT PRIMARY KEY,
type TEXT NOT NULL,
request_id TEXT,
host TEXT NOT NULL,
service_id TEXT,
tenant_id TEXT,
destination TEXT,
origin_domain TEXT NOT NULL,
error TEXT,
created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_resolution_events_type ON resolution_events(type, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Lookup returns the destination for key.
func (s *Store) Lookup(ctx context.Context, key domain.SubdomainKey) (string, error) {
	var destination string
	err := s.db.GetContext(ctx, &destination,
		`SELECT destination FROM routes WHERE service_id = ? AND tenant_id = ?`,
		key.ServiceID, key.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrRouteNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}
	return destination, nil
}

// ListRoutes returns all routes ordered by key.
func (s *Store) ListRoutes(ctx context.Context) ([]*domain.Route, error) {
	var routes []*domain.Route
	err := s.db.SelectContext(ctx, &routes,
		`SELECT service_id, tenant_id, destination, created_at, updated_at
FROM routes ORDER BY service_id, tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return routes, nil
}

// PutRoute inserts or replaces a route, keeping the original created_at.
func (s *Store) PutRoute(ctx context.Context, route *domain.Route) error {
	now := time.Now().UTC()
	if route.CreatedAt.IsZero() {
		route.CreatedAt = now
	}
	route.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routes (service_id, tenant_id, destination, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(service_id, tenant_id) DO UPDATE SET destination=excluded.destination, updated_at=excluded.updated_at`,
		route.ServiceID, route.TenantID, route.Destination, route.CreatedAt, route.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put route %s: %w", route.Key(), err)
	}
	return nil
}

// DeleteRoute removes the route for key.
func (s *Store) DeleteRoute(ctx context.Context, key domain.SubdomainKey) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM routes WHERE service_id = ? AND tenant_id = ?`,
		key.ServiceID, key.TenantID)
	if err != nil {
		return fmt.Errorf("delete route %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete route %s: %w", key, err)
	}
	if n == 0 {
		return domain.ErrRouteNotFound
	}
	return nil
}

// AppendEvent persists a resolution event.
func (s *Store) AppendEvent(ctx context.Context, event *domain.ResolutionEvent) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO resolution_events (id, type, request_id, host, service_id, tenant_id, destination, origin_domain, error, created_at)
VALUES (:id, :type, :request_id, :host, :service_id, :tenant_id, :destination, :origin_domain, :error, :created_at)`,
		event)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, opts ports.EventListOptions) ([]*domain.ResolutionEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, type, COALESCE(request_id, '') AS request_id, host,
COALESCE(service_id, '') AS service_id, COALESCE(tenant_id, '') AS tenant_id,
COALESCE(destination, '') AS destination, origin_domain, COALESCE(error, '') AS error, created_at
FROM resolution_events`
	args := []any{}
	if opts.Type != "" {
		query += ` WHERE type = ?`
		args = append(args, string(opts.Type))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	var events []*domain.ResolutionEvent
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
