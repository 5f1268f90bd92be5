// Package ports defines the core interfaces for the edge router.
package ports

import (
	"context"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default), or a fixed config for embedding.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventPublisher receives resolution diagnostics.
// Publishing is best effort: the router ignores returned errors.
// Implementations: slog sink, Prometheus counters, SQL audit log, async fan-out.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.ResolutionEvent) error
	Close() error
}
