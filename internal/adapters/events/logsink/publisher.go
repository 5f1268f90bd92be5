// Package logsink publishes resolution events as structured log records.
package logsink

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

// Publisher logs resolved requests at info and every fallback at warning.
type Publisher struct {
	logger *slog.Logger
}

var _ ports.EventPublisher = (*Publisher)(nil)

func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event *domain.ResolutionEvent) error {
	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.String("outcome", event.Type.Outcome()),
		slog.String("host", event.Host),
		slog.String("origin", event.OriginDomain),
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.ServiceID != "" || event.TenantID != "" {
		attrs = append(attrs,
			slog.String("service_id", event.ServiceID),
			slog.String("tenant_id", event.TenantID))
	}
	if event.Destination != "" {
		attrs = append(attrs, slog.String("destination", event.Destination))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}

	level := slog.LevelInfo
	msg := "request routed to custom origin"
	switch event.Type {
	case domain.ResolutionEventResolved:
	case domain.ResolutionEventLookupFailed:
		level = slog.LevelWarn
		msg = "route lookup failed, rendering fallback"
	default:
		level = slog.LevelWarn
		msg = "could not find endpoint for tenant/service, rendering fallback"
	}

	p.logger.LogAttrs(ctx, level, msg, attrs...)
	return nil
}

func (p *Publisher) Close() error {
	return nil
}
