// Package router resolves the origin for a request whose host encodes
// "<service>-<tenant>" and rewrites the request to target that origin, or the
// static fallback document when no origin can be resolved.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/edge-origin-router/internal/api/middleware"
	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
	"github.com/tjfontaine/edge-origin-router/internal/pkg/config"
)

var tracer = otel.Tracer("github.com/tjfontaine/edge-origin-router/internal/router")

// Router chooses an origin for each request. It holds no per-request state and is
// safe for concurrent use.
type Router struct {
	table         ports.ResolutionTable
	events        ports.EventPublisher
	fallback      config.FallbackConfig
	fallbackHost  string
	origin        config.OriginConfig
	lookupTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a router. A nil publisher discards events; a nil logger uses slog.Default.
// Zero fallback and origin fields take the reference values.
func New(table ports.ResolutionTable, events ports.EventPublisher, cfg config.RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Fallback.ApplyDefaults()
	cfg.Origin.ApplyDefaults()
	return &Router{
		table:         table,
		events:        events,
		fallback:      cfg.Fallback,
		fallbackHost:  cfg.Fallback.Host(),
		origin:        cfg.Origin,
		lookupTimeout: cfg.LookupTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// Quiet returns a copy of the router that publishes no events, for dry runs.
func (r *Router) Quiet() *Router {
	c := *r
	c.events = nil
	return &c
}

// FallbackHost returns the static content host used by the fallback path.
func (r *Router) FallbackHost() string {
	return r.fallbackHost
}

// Route returns a rewritten copy of req pointing at the resolved origin. It never
// fails: malformed hosts, unknown pairs and lookup errors all end on the fallback
// path. The input request is not modified.
func (r *Router) Route(ctx context.Context, req *domain.Request) *domain.Request {
	ctx, span := tracer.Start(ctx, "edge.route", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	out := req.Clone()
	host, _ := out.Host()
	event := &domain.ResolutionEvent{
		Host:      host,
		RequestID: middleware.GetRequestID(ctx),
	}

	r.resolve(ctx, out, host, event)

	span.SetAttributes(
		attribute.String("edge.host", host),
		attribute.String("edge.outcome", event.Type.Outcome()),
		attribute.String("edge.origin", event.OriginDomain),
	)
	r.publish(ctx, event)
	return out
}

func (r *Router) resolve(ctx context.Context, out *domain.Request, host string, event *domain.ResolutionEvent) {
	// The fallback host is a fixed point regardless of table contents.
	if host == "" || host == r.fallbackHost {
		event.Type = domain.ResolutionEventMalformedHost
		r.notFound(out, event)
		return
	}

	key, ok := ParseSubdomain(host)
	if !ok {
		event.Type = domain.ResolutionEventMalformedHost
		r.notFound(out, event)
		return
	}
	event.ServiceID = key.ServiceID
	event.TenantID = key.TenantID

	destination, err := r.lookup(ctx, key)
	if err != nil {
		event.Type = domain.ResolutionEventNotFound
		if !errors.Is(err, domain.ErrRouteNotFound) {
			event.Type = domain.ResolutionEventLookupFailed
			event.Error = err.Error()
		}
		r.notFound(out, event)
		return
	}
	event.Destination = destination

	to, err := domain.ValidateDestination(destination)
	if err != nil {
		event.Type = domain.ResolutionEventInvalidDestination
		event.Error = err.Error()
		r.notFound(out, event)
		return
	}

	event.Type = domain.ResolutionEventResolved
	r.customOrigin(out, domain.OriginHost(to), event)
}

func (r *Router) lookup(ctx context.Context, key domain.SubdomainKey) (string, error) {
	if r.table == nil {
		return "", domain.ErrRouteNotFound
	}
	if r.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()
	}
	return r.table.Lookup(ctx, key)
}

// notFound points the request at the fallback error document.
func (r *Router) notFound(out *domain.Request, event *domain.ResolutionEvent) {
	out.Headers.Set("host", r.fallbackHost)
	out.Origin = &domain.Origin{
		S3: &domain.S3Origin{
			DomainName:    r.fallbackHost,
			AuthMethod:    "none",
			Path:          r.fallback.Path,
			CustomHeaders: domain.Headers{},
		},
	}
	event.OriginDomain = r.fallbackHost
}

// customOrigin points the request at host. The host header must match the origin or
// the destination fails virtual-host and TLS matching.
func (r *Router) customOrigin(out *domain.Request, host string, event *domain.ResolutionEvent) {
	out.Origin = &domain.Origin{
		Custom: &domain.CustomOrigin{
			DomainName:       host,
			Port:             r.origin.Port,
			Protocol:         r.origin.Protocol,
			Path:             "",
			SSLProtocols:     append([]string(nil), r.origin.SSLProtocols...),
			ReadTimeout:      r.origin.ReadTimeout,
			KeepaliveTimeout: r.origin.KeepaliveTimeout,
			CustomHeaders:    domain.Headers{},
		},
	}
	out.Headers.Set("host", host)
	event.OriginDomain = host
}

func (r *Router) publish(ctx context.Context, event *domain.ResolutionEvent) {
	if r.events == nil {
		return
	}
	event.ID = uuid.New().String()
	event.Timestamp = r.now()
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Debug("failed to publish resolution event",
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}
