// Package controlplane serves the admin API: route management, dry-run
// resolution, audit events, stats and metrics.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/edge-origin-router/internal/api/middleware"
	"github.com/tjfontaine/edge-origin-router/internal/auth"
	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

// Resolver routes a request without side effects.
type Resolver interface {
	Route(ctx context.Context, req *domain.Request) *domain.Request
}

// Options wires the server to the running gateway. Getters are used where the
// gateway may swap components on config reload.
type Options struct {
	Routes        func() ports.RouteStore
	Events        ports.EventStore // nil disables /api/events
	Resolver      Resolver
	Hook          http.Handler // mounted at POST /origin-request when set
	Authenticator *auth.Authenticator
	Gatherer      prometheus.Gatherer
	Outcomes      func() map[string]uint64
	TableStats    func() any
	Logger        *slog.Logger
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	opts      Options
	logger    *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		opts:      opts,
		logger:    opts.Logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestIDMiddleware)
	s.router.Use(middleware.LoggingMiddleware(s.logger))
	s.router.Use(chimw.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	if s.opts.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.Hook != nil {
		s.router.Handle("/origin-request", s.opts.Hook)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(s.opts.Authenticator))

		r.Get("/stats", s.handleStats)
		r.Get("/resolve", s.handleResolve)
		r.Get("/events", s.handleListEvents)
		r.Get("/routes", s.handleListRoutes)
		r.Put("/routes/{service}/{tenant}", s.handlePutRoute)
		r.Delete("/routes/{service}/{tenant}", s.handleDeleteRoute)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type StatsResponse struct {
	Uptime       string            `json:"uptime"`
	GoVersion    string            `json:"go_version"`
	NumGoroutine int               `json:"num_goroutine"`
	Memory       MemoryStats       `json:"memory"`
	Outcomes     map[string]uint64 `json:"outcomes,omitempty"`
	Table        any               `json:"table,omitempty"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}
	if s.opts.Outcomes != nil {
		stats.Outcomes = s.opts.Outcomes()
	}
	if s.opts.TableStats != nil {
		stats.Table = s.opts.TableStats()
	}

	writeJSON(w, stats)
}

// ResolveResponse describes where a host would be routed.
type ResolveResponse struct {
	Host     string         `json:"host"`
	Fallback bool           `json:"fallback"`
	Origin   *domain.Origin `json:"origin"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		writeError(w, http.StatusBadRequest, "host query parameter is required")
		return
	}
	if s.opts.Resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "resolver not configured")
		return
	}

	req := &domain.Request{Method: http.MethodGet, URI: "/", Headers: domain.Headers{}}
	req.Headers.Set("host", host)
	out := s.opts.Resolver.Route(r.Context(), req)

	writeJSON(w, ResolveResponse{
		Host:     host,
		Fallback: out.Origin.IsFallback(),
		Origin:   out.Origin,
	})
}

func (s *Server) routeStore(w http.ResponseWriter) (ports.RouteStore, bool) {
	if s.opts.Routes == nil {
		writeError(w, http.StatusServiceUnavailable, "route store not configured")
		return nil, false
	}
	store := s.opts.Routes()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "route store not configured")
		return nil, false
	}
	return store, true
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	store, ok := s.routeStore(w)
	if !ok {
		return
	}
	routes, err := store.ListRoutes(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if routes == nil {
		routes = []*domain.Route{}
	}
	writeJSON(w, map[string]any{"routes": routes})
}

type putRouteRequest struct {
	Destination string `json:"destination"`
}

func pathKey(r *http.Request) (domain.SubdomainKey, bool) {
	return domain.ParseKey(chi.URLParam(r, "service") + "-" + chi.URLParam(r, "tenant"))
}

func (s *Server) handlePutRoute(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "service and tenant must be non-empty and contain no '-'")
		return
	}

	var body putRouteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if _, err := domain.ValidateDestination(body.Destination); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store, ok := s.routeStore(w)
	if !ok {
		return
	}
	route := &domain.Route{ServiceID: key.ServiceID, TenantID: key.TenantID, Destination: body.Destination}
	if err := store.PutRoute(r.Context(), route); err != nil {
		s.internalError(w, r, err)
		return
	}

	s.logger.Info("route updated",
		slog.String("key", key.String()),
		slog.String("destination", body.Destination))
	writeJSON(w, route)
}

func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "service and tenant must be non-empty and contain no '-'")
		return
	}
	store, ok := s.routeStore(w)
	if !ok {
		return
	}

	err := store.DeleteRoute(r.Context(), key)
	if errors.Is(err, domain.ErrRouteNotFound) {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	s.logger.Info("route deleted", slog.String("key", key.String()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		writeError(w, http.StatusNotFound, "event audit is disabled")
		return
	}

	q := r.URL.Query()
	opts := ports.EventListOptions{Type: domain.ResolutionEventType(q.Get("type"))}
	if v := q.Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	events, err := s.opts.Events.ListEvents(r.Context(), opts)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if events == nil {
		events = []*domain.ResolutionEvent{}
	}
	writeJSON(w, map[string]any{"events": events})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.AddError(r.Context(), err)
	s.logger.Error("admin request failed",
		slog.String("request_id", middleware.GetRequestID(r.Context())),
		slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message},
	})
}
