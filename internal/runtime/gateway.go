// Package runtime provides the Gateway struct and lifecycle management
// for the edge origin router.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/edge-origin-router/internal/adapters/events/async"
	"github.com/tjfontaine/edge-origin-router/internal/adapters/events/direct"
	"github.com/tjfontaine/edge-origin-router/internal/adapters/events/logsink"
	"github.com/tjfontaine/edge-origin-router/internal/adapters/events/metrics"
	"github.com/tjfontaine/edge-origin-router/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/edge-origin-router/internal/api/controlplane"
	"github.com/tjfontaine/edge-origin-router/internal/api/hook"
	apimw "github.com/tjfontaine/edge-origin-router/internal/api/middleware"
	"github.com/tjfontaine/edge-origin-router/internal/auth"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
	"github.com/tjfontaine/edge-origin-router/internal/pkg/config"
	"github.com/tjfontaine/edge-origin-router/internal/proxy"
	"github.com/tjfontaine/edge-origin-router/internal/router"
	"github.com/tjfontaine/edge-origin-router/internal/telemetry"
)

// Gateway runs the edge listener and the admin listener around a hot-swappable
// router. It can be embedded in larger applications or run standalone.
type Gateway struct {
	// Dependencies (injected via options)
	config        ports.ConfigProvider
	overrides     []func(*config.Config)
	injectedTable ports.RouteStore
	sinks         []ports.EventPublisher
	registry      *prometheus.Registry
	transport     http.RoundTripper
	edgeAddr      string
	adminAddr     string
	logger        *slog.Logger

	// Internal state
	cfg            *config.Config
	router         *liveRouter
	table          *liveTable
	auditStore     ports.EventStore
	auditCloser    func() error
	metrics        *metrics.Publisher
	events         *async.Publisher
	edgeServer     *http.Server
	adminServer    *http.Server
	edgeListener   net.Listener
	adminListener  net.Listener
	tracerShutdown func(context.Context) error

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a new Gateway with the given options.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
		router: &liveRouter{},
		table:  &liveTable{},
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfig)")
	}
	if gw.registry == nil {
		gw.registry = prometheus.NewRegistry()
	}

	return gw, nil
}

// Start loads configuration, opens the route table and starts both listeners.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ctx, g.cancel = context.WithCancel(ctx)

	cfg, err := g.loadConfig(g.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g.cfg = cfg

	g.tracerShutdown, err = telemetry.InitTracer(cfg.Telemetry, os.Stderr, g.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	table, err := g.openTable(g.ctx, cfg)
	if err != nil {
		return fmt.Errorf("open route table: %w", err)
	}
	g.table.Store(table)

	if err := g.initEvents(cfg, table); err != nil {
		return fmt.Errorf("init events: %w", err)
	}

	g.router.current.Store(router.New(table, g.events, cfg.Router, g.logger))

	if err := g.startServers(cfg); err != nil {
		return fmt.Errorf("start servers: %w", err)
	}

	go g.watchConfig()

	g.logger.Info("edge router started",
		slog.String("edge_addr", g.edgeListener.Addr().String()),
		slog.String("admin_addr", g.adminListener.Addr().String()),
		slog.String("table", cfg.Table.Type),
		slog.String("fallback_host", cfg.Router.Fallback.Host()))

	return nil
}

func (g *Gateway) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := g.config.Load(ctx)
	if err != nil {
		return nil, err
	}
	return g.applyOverrides(cfg)
}

func (g *Gateway) applyOverrides(cfg *config.Config) (*config.Config, error) {
	if len(g.overrides) == 0 {
		return cfg, nil
	}
	c := *cfg
	for _, o := range g.overrides {
		o(&c)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (g *Gateway) openTable(ctx context.Context, cfg *config.Config) (ports.RouteStore, error) {
	if g.injectedTable != nil {
		return g.injectedTable, nil
	}
	return OpenTable(ctx, cfg, g.logger)
}

// initEvents builds the diagnostics fan-out: log sink, metrics, optional audit
// store and any injected sinks, all behind a non-blocking queue.
func (g *Gateway) initEvents(cfg *config.Config, table ports.RouteStore) error {
	g.metrics = metrics.NewPublisher(g.registry)
	sinks := []ports.EventPublisher{logsink.NewPublisher(g.logger), g.metrics}

	if cfg.Events.Audit {
		store, ok := eventStoreOf(table)
		if !ok {
			p, err := sqlite.NewProvider(cfg.Table.SQLite.Path)
			if err != nil {
				return fmt.Errorf("open audit store: %w", err)
			}
			store = p
			g.auditCloser = p.Close
		}
		publisher, err := direct.NewPublisher(store)
		if err != nil {
			return err
		}
		g.auditStore = store
		sinks = append(sinks, publisher)
		g.logger.Info("resolution audit enabled")
	}

	sinks = append(sinks, g.sinks...)
	g.events = async.NewPublisher(cfg.Events.Buffer, g.logger, sinks...)
	return nil
}

func (g *Gateway) startServers(cfg *config.Config) error {
	edgeAddr := g.edgeAddr
	if edgeAddr == "" {
		edgeAddr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	adminAddr := g.adminAddr
	if adminAddr == "" {
		adminAddr = fmt.Sprintf(":%d", cfg.Server.AdminPort)
	}

	var err error
	g.edgeListener, err = net.Listen("tcp", edgeAddr)
	if err != nil {
		return fmt.Errorf("listen edge %s: %w", edgeAddr, err)
	}
	g.adminListener, err = net.Listen("tcp", adminAddr)
	if err != nil {
		g.edgeListener.Close()
		return fmt.Errorf("listen admin %s: %w", adminAddr, err)
	}

	// Edge listener: every request is routed.
	r := chi.NewRouter()
	r.Use(apimw.RequestIDMiddleware)
	r.Use(apimw.LoggingMiddleware(g.logger))
	r.Use(apimw.TimeoutMiddleware(cfg.Server.RequestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "edge-router")
	})
	r.Handle("/*", proxy.NewHandler(g.router, proxy.Options{
		Transport:    g.transport,
		AllowPrivate: cfg.Proxy.AllowPrivate,
		Logger:       g.logger,
	}))

	admin := controlplane.NewServer(controlplane.Options{
		Routes:        g.table.Load,
		Events:        g.auditStore,
		Resolver:      dryRunRouter{live: g.router},
		Hook:          hook.NewHandler(g.router),
		Authenticator: auth.NewAuthenticator(cfg.Admin.APIKeys),
		Gatherer:      g.registry,
		Outcomes:      g.metrics.Counts,
		TableStats:    g.table.stats,
		Logger:        g.logger,
	})

	g.edgeServer = &http.Server{
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.adminServer = &http.Server{
		Handler:      otelhttp.NewHandler(admin, "edge-admin"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serve := func(name string, srv *http.Server, l net.Listener) {
		g.logger.Info("HTTP server listening", slog.String("server", name), slog.String("addr", l.Addr().String()))
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("server error", slog.String("server", name), slog.String("error", err.Error()))
		}
	}
	go serve("edge", g.edgeServer, g.edgeListener)
	go serve("admin", g.adminServer, g.adminListener)

	return nil
}

// EdgeAddr returns the edge listener address once started.
func (g *Gateway) EdgeAddr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.edgeListener == nil {
		return ""
	}
	return g.edgeListener.Addr().String()
}

// AdminAddr returns the admin listener address once started.
func (g *Gateway) AdminAddr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.adminListener == nil {
		return ""
	}
	return g.adminListener.Addr().String()
}

// Router returns the router currently in use.
func (g *Gateway) Router() *router.Router {
	return g.router.current.Load()
}

// Shutdown gracefully stops the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down edge router")

	if g.cancel != nil {
		g.cancel()
	}

	var firstErr error
	for _, srv := range []*http.Server{g.edgeServer, g.adminServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// Drain events before closing the stores they write to.
	if g.events != nil {
		if err := g.events.Close(); err != nil {
			g.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if g.auditCloser != nil {
		if err := g.auditCloser(); err != nil {
			g.logger.Error("failed to close audit store", slog.String("error", err.Error()))
		}
	}

	if table := g.table.Load(); table != nil && g.injectedTable == nil {
		if err := table.Close(); err != nil {
			g.logger.Error("failed to close route table", slog.String("error", err.Error()))
		}
	}

	if g.config != nil {
		if err := g.config.Close(); err != nil {
			g.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	if g.tracerShutdown != nil {
		if err := g.tracerShutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("edge router shutdown complete")
	return firstErr
}

// watchConfig watches for config changes and reloads.
func (g *Gateway) watchConfig() {
	onChange := func(newCfg *config.Config) {
		g.logger.Info("config changed, reloading")
		if err := g.reload(newCfg); err != nil {
			g.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := g.config.Watch(g.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload swaps in a router for cfg. The route table is reopened only when the
// table settings changed; listener settings require a restart.
func (g *Gateway) reload(newCfg *config.Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg, err := g.applyOverrides(newCfg)
	if err != nil {
		return err
	}

	if cfg.Server != g.cfg.Server {
		g.logger.Warn("server settings changed; restart to apply")
	}

	table := g.table.Load()
	var old ports.RouteStore
	reopened := false
	if g.injectedTable == nil && !reflect.DeepEqual(cfg.Table, g.cfg.Table) {
		next, err := OpenTable(g.ctx, cfg, g.logger)
		if err != nil {
			return fmt.Errorf("reopen route table: %w", err)
		}
		old, table = table, next
		reopened = true
		g.table.Store(table)
	}

	g.router.current.Store(router.New(table, g.events, cfg.Router, g.logger))
	g.cfg = cfg

	if old != nil {
		if es, ok := eventStoreOf(old); ok && es == g.auditStore {
			// The audit sink still writes here; it is closed on shutdown.
			g.auditCloser = old.Close
			old = nil
		}
	}
	if old != nil {
		// Requests already routing through the old table get RequestTimeout to finish.
		time.AfterFunc(cfg.Server.RequestTimeout, func() {
			if err := old.Close(); err != nil {
				g.logger.Warn("failed to close previous route table", slog.String("error", err.Error()))
			}
		})
	}

	g.logger.Info("reload complete",
		slog.String("table", cfg.Table.Type),
		slog.Bool("table_reopened", reopened))
	return nil
}

// staticConfig is a ConfigProvider for a fixed configuration.
type staticConfig struct {
	cfg *config.Config
}

func (s *staticConfig) Load(ctx context.Context) (*config.Config, error) {
	c := *s.cfg
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *staticConfig) Watch(ctx context.Context, onChange func(*config.Config)) error {
	return nil
}

func (s *staticConfig) Close() error {
	return nil
}
