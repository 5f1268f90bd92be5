package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/edge-origin-router/internal/adapters/config/file"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
	"github.com/tjfontaine/edge-origin-router/internal/pkg/config"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		provider, err := file.NewProvider(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.config = provider
		return nil
	}
}

// WithConfig uses a fixed configuration, for embedding and tests.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		g.config = &staticConfig{cfg: cfg}
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
// For advanced use cases where you need full control over config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(g *Gateway) error {
		g.config = provider
		return nil
	}
}

// WithStaticRoutes serves routes from an in-memory map, overriding table config.
func WithStaticRoutes(routes map[string]string) Option {
	return withTable(func(t *config.TableConfig) {
		t.Type = config.TableStatic
		t.Routes = routes
	})
}

// WithSQLite serves routes from a SQLite database; table.routes seeds it.
func WithSQLite(path string) Option {
	return withTable(func(t *config.TableConfig) {
		t.Type = config.TableSQLite
		t.SQLite.Path = path
	})
}

// WithRedis serves routes from the "<prefix>:routes" hash.
func WithRedis(url, prefix string) Option {
	return withTable(func(t *config.TableConfig) {
		t.Type = config.TableRedis
		t.Redis = config.RedisConfig{URL: url, Prefix: prefix}
	})
}

// WithDynamoDB serves routes from a DynamoDB table. endpoint may be empty.
func WithDynamoDB(table, endpoint, region string) Option {
	return withTable(func(t *config.TableConfig) {
		t.Type = config.TableDynamoDB
		t.DynamoDB = config.DynamoDBConfig{Table: table, Endpoint: endpoint, Region: region}
	})
}

// WithConsul serves routes from Consul KV under prefix.
func WithConsul(address, prefix, token string) Option {
	return withTable(func(t *config.TableConfig) {
		t.Type = config.TableConsul
		t.Consul = config.ConsulConfig{Address: address, Prefix: prefix, Token: token}
	})
}

func withTable(apply func(*config.TableConfig)) Option {
	return func(g *Gateway) error {
		g.overrides = append(g.overrides, func(c *config.Config) { apply(&c.Table) })
		return nil
	}
}

// WithRouteStore uses a caller-provided route store. Table config is then ignored
// and the store is not closed by the gateway.
func WithRouteStore(store ports.RouteStore) Option {
	return func(g *Gateway) error {
		g.injectedTable = store
		return nil
	}
}

// WithEventPublisher adds a sink for resolution events.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(g *Gateway) error {
		g.sinks = append(g.sinks, publisher)
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithPrometheusRegistry registers metrics with reg instead of a private registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(g *Gateway) error {
		g.registry = reg
		return nil
	}
}

// WithListenAddrs overrides the edge and admin listen addresses, e.g. "127.0.0.1:0".
func WithListenAddrs(edge, admin string) Option {
	return func(g *Gateway) error {
		g.edgeAddr = edge
		g.adminAddr = admin
		return nil
	}
}

// WithUpstreamTransport sends all origin fetches through rt.
func WithUpstreamTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) error {
		g.transport = rt
		return nil
	}
}
