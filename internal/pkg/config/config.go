package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys are separated by a
// double underscore: EDGE_SERVER__PORT sets server.port.
const EnvPrefix = "EDGE_"

// Table backend types.
const (
	TableStatic   = "static"
	TableSQLite   = "sqlite"
	TableRedis    = "redis"
	TableDynamoDB = "dynamodb"
	TableConsul   = "consul"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Router    RouterConfig    `koanf:"router"`
	Table     TableConfig     `koanf:"table"`
	Events    EventsConfig    `koanf:"events"`
	Admin     AdminConfig     `koanf:"admin"`
	Proxy     ProxyConfig     `koanf:"proxy"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`       // edge listener
	AdminPort      int           `koanf:"admin_port"` // hook, control plane, metrics
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"` // whole request path deadline
}

type RouterConfig struct {
	LookupTimeout time.Duration  `koanf:"lookup_timeout"`
	Fallback      FallbackConfig `koanf:"fallback"`
	Origin        OriginConfig   `koanf:"origin"`
}

// FallbackConfig locates the static error document. DomainName wins over Bucket.
type FallbackConfig struct {
	Bucket     string `koanf:"bucket"`
	DomainName string `koanf:"domain_name"`
	Path       string `koanf:"path"`
}

// Host returns the fallback content host.
func (f FallbackConfig) Host() string {
	if f.DomainName != "" {
		return f.DomainName
	}
	return f.Bucket + ".s3.amazonaws.com"
}

// OriginConfig holds the custom-origin attributes applied to resolved destinations.
// Timeouts are whole seconds, as the platform expects.
type OriginConfig struct {
	Port             int      `koanf:"port"`
	Protocol         string   `koanf:"protocol"`
	SSLProtocols     []string `koanf:"ssl_protocols"`
	ReadTimeout      int      `koanf:"read_timeout"`
	KeepaliveTimeout int      `koanf:"keepalive_timeout"`
}

type TableConfig struct {
	Type     string            `koanf:"type"`   // static, sqlite, redis, dynamodb, consul
	Routes   map[string]string `koanf:"routes"` // "<service>-<tenant>" -> destination; seeds sqlite
	SQLite   SQLiteConfig      `koanf:"sqlite"`
	Redis    RedisConfig       `koanf:"redis"`
	DynamoDB DynamoDBConfig    `koanf:"dynamodb"`
	Consul   ConsulConfig      `koanf:"consul"`
	Cache    CacheConfig       `koanf:"cache"`
	Retry    RetryConfig       `koanf:"retry"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	URL    string `koanf:"url"`
	Prefix string `koanf:"prefix"`
}

type DynamoDBConfig struct {
	Table    string `koanf:"table"`
	Endpoint string `koanf:"endpoint"` // optional, e.g. DynamoDB Local
	Region   string `koanf:"region"`
}

type ConsulConfig struct {
	Address string `koanf:"address"`
	Prefix  string `koanf:"prefix"`
	Token   string `koanf:"token"`
}

// CacheConfig configures the lookup cache. Size 0 disables caching.
type CacheConfig struct {
	Size        int           `koanf:"size"`
	TTL         time.Duration `koanf:"ttl"`
	NegativeTTL time.Duration `koanf:"negative_ttl"`
}

type RetryConfig struct {
	Attempts int           `koanf:"attempts"`
	Backoff  time.Duration `koanf:"backoff"`
}

type EventsConfig struct {
	Buffer int  `koanf:"buffer"`
	Audit  bool `koanf:"audit"` // persist events to the SQL store
}

type AdminConfig struct {
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Description string `koanf:"description"`
}

type ProxyConfig struct {
	AllowPrivate bool `koanf:"allow_private"` // permit upstreams on loopback/private ranges
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	ServiceName string `koanf:"service_name"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file at path (a missing file is not an error), applies
// EDGE_ environment overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Table.Redis.URL = substituteEnvVars(cfg.Table.Redis.URL)
	cfg.Table.Consul.Token = substituteEnvVars(cfg.Table.Consul.Token)
	for key, dest := range cfg.Table.Routes {
		cfg.Table.Routes[key] = substituteEnvVars(dest)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with the reference settings.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.AdminPort == 0 {
		c.Server.AdminPort = 9090
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 5 * time.Second
	}

	if c.Router.LookupTimeout == 0 {
		c.Router.LookupTimeout = 2 * time.Second
	}
	c.Router.Fallback.ApplyDefaults()
	c.Router.Origin.ApplyDefaults()

	if c.Table.Type == "" {
		c.Table.Type = TableStatic
	}
	if c.Table.SQLite.Path == "" {
		c.Table.SQLite.Path = "./data/routes.db"
	}
	if c.Table.Redis.URL == "" {
		c.Table.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Table.Redis.Prefix == "" {
		c.Table.Redis.Prefix = "edge"
	}
	if c.Table.DynamoDB.Table == "" {
		c.Table.DynamoDB.Table = "service-endpoints"
	}
	if c.Table.Consul.Prefix == "" {
		c.Table.Consul.Prefix = "edge/routes"
	}
	if c.Table.Cache.TTL == 0 {
		c.Table.Cache.TTL = 30 * time.Second
	}
	if c.Table.Cache.NegativeTTL == 0 {
		c.Table.Cache.NegativeTTL = 5 * time.Second
	}
	if c.Table.Retry.Backoff == 0 {
		c.Table.Retry.Backoff = 50 * time.Millisecond
	}

	if c.Events.Buffer == 0 {
		c.Events.Buffer = 256
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "edge-origin-router"
	}
}

// ApplyDefaults fills the reference fallback bucket and error document path.
func (f *FallbackConfig) ApplyDefaults() {
	if f.Bucket == "" && f.DomainName == "" {
		f.Bucket = "edge-router-fallback"
	}
	if f.Path == "" {
		f.Path = "/404.html"
	}
}

// ApplyDefaults fills the reference custom-origin attributes.
func (o *OriginConfig) ApplyDefaults() {
	if o.Port == 0 {
		o.Port = 443
	}
	if o.Protocol == "" {
		o.Protocol = "https"
	}
	if len(o.SSLProtocols) == 0 {
		o.SSLProtocols = []string{"TLSv1", "TLSv1.1", "TLSv1.2"}
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 15
	}
	if o.KeepaliveTimeout == 0 {
		o.KeepaliveTimeout = 5
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Table.Type {
	case TableStatic, TableSQLite, TableRedis, TableDynamoDB, TableConsul:
	default:
		return fmt.Errorf("table.type: unknown backend %q", c.Table.Type)
	}
	if !strings.HasPrefix(c.Router.Fallback.Path, "/") {
		return fmt.Errorf("router.fallback.path must start with '/'")
	}
	for _, p := range c.Router.Origin.SSLProtocols {
		switch p {
		case "SSLv3", "TLSv1", "TLSv1.1", "TLSv1.2":
		default:
			return fmt.Errorf("router.origin.ssl_protocols: unknown protocol %q", p)
		}
	}
	if c.Router.Origin.Protocol != "https" && c.Router.Origin.Protocol != "http" {
		return fmt.Errorf("router.origin.protocol: must be http or https, got %q", c.Router.Origin.Protocol)
	}
	if c.Table.Retry.Attempts < 0 {
		return fmt.Errorf("table.retry.attempts must not be negative")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
