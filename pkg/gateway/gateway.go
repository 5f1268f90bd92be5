// Package gateway provides the public API for embedding the edge origin router.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/edge-origin-router/internal/runtime"
)

// Gateway is the main entry point for running the edge origin router.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/routes.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Route tables
	WithStaticRoutes = runtime.WithStaticRoutes
	WithSQLite       = runtime.WithSQLite
	WithRedis        = runtime.WithRedis
	WithDynamoDB     = runtime.WithDynamoDB
	WithConsul       = runtime.WithConsul
	WithRouteStore   = runtime.WithRouteStore

	// Events
	WithEventPublisher     = runtime.WithEventPublisher
	WithPrometheusRegistry = runtime.WithPrometheusRegistry

	// Advanced options
	WithLogger            = runtime.WithLogger
	WithListenAddrs       = runtime.WithListenAddrs
	WithUpstreamTransport = runtime.WithUpstreamTransport
)
