package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/tjfontaine/edge-origin-router/internal/auth"
	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
	"github.com/tjfontaine/edge-origin-router/internal/pkg/config"
	"github.com/tjfontaine/edge-origin-router/internal/router"
	"github.com/tjfontaine/edge-origin-router/internal/runtime"
	"github.com/tjfontaine/edge-origin-router/pkg/gateway"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "edge-router",
		Usage: "route <service>-<tenant> subdomains to per-tenant origins",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the YAML config file",
				Sources: cli.EnvVars("EDGE_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			resolveCommand(),
			routesCommand(),
			keygenCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cmd *cli.Command) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the edge and admin listeners",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger := newLogger(cmd)

			gw, err := gateway.New(
				gateway.WithLogger(logger),
				gateway.WithFileConfig(cmd.String("config")),
			)
			if err != nil {
				return fmt.Errorf("create gateway: %w", err)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := gw.Start(ctx); err != nil {
				return fmt.Errorf("start gateway: %w", err)
			}

			<-ctx.Done()
			logger.Info("shutdown signal received, stopping edge router")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return gw.Shutdown(shutdownCtx)
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "print the origin a host would be routed to",
		ArgsUsage: "<host>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return cli.Exit("usage: edge-router resolve <host>", 2)
			}
			logger := newLogger(cmd)

			cfg, table, err := openTable(ctx, cmd, logger)
			if err != nil {
				return err
			}
			defer table.Close()

			req := &domain.Request{Method: "GET", URI: "/", Headers: domain.Headers{}}
			req.Headers.Set("host", cmd.Args().First())
			out := router.New(table, nil, cfg.Router, logger).Route(ctx, req)

			return printJSON(map[string]any{
				"host":     cmd.Args().First(),
				"fallback": out.Origin.IsFallback(),
				"origin":   out.Origin,
			})
		},
	}
}

func routesCommand() *cli.Command {
	return &cli.Command{
		Name:  "routes",
		Usage: "manage the resolution table",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list all routes",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					_, table, err := openTable(ctx, cmd, newLogger(cmd))
					if err != nil {
						return err
					}
					defer table.Close()

					routes, err := table.ListRoutes(ctx)
					if err != nil {
						return fmt.Errorf("list routes: %w", err)
					}
					tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "KEY\tDESTINATION\tUPDATED")
					for _, r := range routes {
						updated := "-"
						if !r.UpdatedAt.IsZero() {
							updated = r.UpdatedAt.Format(time.RFC3339)
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Key(), r.Destination, updated)
					}
					return tw.Flush()
				},
			},
			{
				Name:      "put",
				Usage:     "create or replace a route",
				ArgsUsage: "<service>-<tenant> <destination>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 2 {
						return cli.Exit("usage: edge-router routes put <service>-<tenant> <destination>", 2)
					}
					key, ok := domain.ParseKey(cmd.Args().Get(0))
					if !ok {
						return cli.Exit(fmt.Sprintf("invalid key %q", cmd.Args().Get(0)), 2)
					}
					dest := cmd.Args().Get(1)
					if _, err := domain.ValidateDestination(dest); err != nil {
						return cli.Exit(err.Error(), 2)
					}

					logger := newLogger(cmd)
					cfg, table, err := openTable(ctx, cmd, logger)
					if err != nil {
						return err
					}
					defer table.Close()
					warnEphemeral(cfg, logger)

					route := &domain.Route{ServiceID: key.ServiceID, TenantID: key.TenantID, Destination: dest}
					if err := table.PutRoute(ctx, route); err != nil {
						return fmt.Errorf("put route: %w", err)
					}
					return printJSON(route)
				},
			},
			{
				Name:      "delete",
				Usage:     "remove a route",
				ArgsUsage: "<service>-<tenant>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 1 {
						return cli.Exit("usage: edge-router routes delete <service>-<tenant>", 2)
					}
					key, ok := domain.ParseKey(cmd.Args().First())
					if !ok {
						return cli.Exit(fmt.Sprintf("invalid key %q", cmd.Args().First()), 2)
					}

					logger := newLogger(cmd)
					cfg, table, err := openTable(ctx, cmd, logger)
					if err != nil {
						return err
					}
					defer table.Close()
					warnEphemeral(cfg, logger)

					if err := table.DeleteRoute(ctx, key); err != nil {
						return fmt.Errorf("delete route %s: %w", key, err)
					}
					fmt.Printf("deleted %s\n", key)
					return nil
				},
			},
		},
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:      "keygen",
		Usage:     "hash an admin API key for config.yaml",
		ArgsUsage: "<api-key>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return cli.Exit("usage: edge-router keygen <api-key>", 2)
			}
			keyHash := auth.HashAPIKey(cmd.Args().First())

			fmt.Printf("SHA-256 Hash: %s\n", keyHash)
			fmt.Println("\nAdd this to your config.yaml:")
			fmt.Printf("admin:\n")
			fmt.Printf("  api_keys:\n")
			fmt.Printf("    - key_hash: \"%s\"\n", keyHash)
			fmt.Printf("      description: \"Generated key\"\n")
			return nil
		},
	}
}

func openTable(ctx context.Context, cmd *cli.Command, logger *slog.Logger) (*config.Config, ports.RouteStore, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	table, err := runtime.OpenTable(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open route table: %w", err)
	}
	return cfg, table, nil
}

func warnEphemeral(cfg *config.Config, logger *slog.Logger) {
	if cfg.Table.Type == config.TableStatic {
		logger.Warn("static table changes are not persisted; edit table.routes in the config instead")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
