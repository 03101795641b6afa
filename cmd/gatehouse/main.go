// Command gatehouse runs the request authentication gateway.
//
// Usage:
//
//	gatehouse [--config path]
//
// Configuration is loaded from a YAML file and GATEHOUSE_* environment
// variables, see package config.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/rhuss/gatehouse/pkg/api"
	"github.com/rhuss/gatehouse/pkg/auth"
	"github.com/rhuss/gatehouse/pkg/config"
	"github.com/rhuss/gatehouse/pkg/debug"
	transporthttp "github.com/rhuss/gatehouse/pkg/transport/http"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("gatehouse", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the YAML config file")
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Println(api.Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	unknownCats := debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)
	logger := slog.Default()
	if len(unknownCats) > 0 {
		logger.Warn("ignoring unknown debug categories", "categories", unknownCats)
	}

	if cfg.Server.VersionPath != api.VersionPath {
		logger.Warn("version path overridden, authentication bypass moved",
			"version_path", cfg.Server.VersionPath, "default", api.VersionPath)
	}

	ctx := context.Background()
	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	gwOpts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithVersionPath(cfg.Server.VersionPath),
	}
	if c.limiter != nil {
		gwOpts = append(gwOpts, auth.WithRateLimiter(c.limiter))
	}
	gateway := auth.NewGateway(c.authn, gwOpts...)

	srvOpts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithVersionPath(cfg.Server.VersionPath),
		transporthttp.WithLogger(logger),
	}
	if cfg.Observability.Metrics.Enabled {
		srvOpts = append(srvOpts, transporthttp.WithMetricsPath(cfg.Observability.Metrics.Path))
	} else {
		srvOpts = append(srvOpts, transporthttp.WithMetricsPath(""))
	}
	if c.store != nil {
		srvOpts = append(srvOpts, transporthttp.WithHealthCheck(c.store.HealthCheck))
	}

	var keys transporthttp.KeyManager
	if c.keys != nil {
		keys = c.keys
	}

	logger.Info("gatehouse configured",
		"auth", cfg.AuthTypes(),
		"default_decision", cfg.Auth.DefaultDecision,
		"storage", cfg.Storage.Type,
		"secrets", cfg.Secrets.Type,
		"rate_limit", cfg.Auth.RateLimit.Enabled,
		"debug", debug.Categories(),
	)

	return transporthttp.NewServer(gateway, keys, srvOpts...).ListenAndServe()
}
