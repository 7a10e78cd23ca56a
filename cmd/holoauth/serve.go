// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/config"
	"github.com/holomush/holoauth/internal/httpapi"
	"github.com/holomush/holoauth/internal/logging"
	"github.com/holomush/holoauth/internal/observability"
	"github.com/holomush/holoauth/internal/store"
	"github.com/holomush/holoauth/pkg/errutil"
)

const (
	shutdownTimeout  = 5 * time.Second
	readinessTimeout = 2 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(opts *rootOptions) *cobra.Command {
	return newServeCmd(opts, nil)
}

func newServeCmd(opts *rootOptions, deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API serving POST /signup, POST /login and GET /user,
plus the metrics and health endpoints when metrics-addr is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, opts, deps)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps starts the server with injectable dependencies and
// blocks until a signal arrives, ctx ends, or a server fails.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, opts *rootOptions, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	cfg, err := config.Load(config.LoadOptions{File: opts.configFile, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	secret, err := cfg.SigningSecret()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.Setup("holoauth", version, cfg.LogFormat, level, deps.LogWriter)
	slog.SetDefault(logger)
	logger.Info("starting holoauth", "config", cfg)

	if cfg.AutoMigrate && cfg.Store == config.StorePostgres {
		if err := autoMigrate(deps, cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}

	users, err := deps.StoreFactory(ctx, cfg)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").With("store", cfg.Store).Wrap(err)
	}
	defer users.Close()
	logger.Info("user store ready", "store", cfg.Store)

	hasher, err := newHasher(cfg)
	if err != nil {
		return err
	}
	tokens, err := auth.NewJWTTokenService(auth.JWTConfig{
		Secret: secret,
		TTL:    cfg.TokenTTL,
		Issuer: cfg.TokenIssuer,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, store.ReadinessCheck(users, readinessTimeout), logger)
		metrics = obsServer.Metrics()
	}

	serviceOpts := []auth.Option{
		auth.WithLogger(logger.With("component", "auth")),
		auth.WithTimeout(cfg.RequestTimeout),
		auth.WithHashConcurrency(cfg.HashConcurrency),
	}
	routerCfg := httpapi.RouterConfig{Logger: logger, CORSOrigins: cfg.CORSOrigins}
	if metrics != nil {
		serviceOpts = append(serviceOpts, auth.WithOutcomeRecorder(metrics))
		routerCfg.Metrics = metrics
	}

	svc, err := auth.NewService(users, hasher, tokens, serviceOpts...)
	if err != nil {
		return err
	}
	routerCfg.Auth = svc

	if cfg.LoginRate > 0 {
		limiter := httpapi.NewLoginLimiter(cfg.LoginRate, cfg.LoginBurst, httpapi.DefaultLimiterIdle)
		defer limiter.Stop()
		routerCfg.LoginLimiter = limiter
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := httpapi.NewRouter(routerCfg)
	if err != nil {
		return err
	}

	httpServer := deps.HTTPServerFactory(cfg.HTTPAddr, router, logger)
	httpErrCh, err := httpServer.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, httpErrCh, "http", logger)

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopServer(httpServer, "http", logger)
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("holoauth listening on " + httpServer.Addr())
	logger.Info("holoauth ready", "http_addr", httpServer.Addr())

	var failure error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
		if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
			failure = cause
		}
	}

	stopServer(httpServer, "http", logger)
	if obsServer != nil {
		stopServer(obsServer, "observability", logger)
	}

	logger.Info("shutdown complete")
	return failure
}

func autoMigrate(deps *ServeDeps, databaseURL string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// newHasher builds the hasher for new passwords. Both hashers verify
// either format.
func newHasher(cfg *config.Config) (auth.PasswordHasher, error) {
	if cfg.PasswordAlgorithm == config.AlgorithmBcrypt {
		return auth.NewBcryptHasher(cfg.BcryptCost)
	}
	return auth.NewArgon2idHasherWithParams(cfg.Argon2Params())
}

type stopper interface {
	Stop(ctx context.Context) error
}

func stopServer(s stopper, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		errutil.LogError(logger.With("server", name), "error stopping server", err)
	}
}

// monitorServerErrors cancels the serve context with the first error a
// server reports. It returns when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelCauseFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return
		}
		logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
		cancel(oops.Code("SERVER_FAILED").With("server", serverName).Wrap(err))
	case <-ctx.Done():
	}
}
