// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/auth/memory"
	"github.com/holomush/holoauth/internal/auth/postgres"
	"github.com/holomush/holoauth/internal/config"
	"github.com/holomush/holoauth/internal/httpapi"
	"github.com/holomush/holoauth/internal/observability"
	"github.com/holomush/holoauth/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory opens the user store selected by cfg.Store.
	// Default: openStore
	StoreFactory func(ctx context.Context, cfg *config.Config) (UserStore, error)

	// MigratorFactory creates a migrator for auto-migrate.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// HTTPServerFactory creates the API server.
	// Default: httpapi.NewServer
	HTTPServerFactory func(addr string, handler http.Handler, logger *slog.Logger) HTTPServer

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer
}

// UserStore is a user repository with a connection lifecycle.
type UserStore interface {
	auth.UserRepository
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the store.Migrator methods used by the CLI.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// ObservabilityServer wraps the observability.Server methods used by serve.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// HTTPServer wraps the httpapi.Server methods used by serve.
type HTTPServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreFactory == nil {
		out.StoreFactory = openStore
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.HTTPServerFactory == nil {
		out.HTTPServerFactory = func(addr string, handler http.Handler, logger *slog.Logger) HTTPServer {
			return httpapi.NewServer(addr, handler, logger)
		}
	}
	return &out
}

type memoryStore struct {
	*memory.UserRepository
}

func (memoryStore) Close() {}

type postgresStore struct {
	*postgres.UserRepository
	pool *pgxpool.Pool
}

func (s postgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s postgresStore) Close() {
	s.pool.Close()
}

// openStore opens the configured user store.
func openStore(ctx context.Context, cfg *config.Config) (UserStore, error) {
	if cfg.Store == config.StoreMemory {
		return memoryStore{memory.NewUserRepository()}, nil
	}
	pool, err := store.Connect(ctx, cfg.DatabaseURL, store.PoolConfig{})
	if err != nil {
		return nil, err
	}
	return postgresStore{UserRepository: postgres.NewUserRepository(pool), pool: pool}, nil
}
