// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection defaults.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
	maxConnectBackoff      = 10 * time.Second
)

// PoolConfig tunes Connect.
type PoolConfig struct {
	// MaxConns caps the pool size. Zero keeps the pgx default.
	MaxConns int32

	// ConnectAttempts is how many times the initial ping is tried.
	ConnectAttempts uint64

	// ConnectBackoff is the first delay between attempts; it doubles each retry.
	ConnectBackoff time.Duration
}

// Connect opens a pgx pool and waits until the database answers a ping,
// retrying with exponential backoff so the service can start before the
// database is ready.
func Connect(ctx context.Context, databaseURL string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	base := cfg.ConnectBackoff
	if base <= 0 {
		base = DefaultConnectBackoff
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.WithCappedDuration(maxConnectBackoff, retry.NewExponential(base)))

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			slog.WarnContext(ctx, "database not reachable yet", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}

	return pool, nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck returns a function reporting whether p answers a ping
// within timeout.
func ReadinessCheck(p Pinger, timeout time.Duration) func() bool {
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return p.Ping(ctx) == nil
	}
}
