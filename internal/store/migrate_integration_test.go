// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/holoauth/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		migrator  *store.Migrator
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("holoauth_test"),
			postgres.WithUsername("holoauth"),
			postgres.WithPassword("holoauth"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			_ = migrator.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("starts at version zero with everything pending", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(BeZero())
		Expect(status.Pending).To(Equal([]uint{1, 2}))
	})

	It("applies all migrations", func() {
		Expect(migrator.Up()).To(Succeed())

		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(Equal(uint(2)))
		Expect(status.Dirty).To(BeFalse())
		Expect(status.Pending).To(BeEmpty())
	})

	It("is idempotent", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("steps down and up", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))

		Expect(migrator.Steps(1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
	})

	It("enforces unique emails", func() {
		pool, err := store.Connect(ctx, connStr, store.PoolConfig{ConnectAttempts: 3, ConnectBackoff: 100 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		insert := `INSERT INTO users (id, email, name, password_hash) VALUES ($1, $2, $3, $4)`
		_, err = pool.Exec(ctx, insert, "01HZZZZZZZZZZZZZZZZZZZZZZ1", "a@x.com", "Ann", "h")
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, insert, "01HZZZZZZZZZZZZZZZZZZZZZZ2", "a@x.com", "Ann2", "h")
		Expect(err).To(MatchError(ContainSubstring("users_email_key")))
	})

	It("reports readiness", func() {
		pool, err := pgxpool.New(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		Expect(store.ReadinessCheck(pool, 2*time.Second)()).To(BeTrue())
	})

	It("rolls everything back", func() {
		Expect(migrator.Down()).To(Succeed())
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(BeZero())
	})
})
