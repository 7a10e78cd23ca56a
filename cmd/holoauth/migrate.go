// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/config"
	"github.com/holomush/holoauth/internal/store"
)

// MigratorFactory opens a migrator for a database URL.
type MigratorFactory func(databaseURL string) (Migrator, error)

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd(opts *rootOptions) *cobra.Command {
	return newMigrateCmd(opts, (&ServeDeps{}).withDefaults().MigratorFactory)
}

func newMigrateCmd(opts *rootOptions, factory MigratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, roll back or inspect the embedded PostgreSQL migrations.
The database is taken from --database-url, HOLOAUTH_DATABASE_URL or the
config file.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, factory, func(m Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			steps, _ := cmd.Flags().GetInt("steps")
			if !all && steps < 1 {
				return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("steps must be at least 1")
			}
			return withMigrator(cmd, opts, factory, func(m Migrator) error {
				var err error
				if all {
					cmd.Println("Rolling back all migrations...")
					err = m.Down()
				} else {
					cmd.Printf("Rolling back %d migration(s)...\n", steps)
					err = m.Steps(-steps)
				}
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "roll back migrations").Wrap(err)
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}
	down.Flags().Int("steps", 1, "number of migrations to roll back")
	down.Flags().Bool("all", false, "roll back every migration")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, factory, func(m Migrator) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				printStatus(cmd, status)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it",
		Long: `Set the recorded migration version and clear the dirty flag.
Only use this to recover after a failed migration has been fixed by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, opts, factory, func(m Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced migration version to %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, opts *rootOptions, factory MigratorFactory, fn func(Migrator) error) error {
	databaseURL, err := migrateDatabaseURL(cmd, opts)
	if err != nil {
		return err
	}

	m, err := factory(databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: failed to close migrator:", closeErr)
		}
	}()

	return fn(m)
}

// migrateDatabaseURL resolves database-url through the usual config sources.
func migrateDatabaseURL(cmd *cobra.Command, opts *rootOptions) (string, error) {
	cfg, err := config.Load(config.LoadOptions{File: opts.configFile, Flags: cmd.Flags()})
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", oops.Code("CONFIG_INVALID").With("key", "database-url").Errorf("database-url is required")
	}
	return cfg.DatabaseURL, nil
}

func printStatus(cmd *cobra.Command, status store.Status) {
	state := "clean"
	if status.Dirty {
		state = "dirty"
	}
	cmd.Printf("Current version: %d (%s)\n", status.Version, state)
	printVersions(cmd, "Applied", status.Applied)
	printVersions(cmd, "Pending", status.Pending)
}

func printVersions(cmd *cobra.Command, label string, versions []uint) {
	if len(versions) == 0 {
		cmd.Printf("%s: none\n", label)
		return
	}
	cmd.Printf("%s:\n", label)
	for _, v := range versions {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		cmd.Printf("  %s\n", name)
	}
}

// parseForceVersion parses the force argument. Parsing stops at the first
// non-digit, so "3abc" is 3.
func parseForceVersion(arg string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(arg, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("version", arg).Wrap(err)
	}
	return version, nil
}
