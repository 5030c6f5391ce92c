// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package main

import (
	"fmt"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// migratorFactory is swapped out by tests.
var migratorFactory = newMigrator

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back or inspect the PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			pending, err := m.Pending()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("No pending migrations")
				return nil
			}
			cmd.Printf("Applying %d migration(s)...\n", len(pending))
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations completed successfully")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, one step by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return oops.Code("INVALID_STEPS").With("steps", args[0]).Errorf("steps must be a positive integer")
				}
				steps = n
			}
			if err := m.Steps(-steps); err != nil {
				return err
			}
			cmd.Printf("Rolled back %d migration(s)\n", steps)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			pending, err := m.Pending()
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			cmd.Printf("Version: %d (%s), pending: %d\n", version, state, len(pending))
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			if err := m.Force(v); err != nil {
				return err
			}
			cmd.Printf("Forced version %d\n", v)
			return nil
		}),
	})

	return cmd
}

func withMigrator(run func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		m, err := migratorFactory(cfg.Database.URL)
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				cmd.PrintErrln("warning: failed to close migrator:", closeErr)
			}
		}()

		return run(cmd, m, args)
	}
}
