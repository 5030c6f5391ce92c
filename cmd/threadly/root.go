// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/threadly/threadly/internal/config"
	"github.com/threadly/threadly/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Threadly CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threadly",
		Short: "Threadly - account and session service",
		Long: `Threadly serves registration, login, password recovery and
cookie sessions over a JSON API backed by PostgreSQL.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/threadly/config.yaml if present)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig reads the configuration for cmd, honouring --config and any
// explicitly set override flags. Without --config the XDG config file is
// used when it exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.ConfigFile()
		if err != nil {
			return nil, err
		}
		path = found
	}
	return config.Load(path, cmd.Flags())
}
