// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// defaultEnvFile is loaded into the environment when present.
const defaultEnvFile = ".env"

// rootOptions holds flags shared by all subcommands.
type rootOptions struct {
	configFile string
	envFile    string
}

// NewRootCmd creates the root command for the holoauth CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "holoauth",
		Short: "holoauth - email/password authentication service",
		Long: `holoauth registers accounts, checks email/password credentials and
issues signed bearer tokens that resolve back to the account identity.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file"))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/holoauth/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", defaultEnvFile, "dotenv file loaded into the environment if present")

	cmd.AddCommand(NewServeCmd(opts))
	cmd.AddCommand(NewMigrateCmd(opts))
	cmd.AddCommand(NewConfigCmd(opts))

	return cmd
}

// loadEnvFile loads a dotenv file without overriding variables already set.
// A missing file is an error only when it was asked for explicitly.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return oops.Code("CONFIG_ENV_FILE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
