// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/config"
)

// NewConfigCmd creates the config command with schema and validate subcommands.
func NewConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the config file JSON schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	})

	validate := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file and the merged configuration",
		Long: `Check a config file against the schema, merge it with the
environment and validate the result, including the signing secret.
With no argument the --config file or the XDG default is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configFile
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load(config.LoadOptions{File: path})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := cfg.SigningSecret(); err != nil {
				return err
			}
			cmd.Println("OK")
			return nil
		},
	}
	cmd.AddCommand(validate)

	return cmd
}
