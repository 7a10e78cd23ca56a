// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the JSON Schema for holoauth config.yaml files.
//
// The schema is reflected from config.Config: one property per config key,
// enums for store, password-algorithm and the log settings, duration
// strings for the ttl and timeout keys, and no additional properties.
// Editors use it for completion and `holoauth config validate` checks
// files against the same schema.
//
// Usage:
//
//	go run ./cmd/gen-schema [--out schemas/config.schema.json] [--check]
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/holoauth/internal/config"
)

const defaultOut = "schemas/config.schema.json"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

// run generates the schema. With --check it fails when the file on disk
// differs instead of rewriting it.
func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	out := fs.String("out", defaultOut, "output path")
	check := fs.Bool("check", false, "fail if the file is missing or stale")
	if err := fs.Parse(args); err != nil {
		return err
	}

	schema, err := config.GenerateSchema()
	if err != nil {
		return err
	}
	schema = append(schema, '\n')

	if *check {
		current, err := os.ReadFile(*out)
		if err != nil {
			return oops.Code("SCHEMA_READ_FAILED").With("path", *out).Wrap(err)
		}
		if !bytes.Equal(current, schema) {
			return oops.Code("SCHEMA_STALE").With("path", *out).Errorf("%s is out of date; run go run ./cmd/gen-schema", *out)
		}
		fmt.Fprintf(stdout, "%s is up to date\n", *out)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o750); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", *out).Wrap(err)
	}
	if err := os.WriteFile(*out, schema, 0o600); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", *out).Wrap(err)
	}
	fmt.Fprintf(stdout, "Generated %s\n", *out)
	return nil
}
