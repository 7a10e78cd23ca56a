// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads holoauth configuration from a YAML file, HOLOAUTH_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gobwas/glob"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/xdg"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "HOLOAUTH_"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Password algorithms.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// Config is the complete holoauth configuration.
type Config struct {
	HTTPAddr          string        `koanf:"http-addr" jsonschema:"description=HTTP API listen address"`
	MetricsAddr       string        `koanf:"metrics-addr" jsonschema:"description=Metrics and health listen address (empty disables)"`
	Store             string        `koanf:"store" jsonschema:"enum=postgres,enum=memory,description=User store backend"`
	DatabaseURL       string        `koanf:"database-url" jsonschema:"description=PostgreSQL connection URL"`
	AutoMigrate       bool          `koanf:"auto-migrate" jsonschema:"description=Apply pending migrations on startup"`
	TokenSecret       string        `koanf:"token-secret" jsonschema:"description=Token signing secret (at least 32 bytes)"`
	TokenSecretFile   string        `koanf:"token-secret-file" jsonschema:"description=File holding the token signing secret"`
	TokenTTL          time.Duration `koanf:"token-ttl" jsonschema:"description=Token lifetime (0 disables expiry)"`
	TokenIssuer       string        `koanf:"token-issuer" jsonschema:"description=Token issuer claim"`
	PasswordAlgorithm string        `koanf:"password-algorithm" jsonschema:"enum=argon2id,enum=bcrypt,description=Algorithm for new password hashes"`
	Argon2MemoryKiB   uint32        `koanf:"argon2-memory-kib" jsonschema:"minimum=8,description=Argon2id memory in KiB"`
	Argon2Iterations  uint32        `koanf:"argon2-iterations" jsonschema:"minimum=1,description=Argon2id iterations"`
	Argon2Parallelism uint8         `koanf:"argon2-parallelism" jsonschema:"minimum=1,description=Argon2id parallelism"`
	BcryptCost        int           `koanf:"bcrypt-cost" jsonschema:"minimum=4,maximum=31,description=Bcrypt cost"`
	HashConcurrency   int           `koanf:"hash-concurrency" jsonschema:"minimum=1,description=Maximum concurrent password hashes"`
	RequestTimeout    time.Duration `koanf:"request-timeout" jsonschema:"description=Per-operation timeout"`
	CORSOrigins       []string      `koanf:"cors-origins" jsonschema:"description=Allowed CORS origins (glob patterns)"`
	LoginRate         float64       `koanf:"login-rate" jsonschema:"minimum=0,description=Login attempts per second per client IP (0 disables)"`
	LoginBurst        int           `koanf:"login-burst" jsonschema:"minimum=1,description=Login burst per client IP"`
	LogFormat         string        `koanf:"log-format" jsonschema:"enum=json,enum=text,description=Log output format"`
	LogLevel          string        `koanf:"log-level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,description=Minimum log level"`
}

// Default returns the configuration used when no source sets a key.
func Default() Config {
	return Config{
		HTTPAddr:          ":3000",
		MetricsAddr:       "127.0.0.1:9100",
		Store:             StorePostgres,
		TokenTTL:          auth.DefaultTokenTTL,
		TokenIssuer:       auth.DefaultTokenIssuer,
		PasswordAlgorithm: AlgorithmArgon2id,
		Argon2MemoryKiB:   auth.DefaultArgon2Memory,
		Argon2Iterations:  auth.DefaultArgon2Time,
		Argon2Parallelism: auth.DefaultArgon2Threads,
		BcryptCost:        auth.DefaultBcryptCost,
		HashConcurrency:   runtime.NumCPU(),
		RequestTimeout:    auth.DefaultOperationTimeout,
		CORSOrigins:       []string{"*"},
		LoginRate:         1,
		LoginBurst:        5,
		LogFormat:         "json",
		LogLevel:          "info",
	}
}

// RegisterFlags adds one flag per config key to fs, defaulted from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTPAddr, "HTTP API listen address")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("store", d.Store, "user store backend (postgres or memory)")
	fs.String("database-url", d.DatabaseURL, "PostgreSQL connection URL")
	fs.Bool("auto-migrate", d.AutoMigrate, "apply pending migrations on startup")
	fs.String("token-secret", d.TokenSecret, "token signing secret (prefer token-secret-file or HOLOAUTH_TOKEN_SECRET)")
	fs.String("token-secret-file", d.TokenSecretFile, "file holding the token signing secret")
	fs.Duration("token-ttl", d.TokenTTL, "token lifetime (0 disables expiry)")
	fs.String("token-issuer", d.TokenIssuer, "token issuer claim")
	fs.String("password-algorithm", d.PasswordAlgorithm, "algorithm for new password hashes (argon2id or bcrypt)")
	fs.Uint32("argon2-memory-kib", d.Argon2MemoryKiB, "argon2id memory in KiB")
	fs.Uint32("argon2-iterations", d.Argon2Iterations, "argon2id iterations")
	fs.Uint8("argon2-parallelism", d.Argon2Parallelism, "argon2id parallelism")
	fs.Int("bcrypt-cost", d.BcryptCost, "bcrypt cost")
	fs.Int("hash-concurrency", d.HashConcurrency, "maximum concurrent password hashes")
	fs.Duration("request-timeout", d.RequestTimeout, "per-operation timeout")
	fs.StringSlice("cors-origins", d.CORSOrigins, "allowed CORS origins (glob patterns)")
	fs.Float64("login-rate", d.LoginRate, "login attempts per second per client IP (0 disables)")
	fs.Int("login-burst", d.LoginBurst, "login burst per client IP")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
}

// LoadOptions selects the sources read by Load.
type LoadOptions struct {
	// File is an explicit config file. It must exist. When empty the XDG
	// default file is read if present.
	File string

	// Flags holds flags registered with RegisterFlags. Unchanged flags only
	// fill keys no other source set.
	Flags *pflag.FlagSet
}

// Load merges the configured sources into a Config. It does not call Validate.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	path, required := opts.File, opts.File != ""
	if !required {
		if p, err := xdg.DefaultConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := loadFile(k, path, required); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.Provider(opts.Flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if k.Exists("cors-origins") {
		// Decoding reuses a non-nil slice, so a shorter list would keep default entries.
		cfg.CORSOrigins = nil
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	if err := cfg.resolveSecretFile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return oops.Code("CONFIG_FILE_UNREADABLE").With("path", path).Wrap(err)
	}
	if err := ValidateYAML(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
	}
	return nil
}

// envKey maps HOLOAUTH_TOKEN_SECRET to token-secret.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", "-")
}

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{"cors-origins": true}

// envValue maps an environment variable to its config key and value.
// List keys become a slice of trimmed, non-empty entries.
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	items := make([]string, 0, strings.Count(value, ",")+1)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

func (c *Config) resolveSecretFile() error {
	if c.TokenSecretFile == "" {
		return nil
	}
	if c.TokenSecret != "" {
		return oops.Code("CONFIG_INVALID").Errorf("token-secret and token-secret-file are mutually exclusive")
	}
	data, err := os.ReadFile(c.TokenSecretFile)
	if err != nil {
		return oops.Code("CONFIG_SECRET_UNREADABLE").With("path", c.TokenSecretFile).Wrap(err)
	}
	c.TokenSecret = strings.TrimSpace(string(data))
	return nil
}

// Validate checks enum values, ranges and cross-key requirements.
func (c *Config) Validate() error {
	invalid := func(key string, value any, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).With("value", value).Errorf(format, args...)
	}

	if c.HTTPAddr == "" {
		return invalid("http-addr", c.HTTPAddr, "http-addr is required")
	}
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return invalid("database-url", "", "database-url is required with the postgres store")
		}
	case StoreMemory:
	default:
		return invalid("store", c.Store, "store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	switch c.PasswordAlgorithm {
	case AlgorithmArgon2id:
		if err := c.Argon2Params().Validate(); err != nil {
			return invalid("argon2-*", c.Argon2Params(), "invalid argon2 parameters: %v", err)
		}
	case AlgorithmBcrypt:
		if c.BcryptCost < 4 || c.BcryptCost > 31 {
			return invalid("bcrypt-cost", c.BcryptCost, "bcrypt-cost must be between 4 and 31")
		}
	default:
		return invalid("password-algorithm", c.PasswordAlgorithm, "password-algorithm must be %q or %q, got %q", AlgorithmArgon2id, AlgorithmBcrypt, c.PasswordAlgorithm)
	}
	if c.TokenTTL < 0 {
		return invalid("token-ttl", c.TokenTTL.String(), "token-ttl must not be negative")
	}
	if c.RequestTimeout < 0 {
		return invalid("request-timeout", c.RequestTimeout.String(), "request-timeout must not be negative")
	}
	if c.HashConcurrency < 1 {
		return invalid("hash-concurrency", c.HashConcurrency, "hash-concurrency must be at least 1")
	}
	if c.LoginRate < 0 {
		return invalid("login-rate", c.LoginRate, "login-rate must not be negative")
	}
	if c.LoginRate > 0 && c.LoginBurst < 1 {
		return invalid("login-burst", c.LoginBurst, "login-burst must be at least 1")
	}
	for _, origin := range c.CORSOrigins {
		if _, err := glob.Compile(origin); err != nil {
			return oops.Code("CONFIG_INVALID").With("key", "cors-origins").With("value", origin).Wrap(err)
		}
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid("log-format", c.LogFormat, "log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	return nil
}

// SigningSecret returns the token signing secret. It fails when the secret
// is missing or shorter than auth.MinTokenSecretLength.
func (c *Config) SigningSecret() ([]byte, error) {
	if c.TokenSecret == "" {
		return nil, oops.Code("CONFIG_SECRET_MISSING").
			Errorf("a token signing secret is required (token-secret-file or %sTOKEN_SECRET)", EnvPrefix)
	}
	if len(c.TokenSecret) < auth.MinTokenSecretLength {
		return nil, oops.Code("CONFIG_SECRET_TOO_SHORT").
			With("min", auth.MinTokenSecretLength).
			Errorf("token signing secret must be at least %d bytes", auth.MinTokenSecretLength)
	}
	return []byte(c.TokenSecret), nil
}

// Argon2Params returns the configured argon2id parameters.
func (c *Config) Argon2Params() auth.Argon2Params {
	return auth.Argon2Params{
		Time:    c.Argon2Iterations,
		Memory:  c.Argon2MemoryKiB,
		Threads: c.Argon2Parallelism,
	}
}

// LogValue renders the config without secrets.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("http_addr", c.HTTPAddr),
		slog.String("metrics_addr", c.MetricsAddr),
		slog.String("store", c.Store),
		slog.Bool("database_url_set", c.DatabaseURL != ""),
		slog.Bool("auto_migrate", c.AutoMigrate),
		slog.Bool("token_secret_set", c.TokenSecret != ""),
		slog.Duration("token_ttl", c.TokenTTL),
		slog.String("password_algorithm", c.PasswordAlgorithm),
		slog.Int("hash_concurrency", c.HashConcurrency),
		slog.Duration("request_timeout", c.RequestTimeout),
		slog.Float64("login_rate", c.LoginRate),
		slog.String("log_format", c.LogFormat),
		slog.String("log_level", c.LogLevel),
	)
}
