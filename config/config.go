// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the gateway.
//
// Configuration is loaded from a single YAML file specified by:
//   - REAPER_GATEWAY_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment variables
// do not override file values; the file is the single source of truth.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "REAPER_GATEWAY_CONFIG"

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the gateway configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Auth      AuthConfig      `yaml:"auth"`
	Commands  CommandsConfig  `yaml:"commands"`
	Execution ExecutionConfig `yaml:"execution"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ListenConfig configures the TCP listener.
type ListenConfig struct {
	// Address is the host:port to listen on.
	Address string `yaml:"address"`

	// AllowedOrigins is a list of CIDR blocks permitted to connect.
	// Empty means any origin (subject to the loopback rule when no
	// password is configured).
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile  string `yaml:"tls_key_file,omitempty"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	// SecretFile is the path to the token signing secret ("-" reads
	// from stdin). Required; minimum 32 bytes.
	SecretFile string `yaml:"secret_file"`

	// PasswordFile is the path to the operator password. When empty,
	// the gateway accepts only loopback connections.
	PasswordFile string `yaml:"password_file,omitempty"`

	// TokenTTL is the session token lifetime.
	TokenTTL Duration `yaml:"token_ttl,omitempty"`

	// MaxAttempts failed authentications inside AttemptWindow lock a
	// client out.
	MaxAttempts   int      `yaml:"max_attempts,omitempty"`
	AttemptWindow Duration `yaml:"attempt_window,omitempty"`
}

// CommandsConfig configures command validation.
type CommandsConfig struct {
	// AllowlistFile is a JSONC allowlist file. When empty the
	// built-in NetReaper toolchain allowlist is used.
	AllowlistFile string `yaml:"allowlist_file,omitempty"`

	MaxArguments      int `yaml:"max_arguments,omitempty"`
	MaxArgumentLength int `yaml:"max_argument_length,omitempty"`
}

// ExecutionConfig configures the job supervisor.
type ExecutionConfig struct {
	// MaxJobs bounds concurrently running jobs across all sessions.
	MaxJobs int64 `yaml:"max_jobs,omitempty"`

	// Timeout is the per-job wall-clock limit.
	Timeout Duration `yaml:"timeout,omitempty"`

	// GracePeriod is the SIGTERM-to-SIGKILL window on cancellation.
	GracePeriod Duration `yaml:"grace_period,omitempty"`
}

// SessionConfig configures session behavior.
type SessionConfig struct {
	// IdleTimeout closes sessions with no client traffic.
	IdleTimeout Duration `yaml:"idle_timeout,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level,omitempty"`
}

// Default returns the configuration defaults applied before the file
// is merged in.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Address: "127.0.0.1:7677",
		},
		Auth: AuthConfig{
			TokenTTL:      Duration(time.Hour),
			MaxAttempts:   5,
			AttemptWindow: Duration(5 * time.Minute),
		},
		Execution: ExecutionConfig{
			MaxJobs:     8,
			Timeout:     Duration(10 * time.Minute),
			GracePeriod: Duration(5 * time.Second),
		},
		Session: SessionConfig{
			IdleTimeout: Duration(15 * time.Minute),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the REAPER_GATEWAY_CONFIG environment
// variable. There are no fallbacks: if the variable is not set, this
// fails.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your gateway.yaml config file, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging it
// over the defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen.Address); err != nil {
		return fmt.Errorf("listen.address: %w", err)
	}
	for _, origin := range c.Listen.AllowedOrigins {
		if _, _, err := net.ParseCIDR(origin); err != nil {
			return fmt.Errorf("listen.allowed_origins entry %q: %w", origin, err)
		}
	}
	if (c.Listen.TLSCertFile == "") != (c.Listen.TLSKeyFile == "") {
		return fmt.Errorf("listen.tls_cert_file and listen.tls_key_file must be set together")
	}

	if c.Auth.SecretFile == "" {
		return fmt.Errorf("auth.secret_file is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Auth.MaxAttempts <= 0 {
		return fmt.Errorf("auth.max_attempts must be positive")
	}
	if c.Auth.AttemptWindow <= 0 {
		return fmt.Errorf("auth.attempt_window must be positive")
	}

	if c.Commands.MaxArguments < 0 || c.Commands.MaxArgumentLength < 0 {
		return fmt.Errorf("commands bounds must be non-negative")
	}

	if c.Execution.MaxJobs <= 0 {
		return fmt.Errorf("execution.max_jobs must be positive")
	}
	if c.Execution.Timeout <= 0 {
		return fmt.Errorf("execution.timeout must be positive")
	}
	if c.Execution.GracePeriod < 0 {
		return fmt.Errorf("execution.grace_period must be non-negative")
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// OriginNetworks parses the allowed origin CIDRs. Call after Validate.
func (c *Config) OriginNetworks() []*net.IPNet {
	var networks []*net.IPNet
	for _, origin := range c.Listen.AllowedOrigins {
		_, network, err := net.ParseCIDR(origin)
		if err != nil {
			continue
		}
		networks = append(networks, network)
	}
	return networks
}
