// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Reaper-gateway is the NetReaper remote execution gateway. It accepts
// operator sessions over TCP, validates every command against a closed
// allowlist, runs approved commands shell-free under supervision, and
// streams credential-redacted output back to the operator.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/netreaper-project/gateway/auth"
	"github.com/netreaper-project/gateway/command"
	"github.com/netreaper-project/gateway/config"
	"github.com/netreaper-project/gateway/gateway"
	"github.com/netreaper-project/gateway/lib/clock"
	"github.com/netreaper-project/gateway/lib/process"
	"github.com/netreaper-project/gateway/lib/secret"
	"github.com/netreaper-project/gateway/lib/version"
	"github.com/netreaper-project/gateway/sanitize"
	"github.com/netreaper-project/gateway/supervisor"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to config file (overrides "+config.EnvVar+")")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("reaper-gateway %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting reaper-gateway",
		"version", version.Info(),
		"address", cfg.Listen.Address,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Signing secret. Held in locked memory and wiped on exit.
	signingSecret, err := secret.ReadFromPath(cfg.Auth.SecretFile)
	if err != nil {
		return fmt.Errorf("reading signing secret: %w", err)
	}
	defer signingSecret.Close()

	signer, err := auth.NewSigner(signingSecret.Bytes())
	if err != nil {
		return err
	}

	var password []byte
	if cfg.Auth.PasswordFile != "" {
		passwordBuffer, err := secret.ReadFromPath(cfg.Auth.PasswordFile)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		defer passwordBuffer.Close()
		password = passwordBuffer.Bytes()
	} else {
		logger.Warn("no password configured, accepting loopback connections only")
	}

	clk := clock.Real()
	gate := auth.NewGate(signer, password,
		auth.NewLimiter(clk, cfg.Auth.MaxAttempts, cfg.Auth.AttemptWindow.Std()),
		auth.NewRevocationList(), clk,
		auth.WithTTL(cfg.Auth.TokenTTL.Std()))

	// Command allowlist: operator-provided file or the built-in
	// NetReaper toolchain set.
	var allowlist *command.Allowlist
	if cfg.Commands.AllowlistFile != "" {
		allowlist, err = command.LoadAllowlist(cfg.Commands.AllowlistFile)
		if err != nil {
			return err
		}
	} else {
		allowlist, err = command.NewAllowlist(command.DefaultEntries())
		if err != nil {
			return err
		}
	}
	logger.Info("command allowlist loaded", "programs", allowlist.Programs())

	var validatorOptions []command.ValidatorOption
	if cfg.Commands.MaxArguments > 0 {
		validatorOptions = append(validatorOptions, command.WithMaxArguments(cfg.Commands.MaxArguments))
	}
	if cfg.Commands.MaxArgumentLength > 0 {
		validatorOptions = append(validatorOptions, command.WithMaxArgumentLength(cfg.Commands.MaxArgumentLength))
	}
	validator := command.NewValidator(allowlist, validatorOptions...)

	sup := supervisor.New(sanitize.New(), clk, logger,
		supervisor.WithMaxJobs(cfg.Execution.MaxJobs),
		supervisor.WithTimeout(cfg.Execution.Timeout.Std()),
		supervisor.WithGracePeriod(cfg.Execution.GracePeriod.Std()))

	server := gateway.NewServer(gate, validator, sup, logger,
		gateway.WithIdleTimeout(cfg.Session.IdleTimeout.Std()),
		gateway.WithAllowedOrigins(cfg.OriginNetworks()))

	listener, err := listen(cfg)
	if err != nil {
		return err
	}

	return server.Serve(ctx, listener)
}

// listen opens the TCP listener, wrapped in TLS when configured.
func listen(cfg *config.Config) (net.Listener, error) {
	listener, err := net.Listen("tcp", cfg.Listen.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Listen.Address, err)
	}

	if cfg.Listen.TLSCertFile == "" {
		return listener, nil
	}

	certificate, err := tls.LoadX509KeyPair(cfg.Listen.TLSCertFile, cfg.Listen.TLSKeyFile)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}
	return tls.NewListener(listener, &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
