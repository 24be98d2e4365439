// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/netreaper-project/gateway/auth"
	"github.com/netreaper-project/gateway/command"
	"github.com/netreaper-project/gateway/supervisor"
)

// DefaultIdleTimeout closes sessions with no client traffic.
const DefaultIdleTimeout = 15 * time.Minute

// ErrOriginRejected reports a connection refused by the origin policy.
var ErrOriginRejected = errors.New("gateway: connection origin rejected")

// Server accepts operator connections and runs a session per
// connection.
type Server struct {
	gate       *auth.Gate
	validator  *command.Validator
	supervisor *supervisor.Supervisor
	logger     *slog.Logger

	idleTimeout time.Duration
	origins     []*net.IPNet
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithIdleTimeout overrides the session idle timeout.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.idleTimeout = d }
}

// WithAllowedOrigins restricts connections to the given networks.
func WithAllowedOrigins(origins []*net.IPNet) ServerOption {
	return func(s *Server) { s.origins = origins }
}

// NewServer creates a Server.
func NewServer(gate *auth.Gate, validator *command.Validator, sup *supervisor.Supervisor, logger *slog.Logger, options ...ServerOption) *Server {
	s := &Server{
		gate:        gate,
		validator:   validator,
		supervisor:  sup,
		logger:      logger,
		idleTimeout: DefaultIdleTimeout,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Serve accepts connections until ctx is cancelled or the listener
// fails. It closes the listener and waits for active sessions to wind
// down before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("gateway listening",
		"address", listener.Addr().String(),
		"password_required", s.gate.RequiresPassword())

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var sessions sync.WaitGroup
	defer sessions.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("gateway: accept: %w", err)
		}

		if err := s.checkOrigin(conn.RemoteAddr()); err != nil {
			s.logger.Warn("connection rejected", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			continue
		}

		sessions.Add(1)
		go func() {
			defer sessions.Done()
			sess := &session{
				server: s,
				conn:   conn,
				logger: s.logger.With("remote", conn.RemoteAddr().String()),
				state:  stateAuthenticating,
			}
			sess.run(ctx)
		}()
	}
}

// checkOrigin applies the connection policy. With no password
// configured only loopback peers are accepted, whatever the allowed
// origins say; with a password, an explicit origin list is enforced
// when present.
func (s *Server) checkOrigin(addr net.Addr) error {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: unparseable address %q", ErrOriginRejected, addr.String())
	}

	if !s.gate.RequiresPassword() && !ip.IsLoopback() {
		return fmt.Errorf("%w: no password configured, loopback only", ErrOriginRejected)
	}

	if len(s.origins) == 0 {
		return nil
	}
	for _, network := range s.origins {
		if network.Contains(ip) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in allowed origins", ErrOriginRejected, ip)
}
