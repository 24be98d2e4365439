// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/netreaper-project/gateway/auth"
	"github.com/netreaper-project/gateway/command"
	"github.com/netreaper-project/gateway/supervisor"
)

// Session states. A session is created in stateAuthenticating and
// must present credentials before anything else; it alternates between
// stateReady and stateExecuting until the connection closes.
const (
	stateAuthenticating = "authenticating"
	stateReady          = "ready"
	stateExecuting      = "executing"
)

// session is one authenticated connection. All writes to the
// connection go through write() so job output and control responses
// never interleave mid-frame.
type session struct {
	server *Server
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	identity *auth.Identity

	mu    sync.Mutex
	state string
	job   *supervisor.Job
}

// run drives the session until the connection closes. A session that
// dies with a job still running takes the job down with it: an
// unattended scan with nobody watching the output is a liability, not
// a feature.
func (s *session) run(ctx context.Context) {
	defer s.conn.Close()
	defer s.cancelCurrentJob()

	if err := s.authenticate(); err != nil {
		s.logger.Warn("authentication failed", "error", err)
		return
	}
	s.logger = s.logger.With("subject", s.identity.Subject)
	s.logger.Info("session authenticated")

	for {
		message, err := s.read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Info("session closed", "error", err)
			}
			// A client that vanishes mid-job abandoned the session;
			// its token does not get to resume.
			if s.currentState() == stateExecuting {
				s.revokeToken()
			}
			return
		}

		switch message.Type {
		case MessageTypeCommand:
			s.handleCommand(ctx, message.Payload)
		case MessageTypeCancel:
			s.handleCancel(message.Payload)
		case MessageTypeAuth:
			s.writeError(ErrorMessage{Code: "already_authenticated"})
		default:
			// Protocol violation. Revoke before answering so the token
			// is already dead when the client sees the refusal.
			s.revokeToken()
			s.writeError(ErrorMessage{
				Code:   "unknown_message",
				Detail: fmt.Sprintf("message type 0x%02x", message.Type),
				Fatal:  true,
			})
			return
		}
	}
}

// read blocks for the next client message, bounded by the idle
// timeout. The idle clock stops while a job is executing: a quiet
// operator watching a long scan is not idle, and the configured job
// timeout may legitimately exceed the idle window. pumpEvents re-arms
// the deadline when the job ends.
func (s *session) read() (Message, error) {
	deadline := time.Time{}
	if s.currentState() != stateExecuting {
		deadline = time.Now().Add(s.server.idleTimeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return Message{}, err
	}
	return ReadMessage(s.conn)
}

func (s *session) write(messageType byte, payload any) error {
	message, err := NewMessage(messageType, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteMessage(s.conn, message)
}

func (s *session) writeError(errorMessage ErrorMessage) {
	if err := s.write(MessageTypeError, errorMessage); err != nil {
		s.logger.Warn("writing error message", "error", err)
	}
}

// authenticate handles the mandatory first message. Every failure is
// fatal to the connection; the refusal message never reveals whether
// the subject or the password was wrong.
func (s *session) authenticate() error {
	message, err := s.read()
	if err != nil {
		return fmt.Errorf("reading auth message: %w", err)
	}
	if message.Type != MessageTypeAuth {
		s.writeError(ErrorMessage{Code: "not_authenticated", Fatal: true})
		return fmt.Errorf("first message type 0x%02x, want auth", message.Type)
	}

	var request AuthRequest
	if err := json.Unmarshal(message.Payload, &request); err != nil {
		s.writeError(ErrorMessage{Code: "malformed_request", Fatal: true})
		return fmt.Errorf("decoding auth request: %w", err)
	}

	if len(request.Token) > 0 {
		identity, err := s.server.gate.ValidateToken(request.Token)
		if err != nil {
			s.refuseAuth(err)
			return fmt.Errorf("token validation: %w", err)
		}
		s.identity = identity
		s.setState(stateReady)
		return s.write(MessageTypeAuthResult, AuthResult{
			OK:        true,
			Token:     request.Token,
			ExpiresAt: identity.ExpiresAt,
		})
	}

	tokenBytes, identity, err := s.server.gate.IssueToken(s.clientKey(), request.Subject, []byte(request.Password))
	if err != nil {
		s.refuseAuth(err)
		return fmt.Errorf("issuing token: %w", err)
	}
	s.identity = identity
	s.setState(stateReady)
	return s.write(MessageTypeAuthResult, AuthResult{
		OK:        true,
		Token:     tokenBytes,
		ExpiresAt: identity.ExpiresAt,
	})
}

// refuseAuth sends the failure response. Rate-limit refusals carry a
// retry hint; everything else collapses to one generic message.
func (s *session) refuseAuth(err error) {
	result := AuthResult{OK: false, Error: "authentication failed"}
	var limited *auth.RateLimitedError
	if errors.As(err, &limited) {
		result.Error = "too many failed attempts"
		result.RetryAfterSeconds = int64(limited.RetryAfter/time.Second) + 1
	}
	if writeErr := s.write(MessageTypeAuthResult, result); writeErr != nil {
		s.logger.Warn("writing auth refusal", "error", writeErr)
	}
}

// clientKey is the rate-limit key for this connection: the client IP
// without the ephemeral port.
func (s *session) clientKey() string {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return s.conn.RemoteAddr().String()
	}
	return host
}

// handleCommand validates and starts one command. Rejections are
// non-fatal: the operator corrects the command and stays connected.
func (s *session) handleCommand(ctx context.Context, payload []byte) {
	var request CommandRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		s.writeError(ErrorMessage{Code: "malformed_request", Detail: err.Error()})
		return
	}

	s.mu.Lock()
	if s.state == stateExecuting {
		s.mu.Unlock()
		s.writeError(ErrorMessage{Code: "job_running", Detail: "one command at a time per session"})
		return
	}
	s.mu.Unlock()

	plan, err := s.server.validator.Validate(command.Request{
		Raw:              request.Command,
		Argv:             request.Argv,
		WorkingDirectory: request.WorkingDirectory,
	})
	if err != nil {
		s.logger.Info("command rejected", "reason", command.Reason(err), "error", err)
		s.writeError(ErrorMessage{Code: command.Reason(err), Detail: err.Error()})
		return
	}

	job, err := s.server.supervisor.Start(ctx, plan, s.identity.Subject)
	if err != nil {
		code := "start_failed"
		if errors.Is(err, supervisor.ErrTooManyJobs) {
			code = "too_many_jobs"
		}
		s.writeError(ErrorMessage{Code: code, Detail: err.Error()})
		return
	}

	s.mu.Lock()
	s.state = stateExecuting
	s.job = job
	s.mu.Unlock()

	go s.pumpEvents(job)
}

// pumpEvents forwards job events to the client until the exit event,
// then returns the session to ready.
func (s *session) pumpEvents(job *supervisor.Job) {
	for event := range job.Events {
		var err error
		switch event.Kind {
		case supervisor.EventExit:
			err = s.write(MessageTypeExit, ExitResult{
				JobID:  job.ID,
				Code:   event.Code,
				Reason: event.Reason,
				Error:  event.Text,
			})
		default:
			err = s.write(MessageTypeOutput, OutputChunk{
				JobID:    job.ID,
				Stream:   event.Kind,
				Text:     event.Text,
				Redacted: event.Redacted,
			})
		}
		if err != nil {
			// Client gone. Keep draining so the job goroutines can
			// finish; run() cancels the job on its way out.
			s.logger.Warn("writing job event", "job", job.ID, "error", err)
		}
	}

	s.server.supervisor.Release(job.ID)
	s.mu.Lock()
	if s.job == job {
		s.job = nil
		s.state = stateReady
	}
	s.mu.Unlock()

	// Restart the idle clock: the read blocked during execution has no
	// deadline, and a deadline set here applies to it immediately.
	s.conn.SetReadDeadline(time.Now().Add(s.server.idleTimeout))
}

// handleCancel stops the named job, defaulting to the session's
// current one. Cancelling with nothing running is a benign no-op.
func (s *session) handleCancel(payload []byte) {
	var request CancelRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		s.writeError(ErrorMessage{Code: "malformed_request", Detail: err.Error()})
		return
	}

	jobID := request.JobID
	if jobID == "" {
		s.mu.Lock()
		if s.job != nil {
			jobID = s.job.ID
		}
		s.mu.Unlock()
	}
	if jobID == "" {
		return
	}

	if err := s.server.supervisor.Cancel(jobID); err != nil {
		s.writeError(ErrorMessage{Code: "job_not_found", Detail: err.Error()})
	}
}

// cancelCurrentJob stops the session's running job, if any. Called on
// the way out of run().
func (s *session) cancelCurrentJob() {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job == nil {
		return
	}
	if err := s.server.supervisor.Cancel(job.ID); err != nil && !errors.Is(err, supervisor.ErrJobNotFound) {
		s.logger.Warn("cancelling job on disconnect", "job", job.ID, "error", err)
	}
}

// revokeToken invalidates this session's token for the rest of its
// natural lifetime. Called when the session ends uncleanly; a clean
// disconnect leaves the token valid for resume.
func (s *session) revokeToken() {
	if s.identity == nil {
		return
	}
	s.server.gate.RevokeToken(s.identity)
	s.logger.Info("session token revoked", "token_id", s.identity.ID)
}

func (s *session) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *session) currentState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
