// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the remote execution session protocol: a
// persistent TCP connection carrying framed messages between an
// operator client and the command supervisor.
//
// The package is organized around the session data flow:
//
//   - protocol.go: wire format (framed binary messages, JSON payloads)
//   - session.go: per-connection state machine and job wiring
//   - server.go: listener, origin policy, session lifecycle
package gateway

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Message type constants for the session protocol wire format. Each
// message is a 5-byte header (1 byte type + 4 byte big-endian payload
// length) followed by a JSON payload.
const (
	// MessageTypeAuth carries an AuthRequest. Client→server, must be
	// the first message on a connection.
	MessageTypeAuth byte = 0x01

	// MessageTypeCommand carries a CommandRequest. Client→server,
	// valid only after successful authentication.
	MessageTypeCommand byte = 0x02

	// MessageTypeCancel carries a CancelRequest for the running job.
	MessageTypeCancel byte = 0x03

	// MessageTypeAuthResult carries an AuthResult. Server→client,
	// response to MessageTypeAuth.
	MessageTypeAuthResult byte = 0x11

	// MessageTypeOutput carries an OutputChunk: one redacted line of
	// job output. Server→client.
	MessageTypeOutput byte = 0x12

	// MessageTypeExit carries an ExitResult, the terminal message for
	// a job. Server→client.
	MessageTypeExit byte = 0x13

	// MessageTypeError carries an ErrorMessage for a rejected request.
	// Server→client. The session stays open unless Fatal is set.
	MessageTypeError byte = 0x14
)

// messageHeaderLength is the fixed size of a message header: 1 byte
// type + 4 bytes payload length.
const messageHeaderLength = 5

// maxPayloadLength bounds a single message payload. Command requests
// and output lines are small; 1 MB leaves room for the longest
// permitted argument list.
const maxPayloadLength = 1 << 20

// Message is a single framed protocol message.
type Message struct {
	Type    byte
	Payload []byte
}

// WriteMessage writes a framed message to w. The frame format is:
// [1 byte type] [4 bytes payload length, big-endian uint32] [payload].
func WriteMessage(w io.Writer, message Message) error {
	var header [messageHeaderLength]byte
	header[0] = message.Type
	binary.BigEndian.PutUint32(header[1:5], uint32(len(message.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write message header: %w", err)
	}
	if len(message.Payload) > 0 {
		if _, err := w.Write(message.Payload); err != nil {
			return fmt.Errorf("write message payload: %w", err)
		}
	}
	return nil
}

// ReadMessage reads a framed message from r. Returns an error if the
// stream is malformed or the payload exceeds maxPayloadLength.
func ReadMessage(r io.Reader) (Message, error) {
	var header [messageHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read message header: %w", err)
	}
	messageType := header[0]
	payloadLength := binary.BigEndian.Uint32(header[1:5])
	if payloadLength > maxPayloadLength {
		return Message{}, fmt.Errorf("payload length %d exceeds maximum %d", payloadLength, maxPayloadLength)
	}
	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("read message payload: %w", err)
		}
	}
	return Message{Type: messageType, Payload: payload}, nil
}

// NewMessage marshals a payload struct into a framed message.
func NewMessage(messageType byte, payload any) (Message, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode message payload: %w", err)
	}
	return Message{Type: messageType, Payload: encoded}, nil
}

// AuthRequest is the first message on every connection.
type AuthRequest struct {
	// Subject is the operator name the session is for.
	Subject string `json:"subject"`

	// Password authenticates the operator. May be empty on gateways
	// configured without a password (loopback-only mode).
	Password string `json:"password,omitempty"`

	// Token resumes a prior session instead of presenting a
	// password. Base64 (json []byte) wire token bytes.
	Token []byte `json:"token,omitempty"`
}

// AuthResult is the server's response to an AuthRequest.
type AuthResult struct {
	// OK is true when the session is authenticated.
	OK bool `json:"ok"`

	// Token is the minted session token when OK. Clients present it
	// to resume after a dropped connection.
	Token []byte `json:"token,omitempty"`

	// ExpiresAt is the token expiry, Unix seconds.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	// Error describes the refusal when OK is false. Never
	// distinguishes bad password from unknown subject.
	Error string `json:"error,omitempty"`

	// RetryAfterSeconds is set on rate-limit refusals.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

// CommandRequest asks the gateway to run one command.
type CommandRequest struct {
	// Command is the raw command line, split server-side with
	// shell-style quoting but never executed through a shell.
	Command string `json:"command,omitempty"`

	// Argv is a pre-split argument vector. Takes precedence over
	// Command when non-empty.
	Argv []string `json:"argv,omitempty"`

	// WorkingDirectory is an optional working directory for the
	// child process.
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// CancelRequest stops a running job.
type CancelRequest struct {
	// JobID names the job to cancel. Empty means the session's
	// current job.
	JobID string `json:"job_id,omitempty"`
}

// OutputChunk is one redacted line of job output.
type OutputChunk struct {
	JobID string `json:"job_id"`

	// Stream is "stdout" or "stderr".
	Stream string `json:"stream"`

	// Text is the redacted line, newline stripped.
	Text string `json:"text"`

	// Redacted counts credential redactions applied to Text.
	Redacted int `json:"redacted,omitempty"`
}

// ExitResult is the terminal message for a job.
type ExitResult struct {
	JobID string `json:"job_id"`

	// Code is the process exit code, -1 if the process never ran or
	// died to a signal.
	Code int `json:"code"`

	// Reason is completed, cancelled, timeout, or error.
	Reason string `json:"reason"`

	// Error carries a diagnostic for reason "error".
	Error string `json:"error,omitempty"`
}

// ErrorMessage reports a rejected request.
type ErrorMessage struct {
	// Code is a stable machine-readable reason, e.g.
	// "disallowed_program" or "not_authenticated".
	Code string `json:"code"`

	// Detail is a human-readable explanation.
	Detail string `json:"detail,omitempty"`

	// Fatal is true when the server closes the connection after this
	// message.
	Fatal bool `json:"fatal,omitempty"`
}
