// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Package command turns raw command requests into executable plans, or
// rejects them. The central invariant is deny-by-default: the first
// token must exactly match a closed allowlist of program identifiers,
// and a Plan — the only thing the process supervisor will run — can be
// constructed solely by a Validator, never assembled by hand. Plans
// carry literal argument strings that are handed to exec directly,
// with no shell anywhere in the path.
package command

import (
	"errors"
	"time"
)

// Validation failures. Each maps to a stable reason code via Reason.
var (
	ErrEmptyCommand      = errors.New("command: empty command")
	ErrDisallowedProgram = errors.New("command: program not in allowlist")
	ErrMetacharacter     = errors.New("command: blocked metacharacter in argument")
	ErrTraversal         = errors.New("command: path traversal in argument")
	ErrTooManyArguments  = errors.New("command: too many arguments")
	ErrArgumentTooLong   = errors.New("command: argument too long")
	ErrWorkingDirectory  = errors.New("command: invalid working directory")
)

// Reason returns the stable, enumerable reason code for a validation
// error. These codes cross the wire; the error text does not.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCommand):
		return "empty_command"
	case errors.Is(err, ErrDisallowedProgram):
		return "disallowed_program"
	case errors.Is(err, ErrMetacharacter):
		return "metacharacter"
	case errors.Is(err, ErrTraversal):
		return "traversal"
	case errors.Is(err, ErrTooManyArguments):
		return "too_many_arguments"
	case errors.Is(err, ErrArgumentTooLong):
		return "argument_too_long"
	case errors.Is(err, ErrWorkingDirectory):
		return "working_directory"
	default:
		return "invalid"
	}
}

// Request is a command as received from a client, before validation.
// Either Raw (a command line to be tokenized) or Argv (a pre-split
// argument vector) is set; Argv wins when both are present. A Request
// is immutable once received.
type Request struct {
	Raw              string
	Argv             []string
	WorkingDirectory string
	RequestedAt      time.Time
}

// Plan is a validated, immutable execution plan. Only
// Validator.Validate constructs one. The argv strings are literal —
// guaranteed free of shell metacharacters and traversal tokens, with
// bounded count and length.
type Plan struct {
	program          string
	argv             []string
	workingDirectory string
}

// Program returns the canonical allowlisted program identifier.
func (p Plan) Program() string { return p.program }

// Argv returns a copy of the program arguments (excluding the program
// itself).
func (p Plan) Argv() []string {
	argv := make([]string, len(p.argv))
	copy(argv, p.argv)
	return argv
}

// WorkingDirectory returns the requested working directory, or "" for
// the supervisor's default.
func (p Plan) WorkingDirectory() string { return p.workingDirectory }
