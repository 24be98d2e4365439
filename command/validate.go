// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"os"
	"strings"
)

// Default argument bounds.
const (
	DefaultMaxArguments      = 64
	DefaultMaxArgumentLength = 4096
)

// blockedMetacharacters are rejected in any argument even though
// execution never touches a shell: an allowlisted tool could itself
// re-interpret them.
const blockedMetacharacters = ";&|$()`<>\n"

// Validator applies the validation algorithm. Immutable after
// construction; safe for concurrent use across sessions.
type Validator struct {
	allowlist         *Allowlist
	maxArguments      int
	maxArgumentLength int
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithMaxArguments overrides the total argument count bound
// (program token included).
func WithMaxArguments(n int) ValidatorOption {
	return func(v *Validator) { v.maxArguments = n }
}

// WithMaxArgumentLength overrides the per-argument length bound.
func WithMaxArgumentLength(n int) ValidatorOption {
	return func(v *Validator) { v.maxArgumentLength = n }
}

// NewValidator creates a Validator over a closed allowlist.
func NewValidator(allowlist *Allowlist, options ...ValidatorOption) *Validator {
	v := &Validator{
		allowlist:         allowlist,
		maxArguments:      DefaultMaxArguments,
		maxArgumentLength: DefaultMaxArgumentLength,
	}
	for _, option := range options {
		option(v)
	}
	return v
}

// Validate turns a request into an executable Plan or rejects it.
//
// The order matters: the allowlist gate runs before the structural
// checks so that a disallowed program is always reported as
// disallowed, not as whatever structural defect its arguments happen
// to carry.
func (v *Validator) Validate(request Request) (Plan, error) {
	argv := request.Argv
	if argv == nil {
		split, err := SplitWords(request.Raw)
		if err != nil {
			return Plan{}, err
		}
		argv = split
	}
	if len(argv) == 0 {
		return Plan{}, ErrEmptyCommand
	}

	// Deny-by-default gate. Exact match against the closed allowlist;
	// a leading "sudo" or "timeout" is not stripped — wrappers are
	// programs too, and they are not allowlisted.
	program, ok := v.allowlist.Resolve(argv[0])
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrDisallowedProgram, argv[0])
	}

	if len(argv) > v.maxArguments {
		return Plan{}, fmt.Errorf("%w: %d arguments, limit %d", ErrTooManyArguments, len(argv), v.maxArguments)
	}

	arguments := argv[1:]
	for index, argument := range arguments {
		if len(argument) > v.maxArgumentLength {
			return Plan{}, fmt.Errorf("%w: argument %d is %d bytes, limit %d",
				ErrArgumentTooLong, index, len(argument), v.maxArgumentLength)
		}
		if position := strings.IndexAny(argument, blockedMetacharacters); position >= 0 {
			return Plan{}, fmt.Errorf("%w: %q in argument %d", ErrMetacharacter, argument[position], index)
		}
		if err := checkTraversal(argument); err != nil {
			return Plan{}, fmt.Errorf("%w in argument %d", err, index)
		}
	}

	if request.WorkingDirectory != "" {
		info, err := os.Stat(request.WorkingDirectory)
		if err != nil {
			return Plan{}, fmt.Errorf("%w: %v", ErrWorkingDirectory, err)
		}
		if !info.IsDir() {
			return Plan{}, fmt.Errorf("%w: not a directory", ErrWorkingDirectory)
		}
	}

	planArgv := make([]string, len(arguments))
	copy(planArgv, arguments)
	return Plan{
		program:          program,
		argv:             planArgv,
		workingDirectory: request.WorkingDirectory,
	}, nil
}

// checkTraversal rejects path-shaped arguments containing a ".."
// element and any argument with a leading "~". An argument is
// path-shaped when it contains a path separator or is exactly "..".
func checkTraversal(argument string) error {
	if strings.HasPrefix(argument, "~") {
		return ErrTraversal
	}
	if argument == ".." {
		return ErrTraversal
	}
	if !strings.ContainsAny(argument, `/\`) {
		return nil
	}
	for _, element := range strings.FieldsFunc(argument, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		if element == ".." {
			return ErrTraversal
		}
	}
	return nil
}
