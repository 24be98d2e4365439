// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func testValidator(t *testing.T, options ...ValidatorOption) *Validator {
	t.Helper()
	allowlist, err := NewAllowlist(DefaultEntries())
	if err != nil {
		t.Fatalf("NewAllowlist: %v", err)
	}
	return NewValidator(allowlist, options...)
}

func TestValidateAllowedCommand(t *testing.T) {
	v := testValidator(t)

	plan, err := v.Validate(Request{Raw: "netreaper scan -t 10.0.0.5"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if plan.Program() != "netreaper" {
		t.Errorf("Program() = %q, want netreaper", plan.Program())
	}
	if want := []string{"scan", "-t", "10.0.0.5"}; !reflect.DeepEqual(plan.Argv(), want) {
		t.Errorf("Argv() = %v, want %v", plan.Argv(), want)
	}
}

func TestValidatePathAlias(t *testing.T) {
	v := testValidator(t)

	plan, err := v.Validate(Request{Raw: "/usr/bin/nmap -sV 10.0.0.5"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if plan.Program() != "nmap" {
		t.Errorf("Program() = %q, want canonical nmap", plan.Program())
	}
}

func TestValidateDisallowedProgram(t *testing.T) {
	v := testValidator(t)

	for _, raw := range []string{
		"rm -rf /",
		"bash -c ls",
		"sudo nmap 10.0.0.5",
		"timeout 30 nmap 10.0.0.5",
		"Nmap 10.0.0.5",
	} {
		_, err := v.Validate(Request{Raw: raw})
		if !errors.Is(err, ErrDisallowedProgram) {
			t.Errorf("Validate(%q) error = %v, want ErrDisallowedProgram", raw, err)
		}
	}
}

func TestValidateMetacharacters(t *testing.T) {
	v := testValidator(t)

	_, err := v.Validate(Request{Raw: "netreaper scan -t 10.0.0.5; rm -rf /"})
	if !errors.Is(err, ErrMetacharacter) {
		t.Fatalf("injection attempt error = %v, want ErrMetacharacter", err)
	}

	// Every blocked metacharacter is caught even when quoted into a
	// single argument: an allowlisted tool could re-interpret it.
	for _, meta := range []string{";", "|", "&", "$", "(", ")", "`", "<", ">"} {
		_, err := v.Validate(Request{Argv: []string{"nmap", "arg" + meta}})
		if !errors.Is(err, ErrMetacharacter) {
			t.Errorf("argument containing %q error = %v, want ErrMetacharacter", meta, err)
		}
	}
}

func TestValidateTraversal(t *testing.T) {
	v := testValidator(t)

	for _, argument := range []string{
		"../../../etc/passwd",
		"/var/log/../../etc/shadow",
		`..\..\windows\system32`,
		"~root/.ssh/id_rsa",
		"~",
		"..",
	} {
		_, err := v.Validate(Request{Argv: []string{"nmap", "-iL", argument}})
		if !errors.Is(err, ErrTraversal) {
			t.Errorf("Validate with argument %q error = %v, want ErrTraversal", argument, err)
		}
	}

	// Dots that are not path elements are fine.
	for _, argument := range []string{"10.0.0.5", "host..example", "a...b"} {
		if _, err := v.Validate(Request{Argv: []string{"nmap", argument}}); err != nil {
			t.Errorf("Validate with argument %q failed: %v", argument, err)
		}
	}
}

func TestValidateArgumentBounds(t *testing.T) {
	v := testValidator(t, WithMaxArguments(4), WithMaxArgumentLength(16))

	_, err := v.Validate(Request{Argv: []string{"nmap", "a", "b", "c", "d"}})
	if !errors.Is(err, ErrTooManyArguments) {
		t.Errorf("oversized argv error = %v, want ErrTooManyArguments", err)
	}

	_, err = v.Validate(Request{Argv: []string{"nmap", strings.Repeat("x", 17)}})
	if !errors.Is(err, ErrArgumentTooLong) {
		t.Errorf("overlong argument error = %v, want ErrArgumentTooLong", err)
	}

	if _, err := v.Validate(Request{Argv: []string{"nmap", "a", "b", "c"}}); err != nil {
		t.Errorf("argv at the bound failed: %v", err)
	}
}

func TestValidateWorkingDirectory(t *testing.T) {
	v := testValidator(t)

	directory := t.TempDir()
	plan, err := v.Validate(Request{Argv: []string{"nmap", "10.0.0.5"}, WorkingDirectory: directory})
	if err != nil {
		t.Fatalf("Validate with existing directory: %v", err)
	}
	if plan.WorkingDirectory() != directory {
		t.Errorf("WorkingDirectory() = %q, want %q", plan.WorkingDirectory(), directory)
	}

	_, err = v.Validate(Request{
		Argv:             []string{"nmap", "10.0.0.5"},
		WorkingDirectory: filepath.Join(directory, "missing"),
	})
	if !errors.Is(err, ErrWorkingDirectory) {
		t.Errorf("missing directory error = %v, want ErrWorkingDirectory", err)
	}

	file := filepath.Join(directory, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err = v.Validate(Request{Argv: []string{"nmap", "10.0.0.5"}, WorkingDirectory: file})
	if !errors.Is(err, ErrWorkingDirectory) {
		t.Errorf("file-as-directory error = %v, want ErrWorkingDirectory", err)
	}
}

func TestValidateEmpty(t *testing.T) {
	v := testValidator(t)

	for _, request := range []Request{
		{Raw: ""},
		{Raw: "   \t  "},
		{Argv: []string{}},
	} {
		if _, err := v.Validate(request); !errors.Is(err, ErrEmptyCommand) {
			t.Errorf("Validate(%+v) error = %v, want ErrEmptyCommand", request, err)
		}
	}
}

func TestValidatePlanIsImmutable(t *testing.T) {
	v := testValidator(t)

	plan, err := v.Validate(Request{Raw: "netreaper scan -t 10.0.0.5"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	argv := plan.Argv()
	argv[0] = "tampered"
	if plan.Argv()[0] != "scan" {
		t.Error("mutating the returned argv slice altered the plan")
	}
}

func TestReasonCodes(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrEmptyCommand, "empty_command"},
		{ErrDisallowedProgram, "disallowed_program"},
		{ErrMetacharacter, "metacharacter"},
		{ErrTraversal, "traversal"},
		{ErrTooManyArguments, "too_many_arguments"},
		{ErrArgumentTooLong, "argument_too_long"},
		{ErrWorkingDirectory, "working_directory"},
		{errors.New("other"), "invalid"},
	}
	for _, test := range tests {
		if got := Reason(test.err); got != test.want {
			t.Errorf("Reason(%v) = %q, want %q", test.err, got, test.want)
		}
	}
}
