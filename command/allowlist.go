// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"
)

// Entry is one allowlisted program: a canonical identifier plus a
// small fixed set of accepted path aliases for the same binary. The
// allowlist file is JSONC so operators can annotate entries.
type Entry struct {
	// Program is the canonical identifier handed to exec (resolved
	// via PATH), e.g. "nmap".
	Program string `json:"program"`

	// Aliases are alternative spellings accepted as the first token,
	// e.g. "/usr/bin/nmap". Never patterns — exact strings only.
	Aliases []string `json:"aliases,omitempty"`
}

// Allowlist is a closed set of permitted program identifiers. Absence
// implies rejection; there is no pattern or regex matching over
// arbitrary text.
type Allowlist struct {
	byToken map[string]string // token (identifier or alias) → canonical program
}

// NewAllowlist builds an Allowlist from entries. Duplicate tokens and
// empty program names are configuration errors.
func NewAllowlist(entries []Entry) (*Allowlist, error) {
	byToken := make(map[string]string)
	add := func(token, program string) error {
		if token == "" {
			return fmt.Errorf("allowlist: empty token for program %q", program)
		}
		if existing, exists := byToken[token]; exists && existing != program {
			return fmt.Errorf("allowlist: token %q claimed by both %q and %q", token, existing, program)
		}
		byToken[token] = program
		return nil
	}

	for _, entry := range entries {
		if entry.Program == "" {
			return nil, fmt.Errorf("allowlist: entry with empty program")
		}
		if err := add(entry.Program, entry.Program); err != nil {
			return nil, err
		}
		for _, alias := range entry.Aliases {
			if err := add(alias, entry.Program); err != nil {
				return nil, err
			}
		}
	}
	return &Allowlist{byToken: byToken}, nil
}

// LoadAllowlist reads an allowlist file: a JSONC array of entries.
func LoadAllowlist(path string) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading allowlist: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return nil, fmt.Errorf("parsing allowlist %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("allowlist %s is empty", path)
	}
	return NewAllowlist(entries)
}

// Resolve maps a first token to its canonical program identifier.
// Exact match only.
func (a *Allowlist) Resolve(token string) (string, bool) {
	program, ok := a.byToken[token]
	return program, ok
}

// Programs returns the sorted canonical program identifiers.
func (a *Allowlist) Programs() []string {
	seen := make(map[string]bool)
	var programs []string
	for _, program := range a.byToken {
		if !seen[program] {
			seen[program] = true
			programs = append(programs, program)
		}
	}
	sort.Strings(programs)
	return programs
}

// DefaultEntries is the built-in allowlist covering the NetReaper
// toolchain. Note the absence of shells, sudo, and timeout: wrapper
// programs that re-execute their arguments would let a request smuggle
// an arbitrary program past the first-token check.
func DefaultEntries() []Entry {
	return []Entry{
		{Program: "netreaper", Aliases: []string{"/usr/local/bin/netreaper"}},
		{Program: "nmap", Aliases: []string{"/usr/bin/nmap", "/usr/local/bin/nmap"}},
		{Program: "masscan", Aliases: []string{"/usr/bin/masscan"}},
		{Program: "nikto"},
		{Program: "gobuster"},
		{Program: "dirb"},
		{Program: "ffuf"},
		{Program: "whatweb"},
		{Program: "sqlmap"},
		{Program: "hydra"},
	}
}
