// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Package sanitize redacts credential-shaped substrings from tool
// output before it reaches any log, history, or transport sink. The
// rules target key=value and "key: value" shapes for common secret
// keys (password, api_key, token, bearer, ...), replacing only the
// value with a fixed marker while preserving the surrounding text.
//
// Sanitization is idempotent: the redaction marker itself matches the
// value position of every rule, so re-sanitizing already-redacted text
// produces identical output.
package sanitize

import "regexp"

// Marker is the fixed replacement for redacted values.
const Marker = "***REDACTED***"

// Chunk is a unit of sanitized text. Text never carries an unredacted
// secret downstream; RedactedCount is the number of substitutions made.
type Chunk struct {
	Text          string
	RedactedCount int
}

// rule is one ordered substitution. The pattern's first capture group
// is the character (if any) preceding the secret key, the second is the
// key itself; both are preserved in the output and everything after
// them is replaced by suffix.
type rule struct {
	pattern *regexp.Regexp
	suffix  string
}

// Sanitizer applies the ordered redaction rules. It is stateless and
// safe for concurrent use.
type Sanitizer struct {
	rules []rule
}

// New returns a Sanitizer with the standard rule set:
//
//  1. -p/--password/--passwd flag values
//  2. password/passwd/pwd in key=value or "key: value" shape
//  3. api_key/api-key/apikey/token/secret in the same shapes
//  4. authorization/bearer headers, including "Authorization: Bearer x"
//
// The flag rule runs first and the key rules refuse a key preceded by
// a dash, so "--password x" keeps its flag shape instead of being
// rewritten into key=value form.
func New() *Sanitizer {
	return &Sanitizer{
		rules: []rule{
			{
				pattern: regexp.MustCompile(`(?i)(^|\s)(-p|--password|--passwd)\s+\S+`),
				suffix:  " " + Marker,
			},
			{
				pattern: regexp.MustCompile(`(?i)(^|[^-\w])(password|passwd|pwd)[=:\s]+\S+`),
				suffix:  "=" + Marker,
			},
			{
				pattern: regexp.MustCompile(`(?i)(^|[^-\w])(api[_-]?key|token|secret)[=:\s]+\S+`),
				suffix:  "=" + Marker,
			},
			{
				// The optional "bearer" between key and value catches
				// the two-token "Authorization: Bearer x" form in one
				// substitution instead of leaving the credential behind.
				pattern: regexp.MustCompile(`(?i)(^|[^-\w])(authorization|bearer)[:\s]+(?:bearer\s+)?\S+`),
				suffix:  ": " + Marker,
			},
		},
	}
}

// Sanitize applies every rule in order and returns the redacted chunk.
func (s *Sanitizer) Sanitize(text string) Chunk {
	count := 0
	for _, r := range s.rules {
		text = r.pattern.ReplaceAllStringFunc(text, func(match string) string {
			sub := r.pattern.FindStringSubmatch(match)
			replaced := sub[1] + sub[2] + r.suffix
			if replaced == match {
				// Already redacted; not a new substitution.
				return match
			}
			count++
			return replaced
		})
	}
	return Chunk{Text: text, RedactedCount: count}
}
