// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"strings"
)

// SplitWords tokenizes a command line into literal argument strings
// using shell-style word splitting: single quotes preserve everything
// verbatim, double quotes allow backslash escapes of `"` and `\`, and
// an unquoted backslash escapes the next character. There is no
// variable, glob, or command expansion of any kind — the output
// strings are never re-interpreted by a shell.
func SplitWords(input string) ([]string, error) {
	var words []string
	var current strings.Builder
	inWord := false

	flush := func() {
		if inWord {
			words = append(words, current.String())
			current.Reset()
			inWord = false
		}
	}

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()

		case c == '\'':
			inWord = true
			end := indexRune(runes, i+1, '\'')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated single quote", ErrMetacharacter)
			}
			current.WriteString(string(runes[i+1 : end]))
			i = end

		case c == '"':
			inWord = true
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\') {
					current.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == '"' {
					closed = true
					break
				}
				current.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated double quote", ErrMetacharacter)
			}

		case c == '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("%w: trailing backslash", ErrMetacharacter)
			}
			inWord = true
			current.WriteRune(runes[i+1])
			i++

		default:
			inWord = true
			current.WriteRune(c)
		}
	}
	flush()
	return words, nil
}

// indexRune returns the index of the first occurrence of c in runes at
// or after start, or -1.
func indexRune(runes []rune, start int, c rune) int {
	for i := start; i < len(runes); i++ {
		if runes[i] == c {
			return i
		}
	}
	return -1
}
