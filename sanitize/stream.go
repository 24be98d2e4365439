// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package sanitize

import "strings"

// maxCarry bounds the partial-line buffer a Stream holds between
// chunks. A line longer than this is sanitized and emitted in pieces —
// unbounded buffering would let a tool that never writes a newline pin
// arbitrary memory.
const maxCarry = 8192

// Stream applies a Sanitizer across chunk boundaries. Process output
// arrives in arbitrary read-sized pieces, so a credential can be split
// across two reads; Stream holds the trailing partial line until the
// newline (or the carry bound) arrives, guaranteeing every rule sees
// the complete line.
//
// A Stream is owned by a single reader goroutine and is not safe for
// concurrent use.
type Stream struct {
	sanitizer *Sanitizer
	carry     strings.Builder
}

// NewStream returns a streaming wrapper around s.
func (s *Sanitizer) NewStream() *Stream {
	return &Stream{sanitizer: s}
}

// Sanitize appends chunk to the carry buffer and returns the sanitized
// complete lines accumulated so far. Text after the last newline is
// held for the next call unless it exceeds the carry bound.
func (st *Stream) Sanitize(chunk string) Chunk {
	st.carry.WriteString(chunk)
	buffered := st.carry.String()

	split := strings.LastIndexByte(buffered, '\n') + 1
	if split == 0 && len(buffered) <= maxCarry {
		return Chunk{}
	}
	if split == 0 {
		// Overlong line with no newline: emit everything rather than
		// buffer without bound. A pattern split exactly at this point
		// can slip through, but only past the 8 KB mark of a single
		// line.
		split = len(buffered)
	}

	emit := buffered[:split]
	st.carry.Reset()
	st.carry.WriteString(buffered[split:])
	return st.sanitizer.Sanitize(emit)
}

// Flush sanitizes and returns any held partial line. Call after the
// stream reaches EOF.
func (st *Stream) Flush() Chunk {
	if st.carry.Len() == 0 {
		return Chunk{}
	}
	held := st.carry.String()
	st.carry.Reset()
	return st.sanitizer.Sanitize(held)
}
