// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive material — the session password and
// the token signing secret — in memory that is locked against swapping
// and excluded from core dumps. Buffers are allocated outside the Go
// heap via mmap(MAP_ANONYMOUS), so the garbage collector never copies
// or relocates the bytes, and Close zeroes them before unmapping.
package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds a secret in mlocked, dump-excluded memory. It must not
// be copied after creation. Close releases and zeroes the memory; any
// access after Close panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewFromBytes copies source into a new protected buffer and zeroes
// the caller's slice, so the original allocation no longer holds the
// secret. The caller must Close the buffer when done.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	data, err := unix.Mmap(-1, 0, len(source), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock failed: %w", err)
	}
	// Best effort: MADV_DONTDUMP is not supported on every kernel, and
	// the buffer is already protected against swap without it.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	copy(data, source)
	Zero(source)

	return &Buffer{data: data}, nil
}

// Bytes returns the secret. The slice points directly into the mmap
// region — do not retain it beyond the buffer's lifetime. Panics if
// the buffer has been closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data
}

// Len returns the secret length in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	return len(b.data)
}

// Close zeroes, unlocks, and unmaps the buffer. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.data)

	var firstError error
	if err := unix.Munlock(b.data); err != nil {
		firstError = fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}
	b.data = nil
	return firstError
}

// Zero overwrites a byte slice in place.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
