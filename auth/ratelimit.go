// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/netreaper-project/gateway/lib/clock"
)

// Default brute-force limits: a key that fails this many times inside
// the window is refused before any credential comparison happens.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 5 * time.Minute
)

// ErrRateLimited is the errors.Is target for rate-limit refusals.
var ErrRateLimited = errors.New("auth: too many failed attempts")

// RateLimitedError carries the retry hint alongside the sentinel.
type RateLimitedError struct {
	// RetryAfter is how long until the oldest counted failure leaves
	// the window.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("auth: too many failed attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

// Is reports ErrRateLimited so callers can match without the type.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Limiter counts authentication failures per key (normally the client
// IP) over a sliding window. Successes are deliberately not counted
// and do not reset the window: an attacker who guesses one password
// does not earn fresh attempts.
type Limiter struct {
	clock       clock.Clock
	maxAttempts int
	window      time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewLimiter creates a Limiter with the given bounds. maxAttempts and
// window fall back to the defaults when zero.
func NewLimiter(clk clock.Clock, maxAttempts int, window time.Duration) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		clock:       clk,
		maxAttempts: maxAttempts,
		window:      window,
		failures:    make(map[string][]time.Time),
	}
}

// Check returns a RateLimitedError when the key has exhausted its
// attempts. Call this before comparing credentials so a locked-out
// client learns nothing about password validity.
func (l *Limiter) Check(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(key)
	if len(recent) < l.maxAttempts {
		return nil
	}

	oldest := recent[0]
	return &RateLimitedError{
		RetryAfter: oldest.Add(l.window).Sub(l.clock.Now()),
	}
}

// RecordFailure counts one failed attempt against the key.
func (l *Limiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[key] = append(l.prune(key), l.clock.Now())
}

// prune drops failures outside the window for a key and returns what
// remains. Caller holds l.mu.
func (l *Limiter) prune(key string) []time.Time {
	cutoff := l.clock.Now().Add(-l.window)
	recent := l.failures[key][:0:len(l.failures[key])]
	for _, at := range l.failures[key] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) == 0 {
		delete(l.failures, key)
		return nil
	}
	l.failures[key] = recent
	return recent
}
