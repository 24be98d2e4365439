// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/netreaper-project/gateway/lib/clock"
)

func TestLimiterWindow(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	limiter := NewLimiter(fake, 3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := limiter.Check("10.0.0.9"); err != nil {
			t.Fatalf("Check before limit (attempt %d): %v", i, err)
		}
		limiter.RecordFailure("10.0.0.9")
	}

	err := limiter.Check("10.0.0.9")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Check at limit error = %v, want ErrRateLimited", err)
	}
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("Check at limit error type = %T, want *RateLimitedError", err)
	}
	if limited.RetryAfter <= 0 || limited.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %s, want within (0, 1m]", limited.RetryAfter)
	}

	// Other keys are unaffected.
	if err := limiter.Check("10.0.0.10"); err != nil {
		t.Errorf("Check for unrelated key: %v", err)
	}

	// The window slides: once the oldest failure ages out, one more
	// attempt is allowed.
	fake.Advance(time.Minute + time.Second)
	if err := limiter.Check("10.0.0.9"); err != nil {
		t.Errorf("Check after window error = %v, want nil", err)
	}
}

func TestLimiterRetryAfterShrinks(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	limiter := NewLimiter(fake, 1, time.Minute)

	limiter.RecordFailure("key")
	first := retryAfter(t, limiter.Check("key"))

	fake.Advance(20 * time.Second)
	second := retryAfter(t, limiter.Check("key"))

	if second >= first {
		t.Errorf("RetryAfter did not shrink: first %s, second %s", first, second)
	}
}

func retryAfter(t *testing.T, err error) time.Duration {
	t.Helper()
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("error = %v, want *RateLimitedError", err)
	}
	return limited.RetryAfter
}

func TestLimiterDefaults(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	limiter := NewLimiter(fake, 0, 0)

	for i := 0; i < DefaultMaxAttempts; i++ {
		limiter.RecordFailure("key")
	}
	if err := limiter.Check("key"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Check at default limit error = %v, want ErrRateLimited", err)
	}
}
