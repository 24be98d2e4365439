// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/netreaper-project/gateway/lib/clock"
)

func testGate(t *testing.T, fake *clock.FakeClock, password string, options ...GateOption) *Gate {
	t.Helper()
	signer := testSigner(t)
	limiter := NewLimiter(fake, DefaultMaxAttempts, DefaultWindow)
	return NewGate(signer, []byte(password), limiter, NewRevocationList(), fake, options...)
}

func TestGateIssueAndValidate(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	gate := testGate(t, fake, "correct horse battery staple")

	tokenBytes, issued, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if issued.Subject != "operator" {
		t.Errorf("issued Subject = %q, want operator", issued.Subject)
	}
	if got, want := issued.ExpiresAt-issued.IssuedAt, int64(DefaultTTL/time.Second); got != want {
		t.Errorf("token lifetime = %ds, want %ds", got, want)
	}

	identity, err := gate.ValidateToken(tokenBytes)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if identity.ID != issued.ID {
		t.Errorf("validated ID = %q, want %q", identity.ID, issued.ID)
	}
}

func TestGateWrongPassword(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	gate := testGate(t, fake, "correct horse battery staple")

	_, _, err := gate.IssueToken("10.0.0.9", "operator", []byte("wrong"))
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("IssueToken(wrong password) error = %v, want ErrBadCredentials", err)
	}
}

func TestGateLockoutAfterRepeatedFailures(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	gate := testGate(t, fake, "correct horse battery staple")

	for i := 0; i < DefaultMaxAttempts; i++ {
		if _, _, err := gate.IssueToken("10.0.0.9", "operator", []byte("wrong")); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d error = %v, want ErrBadCredentials", i, err)
		}
	}

	// Locked out now, even with the correct password: the limiter
	// runs before any credential comparison.
	_, _, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple"))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("post-lockout error = %v, want ErrRateLimited", err)
	}

	// A different client is unaffected.
	if _, _, err := gate.IssueToken("10.0.0.10", "operator", []byte("correct horse battery staple")); err != nil {
		t.Errorf("IssueToken from unrelated client: %v", err)
	}

	// After the window passes, the locked-out client may try again.
	fake.Advance(DefaultWindow + time.Second)
	if _, _, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple")); err != nil {
		t.Errorf("IssueToken after window: %v", err)
	}
}

func TestGateLockoutExtendsWhileHammered(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	gate := testGate(t, fake, "correct horse battery staple")

	for i := 0; i < DefaultMaxAttempts; i++ {
		gate.IssueToken("10.0.0.9", "operator", []byte("wrong"))
	}

	// Attempts every 30 seconds, well past the point where the
	// original failures age out. Refused attempts count toward the
	// window too, so the lockout holds for as long as the hammering
	// continues.
	for i := 0; i < 12; i++ {
		fake.Advance(30 * time.Second)
		_, _, err := gate.IssueToken("10.0.0.9", "operator", []byte("wrong"))
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("hammer attempt %d error = %v, want ErrRateLimited", i+1, err)
		}
	}

	// Only a full quiet window reopens the gate.
	fake.Advance(DefaultWindow + time.Second)
	if _, _, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple")); err != nil {
		t.Errorf("IssueToken after quiet window: %v", err)
	}
}

func TestGateSuccessDoesNotResetFailures(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	gate := testGate(t, fake, "correct horse battery staple")

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		gate.IssueToken("10.0.0.9", "operator", []byte("wrong"))
	}
	if _, _, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple")); err != nil {
		t.Fatalf("IssueToken below limit: %v", err)
	}

	// One more failure reaches the limit; the earlier success bought
	// no extra attempts.
	gate.IssueToken("10.0.0.9", "operator", []byte("wrong"))
	_, _, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple"))
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error after limit reached = %v, want ErrRateLimited", err)
	}
}

func TestGateNoPassword(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	gate := testGate(t, fake, "")

	if gate.RequiresPassword() {
		t.Fatal("RequiresPassword() = true for empty password")
	}
	if _, _, err := gate.IssueToken("127.0.0.1", "operator", nil); err != nil {
		t.Errorf("IssueToken without password: %v", err)
	}
}

func TestGateExpiredToken(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	gate := testGate(t, fake, "correct horse battery staple", WithTTL(time.Minute))

	tokenBytes, _, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	fake.Advance(time.Minute)
	if _, err := gate.ValidateToken(tokenBytes); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ValidateToken after TTL error = %v, want ErrTokenExpired", err)
	}
}

func TestGateRevokedToken(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	gate := testGate(t, fake, "correct horse battery staple")

	tokenBytes, issued, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	gate.RevokeToken(issued)
	if _, err := gate.ValidateToken(tokenBytes); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("ValidateToken of revoked token error = %v, want ErrTokenRevoked", err)
	}
}

func TestRevokeTokenPrunesExpiredEntries(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	gate := testGate(t, fake, "correct horse battery staple", WithTTL(time.Minute))

	_, first, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	gate.RevokeToken(first)

	// The first token expires; the next revocation sweeps its entry
	// out of the list.
	fake.Advance(2 * time.Minute)
	_, second, err := gate.IssueToken("10.0.0.9", "operator", []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	gate.RevokeToken(second)

	if got := gate.revocations.Len(); got != 1 {
		t.Errorf("revocation list length = %d, want 1 after pruning", got)
	}
}
