// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/netreaper-project/gateway/lib/clock"
)

// ErrBadCredentials covers every credential failure. The message never
// distinguishes wrong password from unknown subject; that distinction
// is an oracle.
var ErrBadCredentials = errors.New("auth: invalid credentials")

// Gate is the authentication front door: it rate-limits, checks the
// operator password, and mints session tokens. Safe for concurrent
// use.
type Gate struct {
	signer      *Signer
	limiter     *Limiter
	revocations *RevocationList
	clock       clock.Clock
	ttl         time.Duration

	// passwordDigest is the BLAKE3 digest of the configured operator
	// password, or nil when no password is configured. Comparing
	// digests instead of raw bytes keeps the comparison constant-time
	// in the password length.
	passwordDigest []byte
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) GateOption {
	return func(g *Gate) { g.ttl = ttl }
}

// NewGate builds a Gate. An empty password means no credential check:
// the caller is expected to restrict connections to loopback in that
// mode.
func NewGate(signer *Signer, password []byte, limiter *Limiter, revocations *RevocationList, clk clock.Clock, options ...GateOption) *Gate {
	g := &Gate{
		signer:      signer,
		limiter:     limiter,
		revocations: revocations,
		clock:       clk,
		ttl:         DefaultTTL,
	}
	if len(password) > 0 {
		digest := blake3.Sum256(password)
		g.passwordDigest = digest[:]
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// RequiresPassword reports whether a password is configured.
func (g *Gate) RequiresPassword() bool {
	return g.passwordDigest != nil
}

// IssueToken authenticates one attempt from the given client key and
// mints a session token for the subject.
//
// The rate limit is checked before the password so a locked-out
// client cannot probe credentials, and every failure is recorded
// whether or not the password was close. A success does not reset the
// failure count.
func (g *Gate) IssueToken(clientKey, subject string, password []byte) ([]byte, *Identity, error) {
	if err := g.limiter.Check(clientKey); err != nil {
		// A refused attempt still counts: hammering through a lockout
		// extends it instead of letting the original failures age out
		// mid-attack.
		g.limiter.RecordFailure(clientKey)
		return nil, nil, err
	}

	if g.passwordDigest != nil {
		digest := blake3.Sum256(password)
		if subtle.ConstantTimeCompare(digest[:], g.passwordDigest) != 1 {
			g.limiter.RecordFailure(clientKey)
			return nil, nil, ErrBadCredentials
		}
	}

	tokenID, err := NewTokenID()
	if err != nil {
		return nil, nil, err
	}

	now := g.clock.Now()
	identity := &Identity{
		ID:        tokenID,
		Subject:   subject,
		Role:      RoleOperator,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(g.ttl).Unix(),
	}
	tokenBytes, err := g.signer.Mint(identity)
	if err != nil {
		return nil, nil, err
	}
	return tokenBytes, identity, nil
}

// ValidateToken verifies a presented token and checks it against the
// revocation list.
func (g *Gate) ValidateToken(tokenBytes []byte) (*Identity, error) {
	identity, err := g.signer.VerifyAt(tokenBytes, g.clock.Now())
	if err != nil {
		return nil, err
	}
	if g.revocations.IsRevoked(identity.ID) {
		return nil, fmt.Errorf("%w: %s", ErrTokenRevoked, identity.ID)
	}
	return identity, nil
}

// RevokeToken removes a previously issued token from service for the
// rest of its natural lifetime. Each revocation also prunes entries
// whose tokens have since expired, keeping the list bounded without a
// background sweeper.
func (g *Gate) RevokeToken(identity *Identity) {
	g.revocations.Cleanup(g.clock.Now())
	g.revocations.Revoke(identity.ID, time.Unix(identity.ExpiresAt, 0))
}
