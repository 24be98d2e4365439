// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth issues and verifies session tokens for the gateway.
//
// Tokens are CBOR-encoded identity payloads with an HMAC-SHA256 tag
// computed under a key derived from the operator's shared secret. Both
// the gateway and any sidecar verifying tokens hold the same secret;
// there is no key distribution beyond that file.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/netreaper-project/gateway/lib/codec"
)

// tagSize is the fixed size of the HMAC-SHA256 tag appended to the
// CBOR payload.
const tagSize = sha256.Size // 32 bytes

// MinSecretLength is the minimum length of the shared signing secret
// in bytes. Shorter secrets are a configuration error, not a warning.
const MinSecretLength = 32

// DefaultTTL is the lifetime of freshly minted tokens.
const DefaultTTL = time.Hour

// Identity is the CBOR-encoded payload of a session token.
type Identity struct {
	// ID is a unique token identifier (hex string). Used for
	// revocation via the RevocationList.
	ID string `cbor:"1,keyasint"`

	// Subject is the operator name the token was issued to. Carried
	// into the execution log so job records name a person, not a
	// connection.
	Subject string `cbor:"2,keyasint"`

	// Role is the authorization role. The gateway currently mints
	// only "operator".
	Role string `cbor:"3,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of when the gateway
	// minted this token.
	IssuedAt int64 `cbor:"4,keyasint"`

	// ExpiresAt is a Unix timestamp (seconds) after which this token
	// is no longer valid.
	ExpiresAt int64 `cbor:"5,keyasint"`
}

// RoleOperator is the role minted for interactive sessions.
const RoleOperator = "operator"

// Errors returned by Verify and related functions.
var (
	ErrSecretTooShort  = errors.New("auth: signing secret below minimum length")
	ErrTokenTooShort   = errors.New("auth: token too short for tag")
	ErrInvalidTag      = errors.New("auth: invalid authentication tag")
	ErrMalformedToken  = errors.New("auth: token payload missing required fields")
	ErrTokenExpired    = errors.New("auth: token has expired")
	ErrTokenRevoked    = errors.New("auth: token has been revoked")
)

// Signer mints and verifies tokens under a key derived from the shared
// secret. Immutable after construction; safe for concurrent use.
type Signer struct {
	key []byte
}

// NewSigner derives the HMAC key from the shared secret. The secret
// itself never signs anything directly; HKDF binds the derived key to
// this use so the same secret file can safely feed other derivations
// later.
func NewSigner(sharedSecret []byte) (*Signer, error) {
	if len(sharedSecret) < MinSecretLength {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrSecretTooShort, len(sharedSecret), MinSecretLength)
	}

	reader := hkdf.New(sha256.New, sharedSecret, nil, []byte("netreaper-gateway session token v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("auth: deriving token key: %w", err)
	}
	return &Signer{key: key}, nil
}

// NewTokenID returns a fresh random token identifier.
func NewTokenID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("auth: generating token ID: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// Mint signs an Identity and returns the raw wire-format bytes:
// CBOR-encoded payload followed by the 32-byte HMAC tag.
func (s *Signer) Mint(identity *Identity) ([]byte, error) {
	payload, err := codec.Marshal(identity)
	if err != nil {
		return nil, fmt.Errorf("auth: encoding token payload: %w", err)
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)

	result := make([]byte, len(payload), len(payload)+tagSize)
	copy(result, payload)
	return mac.Sum(result), nil
}

// Verify splits the raw token bytes, checks the HMAC tag, CBOR-decodes
// the payload, and checks expiry. Returns the decoded Identity on
// success.
//
// The caller should additionally consult the RevocationList for
// revoked token IDs.
func (s *Signer) Verify(tokenBytes []byte) (*Identity, error) {
	return s.VerifyAt(tokenBytes, time.Now())
}

// VerifyAt is like Verify but accepts an explicit time for expiry
// checks. This supports deterministic testing.
func (s *Signer) VerifyAt(tokenBytes []byte, now time.Time) (*Identity, error) {
	if len(tokenBytes) <= tagSize {
		return nil, ErrTokenTooShort
	}

	splitPoint := len(tokenBytes) - tagSize
	payload := tokenBytes[:splitPoint]
	tag := tokenBytes[splitPoint:]

	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, ErrInvalidTag
	}

	var identity Identity
	if err := codec.Unmarshal(payload, &identity); err != nil {
		return nil, fmt.Errorf("auth: decoding token payload: %w", err)
	}

	// Every field is required. A token minted without an ID cannot be
	// revoked, and one without timestamps cannot expire.
	if identity.ID == "" || identity.Subject == "" || identity.Role == "" ||
		identity.IssuedAt == 0 || identity.ExpiresAt == 0 {
		return nil, ErrMalformedToken
	}

	if now.Unix() >= identity.ExpiresAt {
		return nil, ErrTokenExpired
	}

	return &identity, nil
}
