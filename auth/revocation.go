// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"sync"
	"time"
)

// revocationEntry tracks a revoked token ID and its natural expiry
// time. Once the token's own TTL has passed, keeping the entry is
// unnecessary since expired tokens are rejected by Verify regardless.
type revocationEntry struct {
	tokenExpiresAt time.Time
}

// RevocationList is a thread-safe in-memory set of revoked token IDs.
// The gateway revokes a session's token when the session ends
// uncleanly, a protocol violation or a client that vanishes mid-job;
// subsequent Verify calls that return an identity whose ID is listed
// here must be rejected.
//
// The list auto-cleans: the Gate runs Cleanup on every revocation, so
// entries whose token expiry has passed do not accumulate.
type RevocationList struct {
	mu      sync.RWMutex
	entries map[string]revocationEntry
}

// NewRevocationList creates an empty revocation list.
func NewRevocationList() *RevocationList {
	return &RevocationList{
		entries: make(map[string]revocationEntry),
	}
}

// Revoke adds a token ID to the list. The tokenExpiresAt parameter is
// the token's natural expiry time; the entry is removed after this
// time during Cleanup.
func (r *RevocationList) Revoke(tokenID string, tokenExpiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tokenID] = revocationEntry{tokenExpiresAt: tokenExpiresAt}
}

// IsRevoked checks whether a token ID has been revoked.
func (r *RevocationList) IsRevoked(tokenID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[tokenID]
	return exists
}

// Cleanup removes entries whose token's natural expiry has passed.
// Call this periodically to prevent unbounded growth.
func (r *RevocationList) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for tokenID, entry := range r.entries {
		if !now.Before(entry.tokenExpiresAt) {
			delete(r.entries, tokenID)
			removed++
		}
	}
	return removed
}

// Len returns the current number of revoked entries.
func (r *RevocationList) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
