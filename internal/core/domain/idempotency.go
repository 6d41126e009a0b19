package domain

import (
	"time"
)

// IdempotencyScope names the operation an idempotency key belongs to.
// The same key may be reused across scopes.
type IdempotencyScope string

const (
	ScopeTopup        IdempotencyScope = "topup"
	ScopeCollection   IdempotencyScope = "collection"
	ScopeTransfer     IdempotencyScope = "transfer"
	ScopeDisbursement IdempotencyScope = "disbursement"
)

// IdempotencyRecord is a stored response replayed for a repeated key.
type IdempotencyRecord struct {
	Key        string           `json:"key"` // Format: "scope:owner_id:client_key"
	Scope      IdempotencyScope `json:"scope"`
	StatusCode int              `json:"status_code"`
	Response   []byte           `json:"response"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// IsExpired reports whether the record can no longer be replayed at now.
func (r *IdempotencyRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// BuildIdempotencyKey constructs the storage key for a client-supplied key.
func BuildIdempotencyKey(scope IdempotencyScope, ownerID, clientKey string) string {
	return string(scope) + ":" + ownerID + ":" + clientKey
}
