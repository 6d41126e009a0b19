package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payments-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache using Redis.
// Stored responses live under "idempotency:<key>" and in-flight claims under
// "idempotency:claim:<key>".
type IdempotencyCache struct {
	client      *goredis.Client
	prefix      string
	claimPrefix string
}

// NewIdempotencyCache creates a new Redis-backed idempotency cache.
func NewIdempotencyCache(client *goredis.Client) *IdempotencyCache {
	return &IdempotencyCache{
		client:      client,
		prefix:      "idempotency:",
		claimPrefix: "idempotency:claim:",
	}
}

// Get retrieves a stored response by idempotency key.
// Returns nil, nil if the key does not exist.
func (c *IdempotencyCache) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}
	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("redis idempotency decode: %w", err)
	}
	return &rec, nil
}

// Set stores a response with TTL.
func (c *IdempotencyCache) Set(ctx context.Context, rec *domain.IdempotencyRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis idempotency encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+rec.Key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}

// releaseClaimScript deletes the claim only while it still holds the caller's
// token.
var releaseClaimScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Claim marks key as in flight with SET NX, storing token as the owner.
// Returns false if another request holds the claim.
func (c *IdempotencyCache) Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	result, err := c.client.SetArgs(ctx, c.claimPrefix+key, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis idempotency claim: %w", err)
	}
	return result == "OK", nil
}

// ReleaseClaim drops an in-flight claim if it is still held under token.
func (c *IdempotencyCache) ReleaseClaim(ctx context.Context, key, token string) error {
	err := releaseClaimScript.Run(ctx, c.client, []string{c.claimPrefix + key}, token).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis idempotency release: %w", err)
	}
	return nil
}
