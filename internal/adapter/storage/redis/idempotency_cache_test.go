package redis

import (
	"context"
	"testing"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	key := domain.BuildIdempotencyKey(domain.ScopeTopup, "rider-1", "ORDER-001")
	body := []byte(`{"data":{"id":"abc","status":"PROCESSING"}}`)

	result, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, result)

	err = cache.Set(ctx, &domain.IdempotencyRecord{Key: key, Scope: domain.ScopeTopup, StatusCode: 202, Response: body}, 24*time.Hour)
	require.NoError(t, err)

	result, err = cache.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 202, result.StatusCode)
	assert.Equal(t, body, result.Response, "replayed bytes must be identical")
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	key := "collection:rider-2:ORDER-002"
	err := cache.Set(ctx, &domain.IdempotencyRecord{Key: key, StatusCode: 201, Response: []byte(`{}`)}, time.Hour)
	require.NoError(t, err)

	s.FastForward(time.Hour + time.Second)

	result, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}

func TestIdempotencyCache_Claim(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	ok, err := cache.Claim(ctx, "transfer:rider-1:k", "tok-a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Claim(ctx, "transfer:rider-1:k", "tok-b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must fail while the first is in flight")
	holder, err := s.Get("idempotency:claim:transfer:rider-1:k")
	require.NoError(t, err)
	assert.Equal(t, "tok-a", holder)

	require.NoError(t, cache.ReleaseClaim(ctx, "transfer:rider-1:k", "tok-a"))
	ok, err = cache.Claim(ctx, "transfer:rider-1:k", "tok-c", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	s.FastForward(31 * time.Second)
	ok, err = cache.Claim(ctx, "transfer:rider-1:k", "tok-d", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "claim lapses after its ttl")
}

func TestIdempotencyCache_ReleaseClaimChecksToken(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()
	key := "collection:rider-1:k"

	ok, err := cache.Claim(ctx, key, "tok-slow", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(31 * time.Second)
	ok, err = cache.Claim(ctx, key, "tok-next", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cache.ReleaseClaim(ctx, key, "tok-slow"))
	holder, err := s.Get("idempotency:claim:" + key)
	require.NoError(t, err)
	assert.Equal(t, "tok-next", holder, "a stale token must not delete the newer claim")

	require.NoError(t, cache.ReleaseClaim(ctx, key, "tok-next"))
	assert.False(t, s.Exists("idempotency:claim:"+key))

	assert.NoError(t, cache.ReleaseClaim(ctx, "never-claimed", "tok"))
}

func TestIdempotencyCache_CorruptPayload(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)

	require.NoError(t, s.Set("idempotency:bad", "not-json"))
	_, err := cache.Get(context.Background(), "bad")
	assert.Error(t, err)
}
