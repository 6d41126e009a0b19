package redis

import (
	"context"
	"testing"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryDedup_MarkProcessed(t *testing.T) {
	s, client := newTestClient(t)
	dedup := NewDeliveryDedup(client)
	ctx := context.Background()

	seen, err := dedup.Seen(ctx, domain.ProviderPaystack, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := dedup.MarkProcessed(ctx, domain.ProviderPaystack, "evt-1", 72*time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := dedup.MarkProcessed(ctx, domain.ProviderPaystack, "evt-1", 72*time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	seen, err = dedup.Seen(ctx, domain.ProviderPaystack, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = dedup.Seen(ctx, domain.ProviderStripe, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen, "event IDs are scoped per provider")

	s.FastForward(73 * time.Hour)
	seen, err = dedup.Seen(ctx, domain.ProviderPaystack, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDeliveryDedup_RedisDown(t *testing.T) {
	s, client := newTestClient(t)
	dedup := NewDeliveryDedup(client)
	s.Close()

	_, err := dedup.MarkProcessed(context.Background(), domain.ProviderAirtel, "evt-9", time.Hour)
	assert.Error(t, err)
}
