package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payments-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// DeliveryDedup implements ports.DeliveryDedup using Redis SET NX.
type DeliveryDedup struct {
	client *goredis.Client
	prefix string
}

// NewDeliveryDedup creates a new Redis-backed delivery deduplicator.
func NewDeliveryDedup(client *goredis.Client) *DeliveryDedup {
	return &DeliveryDedup{
		client: client,
		prefix: "webhook:delivery:",
	}
}

func (d *DeliveryDedup) key(provider domain.ProviderName, eventID string) string {
	return d.prefix + string(provider) + ":" + eventID
}

// Seen reports whether the delivery was already processed.
func (d *DeliveryDedup) Seen(ctx context.Context, provider domain.ProviderName, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis delivery lookup: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records a delivery. Returns true if it was new, false if it
// had been recorded before.
func (d *DeliveryDedup) MarkProcessed(ctx context.Context, provider domain.ProviderName, eventID string, ttl time.Duration) (bool, error) {
	result, err := d.client.SetArgs(ctx, d.key(provider, eventID), 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Key already exists
			return false, nil
		}
		return false, fmt.Errorf("redis delivery mark: %w", err)
	}
	return result == "OK", nil
}
