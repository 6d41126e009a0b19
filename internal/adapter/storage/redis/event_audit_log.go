package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"payments-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// EventAuditLog implements ports.EventAuditLog as a capped Redis list,
// newest first.
type EventAuditLog struct {
	client *goredis.Client
	key    string
	size   int64
}

// NewEventAuditLog creates an audit log holding at most size events.
func NewEventAuditLog(client *goredis.Client, size int64) *EventAuditLog {
	if size <= 0 {
		size = 1
	}
	return &EventAuditLog{
		client: client,
		key:    "webhook:audit",
		size:   size,
	}
}

// Append pushes the event and trims the list in one round trip.
func (l *EventAuditLog) Append(ctx context.Context, event *domain.AuditedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audited event: %w", err)
	}
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, l.key, payload)
	pipe.LTrim(ctx, l.key, 0, l.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis audit append: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *EventAuditLog) Recent(ctx context.Context, limit int64) ([]domain.AuditedEvent, error) {
	if limit <= 0 || limit > l.size {
		limit = l.size
	}
	raw, err := l.client.LRange(ctx, l.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis audit range: %w", err)
	}
	events := make([]domain.AuditedEvent, 0, len(raw))
	for _, item := range raw {
		var e domain.AuditedEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode audited event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}
