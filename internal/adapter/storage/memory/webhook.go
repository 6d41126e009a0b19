package memory

import (
	"context"
	"sync"
	"time"

	"payments-ledger/internal/core/domain"
)

// DeliveryDedup implements ports.DeliveryDedup in process memory.
type DeliveryDedup struct {
	m *ttlMap
}

// NewDeliveryDedup creates an in-memory delivery deduplicator.
func NewDeliveryDedup(now func() time.Time) *DeliveryDedup {
	return &DeliveryDedup{m: newTTLMap(now)}
}

func (d *DeliveryDedup) Seen(ctx context.Context, provider domain.ProviderName, eventID string) (bool, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	_, ok := d.m.get(string(provider) + ":" + eventID)
	return ok, nil
}

func (d *DeliveryDedup) MarkProcessed(ctx context.Context, provider domain.ProviderName, eventID string, ttl time.Duration) (bool, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	key := string(provider) + ":" + eventID
	if _, ok := d.m.get(key); ok {
		return false, nil
	}
	d.m.set(key, struct{}{}, ttl)
	return true, nil
}

// EventAuditLog implements ports.EventAuditLog as a fixed-size ring, newest first.
type EventAuditLog struct {
	mu     sync.Mutex
	size   int
	events []domain.AuditedEvent
}

// NewEventAuditLog keeps at most size events.
func NewEventAuditLog(size int) *EventAuditLog {
	if size <= 0 {
		size = 1
	}
	return &EventAuditLog{size: size, events: make([]domain.AuditedEvent, 0, size)}
}

func (l *EventAuditLog) Append(ctx context.Context, event *domain.AuditedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) < l.size {
		l.events = append(l.events, domain.AuditedEvent{})
	}
	copy(l.events[1:], l.events[:len(l.events)-1])
	l.events[0] = *event
	return nil
}

func (l *EventAuditLog) Recent(ctx context.Context, limit int64) ([]domain.AuditedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.events)
	if limit > 0 && int(limit) < n {
		n = int(limit)
	}
	out := make([]domain.AuditedEvent, n)
	copy(out, l.events[:n])
	return out, nil
}
