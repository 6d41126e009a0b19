package memory

import (
	"context"
	"fmt"
	"time"

	"payments-ledger/internal/core/ports"
)

// RateLimitStore implements ports.RateLimitStore with fixed-window counters
// held in memory.
type RateLimitStore struct {
	m *ttlMap
}

// NewRateLimitStore creates an in-memory rate limit store.
func NewRateLimitStore(now func() time.Time) *RateLimitStore {
	return &RateLimitStore{m: newTTLMap(now)}
}

func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	secs := int64(window.Seconds())
	if secs <= 0 {
		secs = 1
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	windowID := s.m.now().Unix() / secs
	k := fmt.Sprintf("%s:%d", key, windowID)
	var count int64
	if v, ok := s.m.get(k); ok {
		count = v.(int64)
	}
	count++
	s.m.set(k, count, window+time.Second)

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   (windowID + 1) * secs,
	}, nil
}
