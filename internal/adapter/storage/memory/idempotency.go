package memory

import (
	"context"
	"sync"
	"time"

	"payments-ledger/internal/core/domain"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	s *Store
}

// Save keeps the first response stored for a live key.
func (r *IdempotencyRepo) Save(ctx context.Context, rec *domain.IdempotencyRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.idempotency[rec.Key]; ok && !existing.IsExpired(r.s.now()) {
		return nil
	}
	stored := *rec
	stored.Response = append([]byte(nil), rec.Response...)
	r.s.idempotency[rec.Key] = &stored
	return nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.idempotency[key]
	if !ok || rec.IsExpired(r.s.now()) {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, rec := range r.s.idempotency {
		if rec.IsExpired(now) {
			delete(r.s.idempotency, k)
			n++
		}
	}
	return n, nil
}

// ttlMap is a string-keyed map whose entries lapse after a deadline.
type ttlMap struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]ttlEntry
}

type ttlEntry struct {
	value     any
	expiresAt time.Time
}

func newTTLMap(now func() time.Time) *ttlMap {
	if now == nil {
		now = time.Now
	}
	return &ttlMap{now: now, entries: make(map[string]ttlEntry)}
}

// get must be called with mu held.
func (m *ttlMap) get(key string) (any, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

// set must be called with mu held.
func (m *ttlMap) set(key string, value any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.entries[key] = ttlEntry{value: value, expiresAt: exp}
}

// IdempotencyCache implements ports.IdempotencyCache in process memory.
type IdempotencyCache struct {
	m *ttlMap
}

// NewIdempotencyCache creates an in-memory idempotency cache. A nil clock
// uses time.Now.
func NewIdempotencyCache(now func() time.Time) *IdempotencyCache {
	return &IdempotencyCache{m: newTTLMap(now)}
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	v, ok := c.m.get("record:" + key)
	if !ok {
		return nil, nil
	}
	rec := v.(domain.IdempotencyRecord)
	return &rec, nil
}

func (c *IdempotencyCache) Set(ctx context.Context, rec *domain.IdempotencyRecord, ttl time.Duration) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	stored := *rec
	stored.Response = append([]byte(nil), rec.Response...)
	c.m.set("record:"+rec.Key, stored, ttl)
	return nil
}

func (c *IdempotencyCache) Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, taken := c.m.get("claim:" + key); taken {
		return false, nil
	}
	c.m.set("claim:"+key, token, ttl)
	return true, nil
}

// ReleaseClaim deletes the claim only while token still holds it.
func (c *IdempotencyCache) ReleaseClaim(ctx context.Context, key, token string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if holder, ok := c.m.get("claim:" + key); ok && holder == token {
		delete(c.m.entries, "claim:"+key)
	}
	return nil
}
