package provider

import (
	"context"
	"sync"
	"time"
)

// tokenCache holds OAuth-style bearer tokens per key until shortly before
// they expire. Fetches for the same cache are serialized.
type tokenCache struct {
	mu     sync.Mutex
	now    func() time.Time
	tokens map[string]cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// tokenFetcher returns a fresh token and its lifetime.
type tokenFetcher func(ctx context.Context) (string, time.Duration, error)

const tokenRefreshMargin = time.Minute

func newTokenCache(now func() time.Time) *tokenCache {
	return &tokenCache{now: now, tokens: make(map[string]cachedToken)}
}

func (c *tokenCache) get(ctx context.Context, key string, fetch tokenFetcher) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tokens[key]; ok && c.now().Before(t.expiresAt) {
		return t.value, nil
	}
	value, ttl, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if ttl > 2*tokenRefreshMargin {
		ttl -= tokenRefreshMargin
	}
	c.tokens[key] = cachedToken{value: value, expiresAt: c.now().Add(ttl)}
	return value, nil
}
