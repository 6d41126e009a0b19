package ports

import (
	"context"
	"net/http"
	"time"

	"payments-ledger/internal/core/domain"
)

// PaymentProvider is the capability set every provider adapter implements.
type PaymentProvider interface {
	Name() domain.ProviderName
	Profile() domain.ProviderProfile
	// Initiate submits a collection or disbursement. A nil error with
	// Accepted=false means the provider declined synchronously.
	Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error)
	// Poll reports the provider's view of a transaction. It never mutates state.
	// direction selects the collection or disbursement status endpoint.
	Poll(ctx context.Context, providerRef string, direction domain.IntentDirection) (*domain.PollResult, error)
	// VerifySignature authenticates a webhook delivery. Returns
	// apperror.ErrInvalidSignature on a bad or missing signature.
	VerifySignature(headers http.Header, body []byte) error
	// Normalize maps a verified delivery to the internal taxonomy. Returns
	// apperror.ErrUnknownEvent for event types the ledger does not act on.
	Normalize(body []byte) (*domain.NormalizedEvent, error)
}

// ProviderRegistry dispatches by provider name.
type ProviderRegistry interface {
	Get(name domain.ProviderName) (PaymentProvider, bool)
	All() []PaymentProvider
}

// IdempotencyCache is the Redis-layer idempotency store (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) // nil when absent
	Set(ctx context.Context, record *domain.IdempotencyRecord, ttl time.Duration) error
	// Claim atomically marks key as in flight under token. Returns false if
	// already claimed.
	Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// ReleaseClaim drops the claim only while it is still held under token.
	ReleaseClaim(ctx context.Context, key, token string) error
}

// DeliveryDedup remembers provider webhook deliveries that were fully applied.
type DeliveryDedup interface {
	Seen(ctx context.Context, provider domain.ProviderName, eventID string) (bool, error)
	// MarkProcessed records the delivery. Returns false if it was already recorded.
	MarkProcessed(ctx context.Context, provider domain.ProviderName, eventID string, ttl time.Duration) (bool, error)
}

// EventAuditLog keeps the last N verified webhook deliveries.
type EventAuditLog interface {
	Append(ctx context.Context, event *domain.AuditedEvent) error
	Recent(ctx context.Context, limit int64) ([]domain.AuditedEvent, error)
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// EventPublisher emits domain events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.PaymentEvent) error
}

// Metrics records operational counters. Implementations must be safe for concurrent use.
type Metrics interface {
	WebhookReceived(provider, outcome string)
	SettlementApplied(source, outcome string)
	PollerRun(polled, settled int, err error)
	LedgerOperation(op, result string)
	LocksExpired(n int)
	IdempotencyReplay(scope string)
}
