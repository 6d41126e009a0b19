package ports

import (
	"context"
	"net/http"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// HashService handles secret hashing (Argon2id).
type HashService interface {
	Hash(secret string) (string, error)
	Verify(secret string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(ownerID string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	OwnerID string
}

// --- Service Ports (Business Logic) ---

// LedgerService is the wallet ledger.
type LedgerService interface {
	GetOrCreateWallet(ctx context.Context, ownerID, currency string) (*domain.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	Credit(ctx context.Context, req EntryRequest) (*domain.LedgerEntry, error)
	Debit(ctx context.Context, req EntryRequest) (*domain.LedgerEntry, error)
	ListEntries(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error)
	CheckConsistency(ctx context.Context, walletID uuid.UUID) (*ConsistencyReport, error)
}

// TransferRequest moves funds between two wallets of the same currency.
type TransferRequest struct {
	FromWalletID uuid.UUID
	ToWalletID   uuid.UUID
	Amount       int64
	Reference    string
	Description  string
}

// TransferResult carries the reference shared by both ledger entries.
type TransferResult struct {
	Reference string             `json:"reference"`
	Debit     domain.LedgerEntry `json:"debit"`
	Credit    domain.LedgerEntry `json:"credit"`
}

// EntryRequest is a single-sided ledger mutation.
type EntryRequest struct {
	WalletID    uuid.UUID
	Amount      int64
	Reference   string
	Description string
	Metadata    map[string]string
}

// ConsistencyReport compares a wallet's balance with its completed entries.
type ConsistencyReport struct {
	WalletID      uuid.UUID `json:"wallet_id"`
	Balance       int64     `json:"balance"`
	LockedBalance int64     `json:"locked_balance"`
	Credits       int64     `json:"credits"`
	Debits        int64     `json:"debits"`
	Consistent    bool      `json:"consistent"`
}

// LockService reserves, captures and releases wallet funds.
type LockService interface {
	Lock(ctx context.Context, req LockRequest) (*domain.FundLock, error)
	Release(ctx context.Context, reference string) error
	Capture(ctx context.Context, reference string) (*domain.LedgerEntry, error)
	ReleaseExpired(ctx context.Context) (int, error)
}

// LockRequest reserves Amount on a wallet under Reference.
type LockRequest struct {
	WalletID  uuid.UUID
	Amount    int64
	Reference string
	Reason    string
	TTL       time.Duration // zero uses the configured default
}

// PaymentService drives provider-backed collections and payouts.
type PaymentService interface {
	Collect(ctx context.Context, req CollectRequest) (*domain.PaymentIntent, error)
	Disburse(ctx context.Context, req DisburseRequest) (*domain.PaymentIntent, error)
	// GetStatus finds an intent by provider reference or intent ID. An empty
	// provider matches any provider.
	GetStatus(ctx context.Context, provider domain.ProviderName, providerRef string, poll bool) (*domain.PaymentIntent, error)
}

// CollectRequest charges an end user. With TopUp set, the owner's wallet in
// Currency is credited once the provider confirms.
type CollectRequest struct {
	OwnerID  string              `validate:"required,max=128"`
	Provider domain.ProviderName `validate:"required"`
	Phone    string              `validate:"omitempty,e164"`
	Email    string              `validate:"omitempty,email"`
	Amount   int64               `validate:"gt=0"`
	Currency string              `validate:"required,len=3,alpha"`
	TopUp    bool
}

// DisburseRequest pays out from the owner's wallet to a mobile-money account.
type DisburseRequest struct {
	OwnerID     string              `validate:"required,max=128"`
	Provider    domain.ProviderName `validate:"required"`
	Phone       string              `validate:"required,e164"`
	Amount      int64               `validate:"gt=0"`
	Currency    string              `validate:"required,len=3,alpha"`
	Description string              `validate:"max=255"`
}

// WebhookService ingests provider callbacks.
type WebhookService interface {
	Ingest(ctx context.Context, provider domain.ProviderName, headers http.Header, body []byte) (*IngestResult, error)
	RecentEvents(ctx context.Context, limit int64) ([]domain.AuditedEvent, error)
}

// IngestResult describes what happened to a verified delivery.
type IngestResult struct {
	Event   *domain.NormalizedEvent
	Outcome string
}

// IdempotencyGuard replays stored responses for repeated client keys.
type IdempotencyGuard interface {
	// CheckOrReserve returns the stored record for key, or claims the key and
	// returns the claim token. A concurrent in-flight claim yields
	// apperror.ErrDuplicateRequest.
	CheckOrReserve(ctx context.Context, key string, scope domain.IdempotencyScope) (*domain.IdempotencyRecord, string, error)
	Store(ctx context.Context, key, token string, scope domain.IdempotencyScope, statusCode int, body []byte) error
	// Abandon drops the claim without storing, so the client may retry.
	Abandon(ctx context.Context, key, token string)
}
