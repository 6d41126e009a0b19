package dto

import (
	"time"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/google/uuid"
)

// --- Client requests ---

// Amounts are minor units. Their bounds are checked by the services so that
// callers get VAL_002 rather than a generic binding error.

type TopupRequest struct {
	Provider string `json:"provider" binding:"required,max=32"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency" binding:"required"`
	Phone    string `json:"phone,omitempty" binding:"omitempty,max=20"`
	Email    string `json:"email,omitempty" binding:"omitempty,email"`
}

type TransferRequest struct {
	ToOwnerID   string `json:"to_owner_id" binding:"required,max=128"`
	Currency    string `json:"currency" binding:"required"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference,omitempty" binding:"omitempty,max=128,safe_ref"`
	Description string `json:"description,omitempty" binding:"max=255"`
}

type CollectRequest struct {
	Provider string `json:"provider" binding:"required,max=32"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency" binding:"required"`
	Phone    string `json:"phone,omitempty" binding:"omitempty,max=20"`
	Email    string `json:"email,omitempty" binding:"omitempty,email"`
}

type PayoutRequest struct {
	Provider    string `json:"provider" binding:"required,max=32"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency" binding:"required"`
	Phone       string `json:"phone" binding:"required,max=20"`
	Description string `json:"description,omitempty" binding:"max=255"`
}

// --- Internal requests ---

type LockFundsRequest struct {
	OwnerID    string `json:"owner_id" binding:"required,max=128"`
	Currency   string `json:"currency,omitempty"` // defaults to ledger.default_currency
	Amount     int64  `json:"amount"`
	Reference  string `json:"reference" binding:"required,max=128,safe_ref"`
	Reason     string `json:"reason" binding:"max=255"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty" binding:"gte=0,lte=2592000"`
}

type UnlockFundsRequest struct {
	Reference string `json:"reference" binding:"required,max=128,safe_ref"`
	Capture   bool   `json:"capture"`
}

// --- Responses ---

type WalletResponse struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Currency      string    `json:"currency"`
	Balance       int64     `json:"balance"`
	LockedBalance int64     `json:"locked_balance"`
	Available     int64     `json:"available"`
	IsActive      bool      `json:"is_active"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type EntryResponse struct {
	ID          uuid.UUID `json:"id"`
	WalletID    uuid.UUID `json:"wallet_id"`
	Direction   string    `json:"direction"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Reference   string    `json:"reference"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type EntryListResponse struct {
	Entries []EntryResponse `json:"entries"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

type TransferResponse struct {
	Reference string        `json:"reference"`
	Debit     EntryResponse `json:"debit"`
	Credit    EntryResponse `json:"credit"`
}

type IntentResponse struct {
	ID                uuid.UUID  `json:"id"`
	Provider          string     `json:"provider"`
	ProviderReference string     `json:"provider_reference,omitempty"`
	Direction         string     `json:"direction"`
	Purpose           string     `json:"purpose"`
	Status            string     `json:"status"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	CheckoutURL       string     `json:"checkout_url,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

type LockResponse struct {
	Reference string    `json:"reference"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type UnlockResponse struct {
	Reference string         `json:"reference"`
	Captured  bool           `json:"captured"`
	Entry     *EntryResponse `json:"entry,omitempty"`
}

type WebhookEventsResponse struct {
	Events []domain.AuditedEvent `json:"events"`
	Count  int                   `json:"count"`
}

// --- Mappers ---

func NewWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		ID:            w.ID,
		OwnerID:       w.OwnerID,
		Currency:      w.Currency,
		Balance:       w.Balance,
		LockedBalance: w.LockedBalance,
		Available:     w.Available(),
		IsActive:      w.IsActive,
		UpdatedAt:     w.UpdatedAt,
	}
}

func NewEntryResponse(e *domain.LedgerEntry) EntryResponse {
	return EntryResponse{
		ID:          e.ID,
		WalletID:    e.WalletID,
		Direction:   string(e.Direction),
		Amount:      e.Amount,
		Currency:    e.Currency,
		Status:      string(e.Status),
		Reference:   e.Reference,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}
}

func NewTransferResponse(r *ports.TransferResult) TransferResponse {
	return TransferResponse{
		Reference: r.Reference,
		Debit:     NewEntryResponse(&r.Debit),
		Credit:    NewEntryResponse(&r.Credit),
	}
}

// NewIntentResponse maps an intent. checkoutKey names the metadata entry that
// holds a hosted checkout URL.
func NewIntentResponse(p *domain.PaymentIntent, checkoutKey string) IntentResponse {
	return IntentResponse{
		ID:                p.ID,
		Provider:          string(p.Provider),
		ProviderReference: p.ProviderReference,
		Direction:         string(p.Direction),
		Purpose:           string(p.Purpose),
		Status:            string(p.Status),
		Amount:            p.Amount,
		Currency:          p.Currency,
		FailureReason:     p.FailureReason,
		CheckoutURL:       p.Metadata[checkoutKey],
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		CompletedAt:       p.CompletedAt,
	}
}

func NewLockResponse(l *domain.FundLock) LockResponse {
	return LockResponse{
		Reference: l.Reference,
		WalletID:  l.WalletID,
		Amount:    l.Amount,
		Reason:    l.Reason,
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
	}
}
