package domain

import (
	"time"

	"github.com/google/uuid"
)

// IntentStatus is the provider-driven state of a payment intent.
// PENDING -> PROCESSING -> COMPLETED | FAILED. PENDING may also fail directly.
type IntentStatus string

const (
	IntentStatusPending    IntentStatus = "PENDING"
	IntentStatusProcessing IntentStatus = "PROCESSING"
	IntentStatusCompleted  IntentStatus = "COMPLETED"
	IntentStatusFailed     IntentStatus = "FAILED"
)

// IsTerminal reports whether no further transition is permitted.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusCompleted || s == IntentStatusFailed
}

// IntentDirection says which way money moves through the provider.
type IntentDirection string

const (
	IntentDirectionCollect  IntentDirection = "COLLECT"
	IntentDirectionDisburse IntentDirection = "DISBURSE"
)

// IntentPurpose decides which ledger side effect a terminal outcome has.
type IntentPurpose string

const (
	// PurposeWalletTopup credits the owner's wallet on success.
	PurposeWalletTopup IntentPurpose = "WALLET_TOPUP"
	// PurposeDirectCharge collects money without touching a wallet.
	PurposeDirectCharge IntentPurpose = "DIRECT_CHARGE"
	// PurposePayout pays out funds held by a fund lock.
	PurposePayout IntentPurpose = "PAYOUT"
)

// Metadata keys linking an intent to ledger objects.
const (
	MetaWalletID      = "wallet_id"
	MetaLockReference = "lock_reference"
	// MetaCheckoutURL holds the hosted payment page some providers hand back.
	MetaCheckoutURL = "checkout_url"
)

// Failure reasons recorded by the service itself.
const (
	ReasonProviderTimeout = "ProviderTimeout"
	ReasonLockMissing     = "LockNotFound"
)

// PaymentIntent tracks one collection or disbursement through an external provider.
// ProviderReference is the join key for webhooks and polling.
type PaymentIntent struct {
	ID                uuid.UUID         `json:"id"`
	OwnerID           string            `json:"owner_id"`
	Provider          ProviderName      `json:"provider"`
	Direction         IntentDirection   `json:"direction"`
	Purpose           IntentPurpose     `json:"purpose"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	Phone             string            `json:"phone,omitempty"`
	ProviderReference string            `json:"provider_reference,omitempty"`
	Status            IntentStatus      `json:"status"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	LastPolledAt      *time.Time        `json:"last_polled_at,omitempty"`
}

// IsTerminal returns true if the intent is COMPLETED or FAILED.
func (p *PaymentIntent) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// WalletID returns the wallet credited by a top-up, if any.
func (p *PaymentIntent) WalletID() (uuid.UUID, bool) {
	raw, ok := p.Metadata[MetaWalletID]
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// LockReference returns the fund lock reserved for a payout, if any.
func (p *PaymentIntent) LockReference() string {
	return p.Metadata[MetaLockReference]
}

// PayoutLockReference is the fund lock reference used for a payout intent.
func PayoutLockReference(intentID uuid.UUID) string {
	return "payout:" + intentID.String()
}
