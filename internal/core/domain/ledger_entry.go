package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryDirection is the side of a ledger entry.
type EntryDirection string

const (
	EntryDirectionDebit  EntryDirection = "DEBIT"
	EntryDirectionCredit EntryDirection = "CREDIT"
)

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "PENDING"
	EntryStatusCompleted EntryStatus = "COMPLETED"
	EntryStatusFailed    EntryStatus = "FAILED"
)

// LedgerEntry is an append-only record of one balance movement on a wallet.
// A wallet has at most one entry per (reference, direction).
type LedgerEntry struct {
	ID          uuid.UUID         `json:"id"`
	WalletID    uuid.UUID         `json:"wallet_id"`
	Direction   EntryDirection    `json:"direction"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      EntryStatus       `json:"status"`
	Reference   string            `json:"reference"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Signed returns the entry's effect on the wallet balance.
func (e *LedgerEntry) Signed() int64 {
	if e.Status != EntryStatusCompleted {
		return 0
	}
	if e.Direction == EntryDirectionDebit {
		return -e.Amount
	}
	return e.Amount
}
