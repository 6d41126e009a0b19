package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Wallet holds an owner's funds in one currency. Balances are minor units.
// LockedBalance is the part of Balance reserved by fund locks.
type Wallet struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Currency      string    `json:"currency"`
	Balance       int64     `json:"balance"`
	LockedBalance int64     `json:"locked_balance"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Available returns the spendable part of the balance.
func (w *Wallet) Available() int64 {
	return w.Balance - w.LockedBalance
}

// CanCover reports whether amount can be taken from the available balance.
func (w *Wallet) CanCover(amount int64) bool {
	return amount > 0 && w.Available() >= amount
}

// Consistent reports whether 0 <= locked <= balance holds.
func (w *Wallet) Consistent() bool {
	return w.LockedBalance >= 0 && w.LockedBalance <= w.Balance
}

// CompareWalletIDs orders wallet IDs by their bytes, which is the order
// Postgres uses for uuid columns.
func CompareWalletIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}
