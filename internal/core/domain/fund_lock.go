package domain

import (
	"time"

	"github.com/google/uuid"
)

// FundLock reserves part of a wallet's balance until it is captured or released.
type FundLock struct {
	Reference string    `json:"reference"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the lock outlived its TTL at now.
func (l *FundLock) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
