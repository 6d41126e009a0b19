package ports

import "errors"

// Sentinel errors repositories return for constraint violations the services
// translate into business errors.
var (
	ErrDuplicateEntry = errors.New("ledger entry already exists for reference")
	ErrDuplicateLock  = errors.New("fund lock reference already in use")
)
