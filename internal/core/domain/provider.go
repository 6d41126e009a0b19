package domain

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// ProviderName identifies a payment provider adapter.
type ProviderName string

const (
	ProviderPaystack    ProviderName = "paystack"
	ProviderFlutterwave ProviderName = "flutterwave"
	ProviderStripe      ProviderName = "stripe"
	ProviderMTNMoMo     ProviderName = "mtn_momo"
	ProviderAirtel      ProviderName = "airtel"
	ProviderMPesa       ProviderName = "mpesa"
)

// ProviderProfile is what a provider accepts. Requests outside it are rejected
// before any external call.
type ProviderProfile struct {
	Name       ProviderName
	Countries  []string
	Currencies []string
	Phone      *regexp.Regexp // nil when the provider is not phone-based
	MinAmount  int64
	MaxAmount  int64

	CanDisburse bool
	// NeedsPolling marks providers whose callbacks cannot be relied on.
	NeedsPolling bool
	// Timeout bounds a single Initiate call.
	Timeout time.Duration
}

// SupportsCurrency reports whether currency is settled by the provider.
func (p ProviderProfile) SupportsCurrency(currency string) bool {
	return slices.Contains(p.Currencies, strings.ToUpper(currency))
}

// AmountInRange reports whether amount is within [MinAmount, MaxAmount].
// A zero MaxAmount means no upper bound.
func (p ProviderProfile) AmountInRange(amount int64) bool {
	if amount < p.MinAmount || amount <= 0 {
		return false
	}
	return p.MaxAmount == 0 || amount <= p.MaxAmount
}

// PhoneAllowed reports whether phone matches the provider's number format.
func (p ProviderProfile) PhoneAllowed(phone string) bool {
	if p.Phone == nil {
		return true
	}
	return p.Phone.MatchString(phone)
}

// InitiateRequest is the provider-neutral input of a collection or disbursement.
type InitiateRequest struct {
	Reference   string // our intent ID, echoed back by the provider
	Direction   IntentDirection
	Phone       string
	Email       string
	Amount      int64
	Currency    string
	Description string
}

// InitiateResult is the provider's synchronous answer. Accepted only means the
// request was taken for asynchronous processing.
type InitiateResult struct {
	Accepted              bool
	ProviderTransactionID string
	Message               string
	CheckoutURL           string
}

// PollStatus is a provider-reported transaction state.
type PollStatus string

const (
	PollStatusPending   PollStatus = "PENDING"
	PollStatusSucceeded PollStatus = "SUCCEEDED"
	PollStatusFailed    PollStatus = "FAILED"
	PollStatusReversed  PollStatus = "REVERSED"
)

// PollResult is the read-only answer to a status query.
type PollResult struct {
	Status            PollStatus
	Reason            string
	ProviderReference string
	Amount            int64
	Currency          string
}
