package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// EventType is the provider-neutral taxonomy webhooks and polls are mapped to.
type EventType string

const (
	EventChargeSucceeded   EventType = "ChargeSucceeded"
	EventChargeFailed      EventType = "ChargeFailed"
	EventTransferSucceeded EventType = "TransferSucceeded"
	EventTransferFailed    EventType = "TransferFailed"
	EventTransferReversed  EventType = "TransferReversed"
	EventRefundProcessed   EventType = "RefundProcessed"
)

// TargetStatus returns the intent status an event drives towards, or "" when
// the event does not move the state machine.
func (t EventType) TargetStatus() IntentStatus {
	switch t {
	case EventChargeSucceeded, EventTransferSucceeded:
		return IntentStatusCompleted
	case EventChargeFailed, EventTransferFailed, EventTransferReversed:
		return IntentStatusFailed
	default:
		return ""
	}
}

// ForDirection maps an event onto the intent direction it settles. Some
// providers report collections and payouts on one callback with one status
// vocabulary; the intent, not the callback, decides which side it was.
func (t EventType) ForDirection(dir IntentDirection) EventType {
	if dir == IntentDirectionCollect {
		switch t {
		case EventTransferSucceeded:
			return EventChargeSucceeded
		case EventTransferFailed, EventTransferReversed:
			return EventChargeFailed
		}
		return t
	}
	switch t {
	case EventChargeSucceeded:
		return EventTransferSucceeded
	case EventChargeFailed:
		return EventTransferFailed
	}
	return t
}

// NormalizedEvent is a verified provider notification in internal terms.
type NormalizedEvent struct {
	Provider          ProviderName `json:"provider"`
	Type              EventType    `json:"type"`
	ProviderReference string       `json:"provider_reference"`
	ProviderEventID   string       `json:"provider_event_id,omitempty"`
	RawType           string       `json:"raw_type"`
	Amount            int64        `json:"amount,omitempty"`
	Currency          string       `json:"currency,omitempty"`
	Reason            string       `json:"reason,omitempty"`
	Source            string       `json:"source"` // "webhook" or "poll"
	OccurredAt        time.Time    `json:"occurred_at"`
}

// EventFromPoll converts a poll answer into the event the webhook path would
// have produced. ok is false while the provider still reports the payment as
// pending.
func EventFromPoll(intent *PaymentIntent, res PollResult) (NormalizedEvent, bool) {
	ev := NormalizedEvent{
		Provider:          intent.Provider,
		ProviderReference: intent.ProviderReference,
		RawType:           string(res.Status),
		Amount:            res.Amount,
		Currency:          res.Currency,
		Reason:            res.Reason,
		Source:            "poll",
		OccurredAt:        time.Now().UTC(),
	}
	collect := intent.Direction == IntentDirectionCollect

	switch res.Status {
	case PollStatusSucceeded:
		ev.Type = EventTransferSucceeded
		if collect {
			ev.Type = EventChargeSucceeded
		}
	case PollStatusFailed:
		ev.Type = EventTransferFailed
		if collect {
			ev.Type = EventChargeFailed
		}
	case PollStatusReversed:
		ev.Type = EventTransferReversed
		if collect {
			ev.Type = EventChargeFailed
		}
	default:
		return NormalizedEvent{}, false
	}
	return ev, true
}

// AuditedEvent is one entry of the bounded webhook audit log.
type AuditedEvent struct {
	Provider          ProviderName    `json:"provider"`
	Type              EventType       `json:"type"`
	RawType           string          `json:"raw_type"`
	ProviderReference string          `json:"provider_reference"`
	Body              json.RawMessage `json:"body"`
	ReceivedAt        time.Time       `json:"received_at"`
}

// PaymentEvent is published for downstream consumers after an intent settles.
type PaymentEvent struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	IntentID   uuid.UUID     `json:"intent_id"`
	OwnerID    string        `json:"owner_id"`
	Provider   ProviderName  `json:"provider"`
	Purpose    IntentPurpose `json:"purpose"`
	Status     IntentStatus  `json:"status"`
	Amount     int64         `json:"amount"`
	Currency   string        `json:"currency"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NewPaymentEvent builds the settlement event for intent.
func NewPaymentEvent(intent *PaymentIntent) *PaymentEvent {
	kind := "intent.completed"
	if intent.Status == IntentStatusFailed {
		kind = "intent.failed"
	}
	return &PaymentEvent{
		ID:         ulid.Make().String(),
		Type:       kind,
		IntentID:   intent.ID,
		OwnerID:    intent.OwnerID,
		Provider:   intent.Provider,
		Purpose:    intent.Purpose,
		Status:     intent.Status,
		Amount:     intent.Amount,
		Currency:   intent.Currency,
		Reason:     intent.FailureReason,
		OccurredAt: time.Now().UTC(),
	}
}
