package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// providerRef mirrors the (provider, provider_reference) unique index.
type providerRef struct {
	provider domain.ProviderName
	ref      string
}

// PaymentIntentRepo implements ports.PaymentIntentRepository.
type PaymentIntentRepo struct {
	s *Store
}

func (r *PaymentIntentRepo) Create(ctx context.Context, p *domain.PaymentIntent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.intents[p.ID]; exists {
		return fmt.Errorf("insert payment intent: duplicate id %s", p.ID)
	}
	if p.ProviderReference != "" {
		key := providerRef{p.Provider, p.ProviderReference}
		if _, exists := r.s.intentByRef[key]; exists {
			return fmt.Errorf("insert payment intent: duplicate provider reference %s", p.ProviderReference)
		}
		r.s.intentByRef[key] = p.ID
	}
	r.s.intents[p.ID] = copyIntent(p)
	return nil
}

func (r *PaymentIntentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.intents[id]
	if !ok {
		return nil, nil
	}
	return copyIntent(p), nil
}

func (r *PaymentIntentRepo) GetByProviderReference(ctx context.Context, provider domain.ProviderName, ref string) (*domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if provider != "" {
		id, ok := r.s.intentByRef[providerRef{provider, ref}]
		if !ok {
			return nil, nil
		}
		return copyIntent(r.s.intents[id]), nil
	}

	var newest *domain.PaymentIntent
	for key, id := range r.s.intentByRef {
		if key.ref != ref {
			continue
		}
		if p := r.s.intents[id]; newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			newest = p
		}
	}
	if newest == nil {
		return nil, nil
	}
	return copyIntent(newest), nil
}

func (r *PaymentIntentRepo) MarkProcessing(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.intents[id]
	if !ok || p.Status != domain.IntentStatusPending {
		return false, nil
	}
	key := providerRef{p.Provider, ref}
	if other, taken := r.s.intentByRef[key]; taken && other != id {
		return false, fmt.Errorf("mark payment intent processing: provider reference %s already used", ref)
	}
	p.Status = domain.IntentStatusProcessing
	p.ProviderReference = ref
	p.UpdatedAt = r.s.now().UTC()
	r.s.intentByRef[key] = id
	return true, nil
}

func (r *PaymentIntentRepo) TransitionTerminal(ctx context.Context, tx pgx.Tx, id uuid.UUID, to domain.IntentStatus, reason string) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("status %s is not terminal", to)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.intents[id]
	if !ok || p.IsTerminal() {
		return false, nil
	}

	prev := *p
	record(tx, func() {
		p.Status, p.FailureReason = prev.Status, prev.FailureReason
		p.UpdatedAt, p.CompletedAt = prev.UpdatedAt, prev.CompletedAt
	})

	now := r.s.now().UTC()
	p.Status = to
	p.FailureReason = reason
	p.UpdatedAt = now
	p.CompletedAt = &now
	return true, nil
}

func (r *PaymentIntentRepo) ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var open []domain.PaymentIntent
	for _, p := range r.s.intents {
		if p.IsTerminal() || !p.UpdatedAt.Before(olderThan) {
			continue
		}
		if p.LastPolledAt != nil && !p.LastPolledAt.Before(olderThan) {
			continue
		}
		open = append(open, *copyIntent(p))
	}
	// never polled first, then least recently polled, then oldest update
	sort.Slice(open, func(i, j int) bool {
		a, b := open[i].LastPolledAt, open[j].LastPolledAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return open[i].UpdatedAt.Before(open[j].UpdatedAt)
	})
	if len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

func (r *PaymentIntentRepo) MarkPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.intents[id]; ok {
		at = at.UTC()
		p.LastPolledAt = &at
	}
	return nil
}

func copyIntent(p *domain.PaymentIntent) *domain.PaymentIntent {
	out := *p
	out.Metadata = cloneMeta(p.Metadata)
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		out.CompletedAt = &at
	}
	if p.LastPolledAt != nil {
		at := *p.LastPolledAt
		out.LastPolledAt = &at
	}
	return &out
}
