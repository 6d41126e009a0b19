package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// FundLockRepo implements ports.FundLockRepository.
type FundLockRepo struct {
	s *Store
}

func (r *FundLockRepo) Create(ctx context.Context, tx pgx.Tx, l *domain.FundLock) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.locks[l.Reference]; exists {
		return ports.ErrDuplicateLock
	}
	stored := *l
	r.s.locks[l.Reference] = &stored
	record(tx, func() { delete(r.s.locks, l.Reference) })
	return nil
}

func (r *FundLockRepo) Get(ctx context.Context, reference string) (*domain.FundLock, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.locks[reference]
	if !ok {
		return nil, nil
	}
	out := *l
	return &out, nil
}

func (r *FundLockRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.FundLock, error) {
	return r.Get(ctx, reference)
}

func (r *FundLockRepo) Delete(ctx context.Context, tx pgx.Tx, reference string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.locks[reference]
	if !ok {
		return fmt.Errorf("fund lock not found: %s", reference)
	}
	delete(r.s.locks, reference)
	record(tx, func() { r.s.locks[reference] = l })
	return nil
}

func (r *FundLockRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.FundLock, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var expired []domain.FundLock
	for _, l := range r.s.locks {
		if l.IsExpired(now) {
			expired = append(expired, *l)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}
