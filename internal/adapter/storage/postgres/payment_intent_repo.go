package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const intentColumns = `id, owner_id, provider, direction, purpose, amount, currency, phone,
	COALESCE(provider_reference, ''), status, failure_reason, metadata, created_at, updated_at, completed_at,
	last_polled_at`

// PaymentIntentRepo implements ports.PaymentIntentRepository.
type PaymentIntentRepo struct {
	pool Pool
}

// NewPaymentIntentRepo creates a new PaymentIntentRepo.
func NewPaymentIntentRepo(pool Pool) *PaymentIntentRepo {
	return &PaymentIntentRepo{pool: pool}
}

// Create inserts a PENDING intent before the provider is called.
func (r *PaymentIntentRepo) Create(ctx context.Context, p *domain.PaymentIntent) error {
	query := `INSERT INTO payment_intents (id, owner_id, provider, direction, purpose, amount, currency, phone,
		provider_reference, status, failure_reason, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, $14)`

	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.OwnerID, p.Provider, p.Direction, p.Purpose, p.Amount, p.Currency, p.Phone,
		p.ProviderReference, p.Status, p.FailureReason, metadata, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

// GetByID fetches an intent by UUID.
func (r *PaymentIntentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`

	p, err := scanIntent(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment intent by id: %w", err)
	}
	return p, nil
}

// GetByProviderReference fetches an intent by the provider's transaction ID.
// References are only unique per provider; an empty provider returns the
// newest match.
func (r *PaymentIntentRepo) GetByProviderReference(ctx context.Context, provider domain.ProviderName, providerRef string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents
		WHERE provider_reference = $1 AND ($2::text = '' OR provider = $2)
		ORDER BY created_at DESC LIMIT 1`

	p, err := scanIntent(r.pool.QueryRow(ctx, query, providerRef, string(provider)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment intent by provider reference: %w", err)
	}
	return p, nil
}

// MarkProcessing records the provider acknowledgement.
func (r *PaymentIntentRepo) MarkProcessing(ctx context.Context, id uuid.UUID, providerRef string) (bool, error) {
	query := `UPDATE payment_intents
		SET status = 'PROCESSING', provider_reference = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query, providerRef, id)
	if err != nil {
		return false, fmt.Errorf("mark payment intent processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionTerminal moves an open intent to COMPLETED or FAILED. The status
// predicate makes this a compare-and-set: of two racing callers exactly one
// sees RowsAffected() == 1.
func (r *PaymentIntentRepo) TransitionTerminal(ctx context.Context, tx pgx.Tx, id uuid.UUID, to domain.IntentStatus, reason string) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("status %s is not terminal", to)
	}

	query := `UPDATE payment_intents
		SET status = $1, failure_reason = $2, updated_at = NOW(), completed_at = NOW()
		WHERE id = $3 AND status IN ('PENDING', 'PROCESSING')`

	tag, err := tx.Exec(ctx, query, to, reason, id)
	if err != nil {
		return false, fmt.Errorf("transition payment intent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListOpen returns PENDING/PROCESSING intents neither touched nor polled since
// olderThan. Least recently polled come first so a full batch of intents that
// stay pending cannot starve the rest.
func (r *PaymentIntentRepo) ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents
		WHERE status IN ('PENDING', 'PROCESSING') AND updated_at < $1
		AND (last_polled_at IS NULL OR last_polled_at < $1)
		ORDER BY last_polled_at NULLS FIRST, updated_at LIMIT $2`

	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list open payment intents: %w", err)
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment intent: %w", err)
		}
		intents = append(intents, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment intents: %w", err)
	}
	return intents, nil
}

// MarkPolled stamps last_polled_at. updated_at is left alone; it tracks
// state changes only.
func (r *PaymentIntentRepo) MarkPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE payment_intents SET last_polled_at = $1 WHERE id = $2`

	if _, err := r.pool.Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark payment intent polled: %w", err)
	}
	return nil
}

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	p := &domain.PaymentIntent{}
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Provider, &p.Direction, &p.Purpose, &p.Amount, &p.Currency, &p.Phone,
		&p.ProviderReference, &p.Status, &p.FailureReason, &p.Metadata, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
		&p.LastPolledAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
