package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	pool Pool
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Save stores a response. The first stored response for a live key wins; an
// expired record is replaced.
func (r *IdempotencyRepo) Save(ctx context.Context, rec *domain.IdempotencyRecord) error {
	query := `INSERT INTO idempotency_records (key, scope, status_code, response, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE
		SET scope = EXCLUDED.scope, status_code = EXCLUDED.status_code, response = EXCLUDED.response,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= NOW()`

	_, err := r.pool.Exec(ctx, query, rec.Key, rec.Scope, rec.StatusCode, rec.Response, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

// Get fetches a live record by key.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	query := `SELECT key, scope, status_code, response, created_at, expires_at
		FROM idempotency_records WHERE key = $1 AND expires_at > NOW()`

	rec := &domain.IdempotencyRecord{}
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.Scope, &rec.StatusCode, &rec.Response, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}

// DeleteExpired purges records past their TTL.
func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
