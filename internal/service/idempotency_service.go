package service

import (
	"context"
	"fmt"
	"time"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IdempotencyService implements ports.IdempotencyGuard with Redis as the fast
// path and Postgres as the durable copy.
type IdempotencyService struct {
	cache    ports.IdempotencyCache
	repo     ports.IdempotencyRepository
	ttls     map[domain.IdempotencyScope]time.Duration
	claimTTL time.Duration
	metrics  ports.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// NewIdempotencyService creates a new IdempotencyService.
func NewIdempotencyService(
	cache ports.IdempotencyCache,
	repo ports.IdempotencyRepository,
	cfg config.IdempotencyConfig,
	metrics ports.Metrics,
	log zerolog.Logger,
) *IdempotencyService {
	claimTTL := cfg.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	return &IdempotencyService{
		cache: cache,
		repo:  repo,
		ttls: map[domain.IdempotencyScope]time.Duration{
			domain.ScopeTopup:        cfg.TopupTTL,
			domain.ScopeCollection:   cfg.CollectionTTL,
			domain.ScopeTransfer:     cfg.TransferTTL,
			domain.ScopeDisbursement: cfg.DisbursementTTL,
		},
		claimTTL: claimTTL,
		metrics:  metricsOrNoop(metrics),
		log:      log,
		now:      time.Now,
	}
}

// TTL returns how long responses of scope are replayed.
func (s *IdempotencyService) TTL(scope domain.IdempotencyScope) time.Duration {
	if ttl := s.ttls[scope]; ttl > 0 {
		return ttl
	}
	return 24 * time.Hour
}

// CheckOrReserve returns the stored response for key, or claims key for the
// caller and returns the claim token. Claims are taken with SET NX so that
// two concurrent requests with the same key cannot both execute.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, key string, scope domain.IdempotencyScope) (*domain.IdempotencyRecord, string, error) {
	rec, err := s.lookup(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if rec != nil {
		s.metrics.IdempotencyReplay(string(scope))
		return rec, "", nil
	}

	token := uuid.NewString()
	claimed, err := s.cache.Claim(ctx, key, token, s.claimTTL)
	if err != nil {
		// without the claim two retries could both reach the provider
		return nil, "", apperror.ErrPersistence(fmt.Errorf("claim idempotency key: %w", err))
	}
	if !claimed {
		return nil, "", apperror.ErrDuplicateRequest()
	}

	// A request holding the previous claim may have stored its response and
	// released between our lookup and our claim.
	rec, err = s.lookup(ctx, key)
	if err != nil {
		s.Abandon(ctx, key, token)
		return nil, "", err
	}
	if rec != nil {
		s.Abandon(ctx, key, token)
		s.metrics.IdempotencyReplay(string(scope))
		return rec, "", nil
	}
	return nil, token, nil
}

// lookup reads Redis first and falls back to the durable copy, backfilling
// the cache on a DB hit.
func (s *IdempotencyService) lookup(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	// Layer 1: Redis
	rec, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
	}
	if rec != nil {
		return rec, nil
	}

	// Layer 2: DB
	rec, err = s.repo.Get(ctx, key)
	if err != nil {
		return nil, storageErr("db idempotency check", err)
	}
	if rec != nil {
		if remaining := rec.ExpiresAt.Sub(s.now()); remaining > 0 {
			if err := s.cache.Set(ctx, rec, remaining); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("failed to backfill idempotency cache")
			}
		}
	}
	return rec, nil
}

// Store saves the response under key and releases the claim held under token.
func (s *IdempotencyService) Store(ctx context.Context, key, token string, scope domain.IdempotencyScope, statusCode int, body []byte) error {
	now := s.now().UTC()
	ttl := s.TTL(scope)
	rec := &domain.IdempotencyRecord{
		Key:        key,
		Scope:      scope,
		StatusCode: statusCode,
		Response:   body,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := s.repo.Save(ctx, rec); err != nil {
		s.Abandon(ctx, key, token)
		return storageErr("save idempotency record", err)
	}
	if err := s.cache.Set(ctx, rec, ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency record in redis")
	}
	s.Abandon(ctx, key, token)
	return nil
}

// Abandon drops the claim so that the client may retry. A claim that expired
// and was taken by another request is left alone.
func (s *IdempotencyService) Abandon(ctx context.Context, key, token string) {
	if err := s.cache.ReleaseClaim(ctx, key, token); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to release idempotency claim")
	}
}

// Purge deletes expired durable records.
func (s *IdempotencyService) Purge(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, storageErr("purge idempotency records", err)
	}
	return n, nil
}
