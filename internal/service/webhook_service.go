package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// WebhookServiceImpl implements ports.WebhookService: verify, audit, dedup,
// settle.
type WebhookServiceImpl struct {
	providers  ports.ProviderRegistry
	settlement *SettlementService
	audit      ports.EventAuditLog
	dedup      ports.DeliveryDedup
	dedupTTL   time.Duration
	maxRecent  int64
	metrics    ports.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewWebhookService creates a new WebhookServiceImpl.
func NewWebhookService(
	providers ports.ProviderRegistry,
	settlement *SettlementService,
	audit ports.EventAuditLog,
	dedup ports.DeliveryDedup,
	dedupTTL time.Duration,
	auditSize int64,
	metrics ports.Metrics,
	log zerolog.Logger,
) *WebhookServiceImpl {
	if dedupTTL <= 0 {
		dedupTTL = 72 * time.Hour
	}
	if auditSize <= 0 {
		auditSize = 500
	}
	return &WebhookServiceImpl{
		providers:  providers,
		settlement: settlement,
		audit:      audit,
		dedup:      dedup,
		dedupTTL:   dedupTTL,
		maxRecent:  auditSize,
		metrics:    metricsOrNoop(metrics),
		log:        log,
		now:        time.Now,
	}
}

// Ingest processes one delivery. Only a failed signature check is returned as
// apperror.ErrInvalidSignature; every other error means the delivery was
// authentic and should still be acknowledged.
func (s *WebhookServiceImpl) Ingest(ctx context.Context, provider domain.ProviderName, headers http.Header, body []byte) (res *ports.IngestResult, err error) {
	res = &ports.IngestResult{}
	defer func() { s.metrics.WebhookReceived(string(provider), res.Outcome) }()

	p, ok := s.providers.Get(provider)
	if !ok {
		res.Outcome = "unknown_provider"
		return res, apperror.ErrInvalidProvider()
	}

	if err := p.VerifySignature(headers, body); err != nil {
		res.Outcome = "invalid_signature"
		s.log.Warn().Err(err).Str("provider", string(provider)).Msg("webhook signature verification failed")
		if !errors.Is(err, apperror.ErrInvalidSignature()) {
			err = apperror.ErrInvalidSignature()
		}
		return res, err
	}

	// every authentic delivery is audited, including ones we cannot act on
	ev, err := p.Normalize(body)
	s.appendAudit(ctx, provider, ev, body)
	if err != nil {
		res.Outcome = OutcomeIgnored
		s.log.Info().Err(err).Str("provider", string(provider)).Msg("verified webhook not actionable")
		return res, nil
	}
	res.Event = ev

	if ev.ProviderEventID != "" {
		seen, err := s.dedup.Seen(ctx, provider, ev.ProviderEventID)
		if err != nil {
			s.log.Warn().Err(err).Str("provider", string(provider)).Msg("webhook dedup lookup failed")
		}
		if seen {
			res.Outcome = OutcomeDuplicate
			return res, nil
		}
	}

	outcome, err := s.settlement.Apply(ctx, ev)
	res.Outcome = outcome
	if err != nil {
		s.log.Error().Err(err).
			Str("provider", string(provider)).
			Str("provider_ref", ev.ProviderReference).
			Str("event", string(ev.Type)).
			Msg("webhook settlement failed")
		return res, err
	}

	if ev.ProviderEventID != "" {
		if _, err := s.dedup.MarkProcessed(ctx, provider, ev.ProviderEventID, s.dedupTTL); err != nil {
			s.log.Warn().Err(err).Str("provider", string(provider)).Msg("failed to record webhook delivery")
		}
	}
	return res, nil
}

// appendAudit records the verified delivery before any business processing.
// ev is nil when the body could not be normalized.
func (s *WebhookServiceImpl) appendAudit(ctx context.Context, provider domain.ProviderName, ev *domain.NormalizedEvent, body []byte) {
	raw := json.RawMessage(body)
	if !json.Valid(body) {
		raw, _ = json.Marshal(string(body))
	}
	entry := &domain.AuditedEvent{
		Provider:   provider,
		Body:       raw,
		ReceivedAt: s.now().UTC(),
	}
	if ev != nil {
		entry.Type = ev.Type
		entry.RawType = ev.RawType
		entry.ProviderReference = ev.ProviderReference
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("provider", string(provider)).Msg("failed to append webhook audit log")
	}
}

// RecentEvents returns up to limit audited deliveries, newest first.
func (s *WebhookServiceImpl) RecentEvents(ctx context.Context, limit int64) ([]domain.AuditedEvent, error) {
	if limit <= 0 || limit > s.maxRecent {
		limit = s.maxRecent
	}
	events, err := s.audit.Recent(ctx, limit)
	if err != nil {
		return nil, storageErr("read webhook audit log", err)
	}
	return events, nil
}
