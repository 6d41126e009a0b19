package handler

import (
	"errors"
	"io"

	"payments-ledger/internal/adapter/provider"
	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"
	"payments-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	webhooks ports.WebhookService
	log      zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhooks ports.WebhookService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, log: log}
}

// Receive handles POST /webhooks/:provider. The raw body is handed over
// untouched for signature verification. Every authentic delivery is
// acknowledged once its side effects have been applied or have failed, so
// that providers do not retry deliveries we already recorded.
func (h *WebhookHandler) Receive(c *gin.Context) {
	name := domain.ProviderName(c.Param("provider"))

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	headers := c.Request.Header.Clone()
	if headers.Get(provider.CallbackTokenHeader) == "" {
		if tok := c.Query("token"); tok != "" {
			headers.Set(provider.CallbackTokenHeader, tok)
		}
	}

	res, err := h.webhooks.Ingest(c.Request.Context(), name, headers, body)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidSignature()) || errors.Is(err, apperror.ErrInvalidProvider()) {
			response.Error(c, err)
			return
		}
		h.log.Error().Err(err).Str("provider", string(name)).Msg("webhook processing failed, acknowledging")
	}

	if res != nil {
		c.Header("X-Webhook-Outcome", res.Outcome)
	}
	response.Ack(c)
}
