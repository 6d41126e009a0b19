package handler

import (
	"strconv"

	"payments-ledger/internal/adapter/http/dto"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"
	"payments-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// InternalHandler serves operator reads: ledger consistency and the webhook audit log.
type InternalHandler struct {
	ledger   ports.LedgerService
	webhooks ports.WebhookService
}

// NewInternalHandler creates a new InternalHandler.
func NewInternalHandler(ledger ports.LedgerService, webhooks ports.WebhookService) *InternalHandler {
	return &InternalHandler{ledger: ledger, webhooks: webhooks}
}

// WebhookEvents handles GET /internal/v1/webhooks/events?limit=.
func (h *InternalHandler) WebhookEvents(c *gin.Context) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil {
		response.Error(c, apperror.Validation("limit must be an integer"))
		return
	}

	events, err := h.webhooks.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.WebhookEventsResponse{Events: events, Count: len(events)})
}

// Consistency handles GET /internal/v1/wallets/:id/consistency.
func (h *InternalHandler) Consistency(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("wallet id must be a UUID"))
		return
	}

	report, err := h.ledger.CheckConsistency(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, report)
}
