package handler

import (
	"strconv"
	"strings"

	"payments-ledger/internal/adapter/http/dto"
	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"
	"payments-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler handles provider-backed collections and payouts.
type PaymentHandler struct {
	payments ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Collect handles POST /api/v1/payments/collect. The charge does not touch a wallet.
func (h *PaymentHandler) Collect(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req dto.CollectRequest
	if !bindJSON(c, &req) {
		return
	}

	intent, err := h.payments.Collect(c.Request.Context(), ports.CollectRequest{
		OwnerID:  owner,
		Provider: domain.ProviderName(req.Provider),
		Phone:    req.Phone,
		Email:    req.Email,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	writeIntent(c, intent)
}

// Payout handles POST /api/v1/payouts. Funds stay locked until the provider
// reports the outcome.
func (h *PaymentHandler) Payout(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req dto.PayoutRequest
	if !bindJSON(c, &req) {
		return
	}

	intent, err := h.payments.Disburse(c.Request.Context(), ports.DisburseRequest{
		OwnerID:     owner,
		Provider:    domain.ProviderName(req.Provider),
		Phone:       req.Phone,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	writeIntent(c, intent)
}

// GetStatus handles GET /api/v1/payments/status/:ref. With poll=true the
// provider is asked for a fresh answer before responding. ?provider= narrows
// the lookup when two providers issued the same reference.
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	ref := strings.TrimSpace(c.Param("ref"))
	if ref == "" {
		response.Error(c, apperror.Validation("provider reference is required"))
		return
	}
	poll, err := strconv.ParseBool(c.DefaultQuery("poll", "false"))
	if err != nil {
		response.Error(c, apperror.Validation("poll must be a boolean"))
		return
	}

	provider := domain.ProviderName(strings.ToLower(strings.TrimSpace(c.Query("provider"))))

	intent, err := h.payments.GetStatus(c.Request.Context(), provider, ref, poll)
	if err != nil {
		response.Error(c, err)
		return
	}
	// other owners' intents are reported as absent
	if intent.OwnerID != owner {
		response.Error(c, apperror.ErrNotFound("Payment intent"))
		return
	}

	response.OK(c, dto.NewIntentResponse(intent, domain.MetaCheckoutURL))
}
