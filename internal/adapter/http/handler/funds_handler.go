package handler

import (
	"time"

	"payments-ledger/internal/adapter/http/dto"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"
	"payments-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// FundsHandler exposes fund locks to internal services (e.g. ride escrow).
type FundsHandler struct {
	ledger          ports.LedgerService
	locks           ports.LockService
	defaultCurrency string
}

// NewFundsHandler creates a new FundsHandler. defaultCurrency is used when a
// lock request names none.
func NewFundsHandler(ledger ports.LedgerService, locks ports.LockService, defaultCurrency string) *FundsHandler {
	return &FundsHandler{ledger: ledger, locks: locks, defaultCurrency: defaultCurrency}
}

// Lock handles POST /internal/v1/funds/lock.
func (h *FundsHandler) Lock(c *gin.Context) {
	var req dto.LockFundsRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Amount <= 0 {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = h.defaultCurrency
	}

	ctx := c.Request.Context()
	w, err := h.ledger.GetOrCreateWallet(ctx, req.OwnerID, currency)
	if err != nil {
		response.Error(c, err)
		return
	}

	lock, err := h.locks.Lock(ctx, ports.LockRequest{
		WalletID:  w.ID,
		Amount:    req.Amount,
		Reference: req.Reference,
		Reason:    req.Reason,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewLockResponse(lock))
}

// Unlock handles POST /internal/v1/funds/unlock. capture=true debits the
// locked amount, otherwise the reservation is released.
func (h *FundsHandler) Unlock(c *gin.Context) {
	var req dto.UnlockFundsRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	if !req.Capture {
		if err := h.locks.Release(ctx, req.Reference); err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, dto.UnlockResponse{Reference: req.Reference})
		return
	}

	entry, err := h.locks.Capture(ctx, req.Reference)
	if err != nil {
		response.Error(c, err)
		return
	}
	e := dto.NewEntryResponse(entry)
	response.OK(c, dto.UnlockResponse{Reference: req.Reference, Captured: true, Entry: &e})
}
