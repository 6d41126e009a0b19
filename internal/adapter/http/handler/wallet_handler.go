package handler

import (
	"strconv"

	"payments-ledger/internal/adapter/http/dto"
	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"
	"payments-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles the owner's wallet endpoints.
type WalletHandler struct {
	ledger   ports.LedgerService
	payments ports.PaymentService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger ports.LedgerService, payments ports.PaymentService) *WalletHandler {
	return &WalletHandler{ledger: ledger, payments: payments}
}

// GetWallet handles GET /api/v1/wallets/:currency.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	w, err := h.ledger.GetOrCreateWallet(c.Request.Context(), owner, c.Param("currency"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWalletResponse(w))
}

// ListEntries handles GET /api/v1/wallets/:currency/entries.
func (h *WalletHandler) ListEntries(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ctx := c.Request.Context()
	w, err := h.ledger.GetOrCreateWallet(ctx, owner, c.Param("currency"))
	if err != nil {
		response.Error(c, err)
		return
	}

	offset := (page - 1) * pageSize
	entries, err := h.ledger.ListEntries(ctx, w.ID, pageSize, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.EntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, dto.NewEntryResponse(&entries[i]))
	}

	response.OK(c, dto.EntryListResponse{
		Entries: items,
		Limit:   pageSize,
		Offset:  offset,
	})
}

// Topup handles POST /api/v1/wallets/topup. The wallet is credited when the
// provider confirms the collection.
func (h *WalletHandler) Topup(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req dto.TopupRequest
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
		TopUp:    true,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	writeIntent(c, intent)
}

// Transfer handles POST /api/v1/wallets/transfer between two owners' wallets
// of the same currency. The recipient's wallet is created on first use.
func (h *WalletHandler) Transfer(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req dto.TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Amount <= 0 {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}
	if req.ToOwnerID == owner {
		response.Error(c, apperror.ErrInvalidTransfer())
		return
	}

	ctx := c.Request.Context()
	from, err := h.ledger.GetOrCreateWallet(ctx, owner, req.Currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := h.ledger.GetOrCreateWallet(ctx, req.ToOwnerID, req.Currency)
	if err != nil {
		response.Error(c, err)
		return
	}

	reference := req.Reference
	if reference == "" {
		reference = "transfer:" + uuid.New().String()
	}

	res, err := h.ledger.Transfer(ctx, ports.TransferRequest{
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Amount:       req.Amount,
		Reference:    reference,
		Description:  req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewTransferResponse(res))
}
