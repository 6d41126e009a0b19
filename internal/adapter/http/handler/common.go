package handler

import (
	"payments-ledger/internal/adapter/http/dto"
	"payments-ledger/internal/adapter/http/middleware"
	"payments-ledger/internal/core/domain"
	"payments-ledger/pkg/apperror"
	"payments-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// ownerID returns the authenticated owner, writing a 401 when absent.
func ownerID(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.CtxOwnerID)
	if id == "" {
		response.Error(c, apperror.ErrUnauthorized())
		return "", false
	}
	return id, true
}

// bindJSON binds and sanitizes a request body, writing a 400 on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

// writeIntent answers 202 while the provider still owes an outcome and 200
// once the intent is terminal (e.g. a synchronous decline).
func writeIntent(c *gin.Context, intent *domain.PaymentIntent) {
	body := dto.NewIntentResponse(intent, domain.MetaCheckoutURL)
	if intent.IsTerminal() {
		response.OK(c, body)
		return
	}
	response.Accepted(c, body)
}
