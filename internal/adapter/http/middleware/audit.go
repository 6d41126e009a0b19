package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AuditLog writes one structured audit line per successful money-moving request.
// The route template, not the raw path, selects the action.
func AuditLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 || c.Request.Method != http.MethodPost {
			return
		}

		action, resource := mapRouteToAction(c.FullPath())
		if action == "" {
			return
		}

		log.Info().
			Str("audit_action", action).
			Str("resource", resource).
			Str("owner_id", c.GetString(CtxOwnerID)).
			Bool("internal", c.GetBool(CtxInternal)).
			Str("request_id", c.GetString(CtxRequestID)).
			Str("idempotency_key", c.GetHeader(HeaderIdempotencyKey)).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Msg("audit")
	}
}

func mapRouteToAction(route string) (action, resource string) {
	switch route {
	case "/api/v1/wallets/topup":
		return "wallet.topup", "payment_intent"
	case "/api/v1/wallets/transfer":
		return "wallet.transfer", "ledger_entry"
	case "/api/v1/payments/collect":
		return "payment.collect", "payment_intent"
	case "/api/v1/payouts":
		return "payout.create", "payment_intent"
	case "/internal/v1/funds/lock":
		return "funds.lock", "fund_lock"
	case "/internal/v1/funds/unlock":
		return "funds.unlock", "fund_lock"
	}
	return "", ""
}
