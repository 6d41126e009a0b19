package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"
	"payments-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	HeaderIdempotencyKey    = "Idempotency-Key"
	HeaderIdempotentReplay  = "Idempotent-Replayed"
	maxIdempotencyKeyLength = 255
)

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are namespaced by scope and owner. Requests without the header run
// normally. A 5xx response is not stored, so the client may retry it.
func Idempotency(guard ports.IdempotencyGuard, scope domain.IdempotencyScope, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if clientKey == "" {
			c.Next()
			return
		}
		if len(clientKey) > maxIdempotencyKeyLength {
			response.Error(c, apperror.Validation("Idempotency-Key must be at most 255 characters"))
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		key := domain.BuildIdempotencyKey(scope, c.GetString(CtxOwnerID), clientKey)

		rec, token, err := guard.CheckOrReserve(ctx, key, scope)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if rec != nil {
			c.Header(HeaderIdempotentReplay, "true")
			c.Data(rec.StatusCode, gin.MIMEJSON+"; charset=utf-8", rec.Response)
			c.Abort()
			return
		}

		w := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = w

		// outlive client disconnects so the claim never leaks
		bg := context.WithoutCancel(ctx)
		stored := false
		defer func() {
			if !stored {
				guard.Abandon(bg, key, token)
			}
		}()

		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		if err := guard.Store(bg, key, token, scope, status, w.body.Bytes()); err != nil {
			log.Error().Err(err).Str("scope", string(scope)).Msg("failed to store idempotent response")
			return
		}
		stored = true
	}
}

// bodyRecorder tees the response body so it can be stored for replay.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
