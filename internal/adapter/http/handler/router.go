package handler

import (
	"net/http"

	"payments-ledger/internal/adapter/http/middleware"
	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Ledger          ports.LedgerService
	Locks           ports.LockService
	Payments        ports.PaymentService
	Webhooks        ports.WebhookService
	Idempotency     ports.IdempotencyGuard
	TokenSvc        ports.TokenService
	HashSvc         ports.HashService
	InternalKeyHash string
	DefaultCurrency string
	RateLimitStore  ports.RateLimitStore // nil = rate limiting disabled
	HealthCheckers  []ports.HealthChecker
	MetricsHandler  http.Handler // nil = /metrics not served
	Mode            string       // gin mode; defaults to release
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	mode := deps.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	r.Use(middleware.AuditLog(deps.Logger))

	// Health check (deep: storage, Redis, NATS)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}
	idem := func(scope domain.IdempotencyScope) gin.HandlerFunc {
		return middleware.Idempotency(deps.Idempotency, scope, deps.Logger)
	}

	// --- Provider callbacks (authenticated by signature) ---
	webhookHandler := NewWebhookHandler(deps.Webhooks, deps.Logger)
	r.POST("/webhooks/:provider", webhookHandler.Receive)

	// --- Client API (JWT) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	v1 := r.Group("/api/v1", middleware.RequireJSON(), jwtAuth)

	walletHandler := NewWalletHandler(deps.Ledger, deps.Payments)
	wallets := v1.Group("/wallets")
	{
		wallets.POST("/topup", rl("wallets_topup"), idem(domain.ScopeTopup), walletHandler.Topup)
		wallets.POST("/transfer", rl("wallets_transfer"), idem(domain.ScopeTransfer), walletHandler.Transfer)
		wallets.GET("/:currency", rl("wallets_read"), walletHandler.GetWallet)
		wallets.GET("/:currency/entries", rl("wallets_read"), walletHandler.ListEntries)
	}

	paymentHandler := NewPaymentHandler(deps.Payments)
	payments := v1.Group("/payments")
	{
		payments.POST("/collect", rl("payments"), idem(domain.ScopeCollection), paymentHandler.Collect)
		payments.GET("/status/:ref", rl("payments_status"), paymentHandler.GetStatus)
	}
	v1.POST("/payouts", rl("payouts"), idem(domain.ScopeDisbursement), paymentHandler.Payout)

	// --- Internal API (shared key) ---
	internalAuth := middleware.InternalAuth(deps.HashSvc, deps.InternalKeyHash, deps.Logger)
	internal := r.Group("/internal/v1", middleware.RequireJSON(), internalAuth)

	fundsHandler := NewFundsHandler(deps.Ledger, deps.Locks, deps.DefaultCurrency)
	internalHandler := NewInternalHandler(deps.Ledger, deps.Webhooks)
	{
		internal.POST("/funds/lock", fundsHandler.Lock)
		internal.POST("/funds/unlock", fundsHandler.Unlock)
		internal.GET("/wallets/:id/consistency", internalHandler.Consistency)
		internal.GET("/webhooks/events", internalHandler.WebhookEvents)
	}

	return r
}
