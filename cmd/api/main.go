package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payments-ledger/config"
	"payments-ledger/internal/adapter/events"
	httpHandler "payments-ledger/internal/adapter/http/handler"
	"payments-ledger/internal/adapter/metrics"
	"payments-ledger/internal/adapter/provider"
	"payments-ledger/internal/adapter/storage/memory"
	pgStorage "payments-ledger/internal/adapter/storage/postgres"
	redisStorage "payments-ledger/internal/adapter/storage/redis"
	"payments-ledger/internal/core/ports"
	"payments-ledger/internal/service"
	"payments-ledger/pkg/logger"

	"github.com/rs/zerolog"
)

// storage groups the repositories selected by storage.driver.
type storage struct {
	wallets     ports.WalletRepository
	entries     ports.LedgerEntryRepository
	intents     ports.PaymentIntentRepository
	locks       ports.FundLockRepository
	idempotency ports.IdempotencyRepository
	transactor  ports.DBTransactor
	health      ports.HealthChecker
	close       func()
}

// caches groups the shared key-value stores.
type caches struct {
	idempotency ports.IdempotencyCache
	dedup       ports.DeliveryDedup
	audit       ports.EventAuditLog
	rateLimit   ports.RateLimitStore
	health      ports.HealthChecker
	close       func()
}

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("WLT_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting wallet ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise storage")
	}
	defer store.close()

	kv, err := openCaches(ctx, cfg, log)
	if err != nil {
		store.close()
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer kv.close()

	healthCheckers := []ports.HealthChecker{store.health}
	if kv.health != nil {
		healthCheckers = append(healthCheckers, kv.health)
	}

	// Settlement events
	var publisher ports.EventPublisher = events.NewLogPublisher(log)
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		if err := nc.EnsureStream(ctx, cfg.NATS.Stream, cfg.NATS.SubjectPrefix); err != nil {
			log.Fatal().Err(err).Msg("Failed to provision JetStream stream")
		}
		publisher = events.NewPublisher(nc.JetStream(), cfg.NATS.SubjectPrefix, log)
		healthCheckers = append(healthCheckers, nc)
	}

	var (
		prom           *metrics.Prometheus
		appMetrics     ports.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		prom = metrics.New(cfg.Metrics.Namespace)
		appMetrics = prom
		metricsHandler = prom.Handler()
	}

	registry, err := provider.NewRegistry(cfg.Providers, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise payment providers")
	}

	// Core services
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	ledgerSvc := service.NewLedgerService(store.wallets, store.entries, store.transactor, appMetrics, log)
	lockSvc := service.NewLockService(ledgerSvc, store.locks, store.transactor, cfg.Ledger.LockTTL, appMetrics, log)
	settlementSvc := service.NewSettlementService(store.intents, ledgerSvc, lockSvc, store.transactor, publisher, appMetrics, log)
	paymentSvc := service.NewPaymentService(store.intents, registry, ledgerSvc, lockSvc, settlementSvc, cfg.Ledger.PayoutLockTTL, log)
	webhookSvc := service.NewWebhookService(registry, settlementSvc, kv.audit, kv.dedup, cfg.Webhook.DedupTTL, cfg.Webhook.AuditLogSize, appMetrics, log)
	idempotencySvc := service.NewIdempotencyService(kv.idempotency, store.idempotency, cfg.Idempotency, appMetrics, log)

	if cfg.Internal.APIKeyHash == "" {
		log.Warn().Msg("internal.api_key_hash is empty, the internal API will reject every request")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Ledger:          ledgerSvc,
		Locks:           lockSvc,
		Payments:        paymentSvc,
		Webhooks:        webhookSvc,
		Idempotency:     idempotencySvc,
		TokenSvc:        tokenSvc,
		HashSvc:         hashSvc,
		InternalKeyHash: cfg.Internal.APIKeyHash,
		DefaultCurrency: cfg.Ledger.DefaultCurrency,
		RateLimitStore:  kv.rateLimit,
		HealthCheckers:  healthCheckers,
		MetricsHandler:  metricsHandler,
		Mode:            cfg.Server.Mode,
		Logger:          log,
	})

	// Reconciliation poller and janitor
	pollerDone := make(chan struct{})
	if cfg.Poller.Enabled {
		poller := service.NewReconciliationPoller(store.intents, registry, settlementSvc, lockSvc, idempotencySvc, cfg.Poller, appMetrics, log)
		go func() {
			defer close(pollerDone)
			poller.Run(ctx)
		}()
	} else {
		close(pollerDone)
	}

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-pollerDone

	log.Info().Msg("Server exited")
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Msg("memory storage selected, balances are lost on restart")
		m := memory.New()
		return &storage{
			wallets:     m.Wallets(),
			entries:     m.Entries(),
			intents:     m.Intents(),
			locks:       m.Locks(),
			idempotency: m.Idempotency(),
			transactor:  m,
			health:      m,
			close:       func() {},
		}, nil

	case "postgres", "":
		if cfg.Database.AutoMigrate {
			if err := pgStorage.Migrate(cfg.Database, log); err != nil {
				return nil, err
			}
		}
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		return &storage{
			wallets:     pgStorage.NewWalletRepo(pool),
			entries:     pgStorage.NewLedgerEntryRepo(pool),
			intents:     pgStorage.NewPaymentIntentRepo(pool),
			locks:       pgStorage.NewFundLockRepo(pool),
			idempotency: pgStorage.NewIdempotencyRepo(pool),
			transactor:  pgStorage.NewTransactor(pool),
			health:      pgStorage.NewHealthCheck(pool),
			close:       pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// openCaches connects to Redis. The memory driver keeps the caches
// process-local too, so a single binary runs with no backing services.
func openCaches(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*caches, error) {
	if cfg.Storage.Driver == "memory" {
		return &caches{
			idempotency: memory.NewIdempotencyCache(time.Now),
			dedup:       memory.NewDeliveryDedup(time.Now),
			audit:       memory.NewEventAuditLog(int(cfg.Webhook.AuditLogSize)),
			rateLimit:   memory.NewRateLimitStore(time.Now),
			close:       func() {},
		}, nil
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	return &caches{
		idempotency: redisStorage.NewIdempotencyCache(rdb),
		dedup:       redisStorage.NewDeliveryDedup(rdb),
		audit:       redisStorage.NewEventAuditLog(rdb, cfg.Webhook.AuditLogSize),
		rateLimit:   redisStorage.NewRateLimitStore(rdb),
		health:      redisStorage.NewHealthCheck(rdb),
		close:       func() { _ = rdb.Close() },
	}, nil
}
