package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"realm-wallet/config"
	httpHandler "realm-wallet/internal/adapter/http/handler"
	"realm-wallet/internal/adapter/payment/square"
	memStorage "realm-wallet/internal/adapter/storage/memory"
	pgStorage "realm-wallet/internal/adapter/storage/postgres"
	redisStorage "realm-wallet/internal/adapter/storage/redis"
	"realm-wallet/internal/core/ports"
	"realm-wallet/internal/service"
	"realm-wallet/pkg/logger"
	"realm-wallet/pkg/metrics"
	"realm-wallet/pkg/migrate"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "RLW_JWT_SECRET must be set")
		os.Exit(1)
	}

	log := logger.New("realm-wallet", cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting Realm Wallet")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	location, err := cfg.Ledger.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid ledger timezone")
	}

	// Storage
	var (
		records  ports.RecordStore
		accounts ports.AccountRepository
		audits   ports.AuditRepository
		checkers []ports.HealthChecker
		closers  []func() error
	)
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Database.AutoMigrate {
			if err := migrate.AutoRun(ctx, cfg.Database.DSN(), log); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply migrations")
			}
		}
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		records = pgStorage.NewRecordStore(pool)
		accounts = pgStorage.NewAccountRepo(pool)
		audits = pgStorage.NewAuditRepo(pool)
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
		log.Info().Msg("PostgreSQL connected")
	case "memory":
		records = memStorage.NewRecordStore()
		accounts = memStorage.NewAccountRepo()
		audits = memStorage.NewAuditRepo()
		log.Warn().Msg("Using in-memory storage; wallets are lost on restart")
	default:
		log.Fatal().Str("driver", cfg.Storage.Driver).Msg("Unknown storage driver")
	}

	// Redis backs nonces, the outcome cache, notifications, rate limits and the change feed.
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	closers = append(closers, rdb.Close)
	checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	log.Info().Msg("Redis connected")

	nonceStore := redisStorage.NewNonceStore(rdb)
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	notifier := redisStorage.NewNotificationFeed(rdb, cfg.Notifications.Limit, cfg.Notifications.TTL)
	changeFeed := redisStorage.NewChangeFeed(rdb, cfg.Ledger.ChangeChannel, log)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		reg = registry
	}
	ledgerMetrics := metrics.NewLedgerMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	// Core services
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	revocation := service.NewRevocationList(nonceStore, cfg.JWT.Expiry)
	identities := service.NewIdentityService(accounts, tokenSvc, revocation, log)

	catalog, err := service.NewCatalog(cfg.Catalog.Items)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid catalog")
	}

	relay, err := square.NewRelay(cfg.Payment, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize payment relay")
	}
	if !cfg.Payment.Configured() {
		log.Warn().Msg("Payment credentials missing; adding funds is disabled")
	}

	sessions := service.NewSessionRegistry(service.SessionRegistryDeps{
		Store:        records,
		Identities:   identities,
		Notifier:     notifier,
		Feed:         changeFeed,
		Metrics:      ledgerMetrics,
		Location:     location,
		StoreTimeout: cfg.Ledger.StoreTimeout,
		IdleTTL:      cfg.Ledger.SessionIdleTTL,
		Log:          log,
	})
	sessions.Start(ctx)
	go sessions.RunSweeper(ctx, cfg.Ledger.SweepInterval)

	authSvc := service.NewAuthService(accounts, records, hashSvc, tokenSvc, sessions, revocation, notifier, log)
	fundingSvc := service.NewFundingService(
		sessions,
		relay,
		nonceStore,
		idempotencyCache,
		notifier,
		ledgerMetrics,
		cfg.Funding.IdempotencyTTL,
		cfg.Funding.NonceTTL,
		log,
	)
	auditSvc := service.NewAuditService(audits, log)

	deps := httpHandler.RouterDeps{
		AuthSvc:           authSvc,
		Identities:        identities,
		Sessions:          sessions,
		Catalog:           catalog,
		Funding:           fundingSvc,
		Relay:             relay,
		Notifier:          notifier,
		NotificationLimit: cfg.Notifications.Limit,
		RateLimitStore:    rateLimitStore,
		HealthCheckers:    checkers,
		AuditSvc:          auditSvc,
		HTTPMetrics:       httpMetrics,
		Logger:            log,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsGatherer = registry
		deps.MetricsPath = cfg.Metrics.Path
	}
	router := httpHandler.SetupRouter(deps)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	shutdownErr = multierr.Append(shutdownErr, srv.Shutdown(shutdownCtx))
	shutdownErr = multierr.Append(shutdownErr, sessions.Close())
	auditSvc.Wait()
	for i := len(closers) - 1; i >= 0; i-- {
		shutdownErr = multierr.Append(shutdownErr, closers[i]())
	}
	if shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("Unclean shutdown")
	}

	log.Info().Msg("Server exited")
}
