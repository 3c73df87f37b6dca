package handler

import (
	"realm-wallet/internal/adapter/http/middleware"
	redisStore "realm-wallet/internal/adapter/storage/redis"
	"realm-wallet/internal/core/ports"
	"realm-wallet/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies; every payload here is a small JSON object.
const maxBodyBytes = 64 << 10

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc           ports.AuthService
	Identities        ports.IdentityProvider
	Sessions          ports.SessionProvider
	Catalog           ports.CatalogService
	Funding           ports.FundingService
	Relay             ports.PaymentRelay
	Notifier          ports.Notifier
	NotificationLimit int64
	RateLimitStore    *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers    []ports.HealthChecker
	AuditSvc          ports.AuditService   // nil = audit logging disabled
	HTTPMetrics       *metrics.HTTPMetrics // nil = request metrics disabled
	MetricsGatherer   prometheus.Gatherer  // nil = no scrape endpoint
	MetricsPath       string
	Logger            zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics(deps.HTTPMetrics))
	r.Use(middleware.MaxBodySize(maxBodyBytes))

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	if deps.MetricsGatherer != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.HandlerFor(deps.MetricsGatherer, promhttp.HandlerOpts{})))
	}

	rules := middleware.DefaultRateLimitRules()

	// rl returns the limiter for group, or a no-op when limiting is disabled.
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

	v1 := r.Group("/api/v1")
	jwtAuth := middleware.JWTAuth(deps.Identities, deps.Logger)

	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
		auth.POST("/logout", jwtAuth, authHandler.Logout)
	}

	catalogHandler := NewCatalogHandler(deps.Catalog)
	v1.GET("/catalog", catalogHandler.ListItems)

	walletHandler := NewWalletHandler(deps.Sessions, deps.Catalog, deps.Funding, deps.Notifier, deps.NotificationLimit)
	wallet := v1.Group("/wallet", jwtAuth)
	{
		wallet.GET("", rl("wallet_read"), walletHandler.GetWallet)
		wallet.GET("/transactions", rl("wallet_read"), walletHandler.ListTransactions)
		wallet.GET("/notifications", rl("wallet_read"), walletHandler.ListNotifications)
		wallet.POST("/purchases", rl("wallet_write"), walletHandler.Purchase)
		wallet.POST("/funds", rl("wallet_funds"), walletHandler.AddFunds)
		wallet.PUT("/profile", rl("wallet_write"), walletHandler.UpdateProfile)
	}

	paymentHandler := NewPaymentHandler(deps.Relay)
	payments := v1.Group("/payments", jwtAuth)
	{
		payments.POST("/client-token", rl("client_token"), paymentHandler.ClientToken)
	}

	return r
}
