// Package server wires the domain services into the HTTP API and owns the
// process lifecycle.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/parcelpeer/payments/internal/admin"
	"github.com/parcelpeer/payments/internal/auth"
	"github.com/parcelpeer/payments/internal/config"
	"github.com/parcelpeer/payments/internal/disputes"
	"github.com/parcelpeer/payments/internal/health"
	"github.com/parcelpeer/payments/internal/logging"
	"github.com/parcelpeer/payments/internal/metrics"
	"github.com/parcelpeer/payments/internal/payments"
	"github.com/parcelpeer/payments/internal/ratelimit"
	"github.com/parcelpeer/payments/internal/security"
	"github.com/parcelpeer/payments/internal/subscription"
	"github.com/parcelpeer/payments/internal/traces"
	"github.com/parcelpeer/payments/internal/validation"
	"github.com/parcelpeer/payments/internal/wallet"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server holds the domain services, their storage, and the HTTP plumbing.
type Server struct {
	cfg           *config.Config
	wallet        *wallet.Wallet
	payments      *payments.Service
	disputes      *disputes.Service
	subscriptions *subscription.Service
	authMgr       *auth.Manager
	ledgerReader  admin.LedgerReader
	gateway       payments.Gateway
	checks        *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	stopTraces    func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Probe state for /health/live and /health/ready.
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option overrides a Server default.
type Option func(*Server)

// WithLogger replaces the default JSON logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom payment gateway (for testing)
func WithGateway(g payments.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New builds the full service: storage (Postgres when DATABASE_URL is set,
// in-memory otherwise), the wallet, payments, disputes, and subscription
// services, and the router.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	stopTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
		stopTraces = func(context.Context) error { return nil }
	}
	s.stopTraces = stopTraces

	var (
		walletStore  wallet.Store
		paymentStore payments.Store
		disputeStore disputes.Store
		subStore     subscription.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		ws := wallet.NewPostgresStore(db, cfg.Currency)
		if err := ws.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate wallet store", "error", err)
		}
		walletStore = ws
		s.ledgerReader = ws

		ps := payments.NewPostgresStore(db)
		if err := ps.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate payments store", "error", err)
		}
		paymentStore = ps

		ds := disputes.NewPostgresStore(db)
		if err := ds.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate disputes store", "error", err)
		}
		disputeStore = ds

		ss := subscription.NewPostgresStore(db)
		if err := ss.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate subscription store", "error", err)
		}
		subStore = ss

		authStore := auth.NewPostgresStore(db)
		if err := authStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate auth store", "error", err)
		}
		s.authMgr = auth.NewManager(authStore)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		ws := wallet.NewMemoryStore(cfg.Currency)
		walletStore = ws
		s.ledgerReader = ws
		paymentStore = payments.NewMemoryStore()
		disputeStore = disputes.NewMemoryStore()
		subStore = subscription.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
	}

	s.wallet = wallet.New(walletStore, cfg.Currency)
	s.logger.Info("wallet ledger enabled", "currency", cfg.Currency)

	// Tests inject a fake gateway through WithGateway.
	if s.gateway == nil {
		s.gateway = payments.NewPaystackClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.PaymentCallbackURL)
	}
	s.payments = payments.NewService(paymentStore, s.wallet, s.gateway, cfg.PaystackSecretKey, nil)
	s.logger.Info("payment reconciliation enabled", "gateway", cfg.PaystackBaseURL)

	s.disputes = disputes.NewService(disputeStore, s.wallet)
	s.subscriptions = subscription.NewService(subStore)

	s.checks = health.NewRegistry()
	s.checks.Register("database", func(ctx context.Context) health.Status {
		if s.db == nil {
			return health.Status{Name: "database", Healthy: true, Detail: "in-memory"}
		}
		if err := s.db.PingContext(ctx); err != nil {
			return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "database", Healthy: true}
	})

	s.logger.Info("API authentication enabled")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN blanks the password so the DSN is safe to log
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	// TODO: read allowed origins from config once the web client's domains settle.
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// RATE_LIMIT_RPS is per second; the limiter speaks per-minute.
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		limiterCfg.BurstSize = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Reuse an upstream request ID when the proxy supplies one.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)

	api := s.router.Group("/api/v1")
	// Validate :userId URL params on all API routes (no-op when param absent)
	api.Use(validation.UserIDParamMiddleware())

	paymentsHandler := payments.NewHandler(s.payments).WithMinAmount(s.cfg.MinTopup)
	walletHandler := wallet.NewHandler(s.wallet)
	authHandler := auth.NewHandler(s.authMgr)
	subHandler := subscription.NewHandler(s.subscriptions)

	// Public: the webhook authenticates itself with the gateway signature,
	// verify and plans leak nothing caller-specific.
	api.POST("/payments/webhook", paymentsHandler.Webhook)
	api.GET("/payments/verify/:reference", paymentsHandler.Verify)
	api.GET("/subscriptions/plans", subHandler.ListPlans)
	api.GET("/auth/info", authHandler.Info)

	// Everything below carries the optional auth middleware; per-route
	// guards decide what unauthenticated requests may do.
	protected := api.Group("")
	protected.Use(auth.Middleware(s.authMgr))
	{
		protected.POST("/payments/initialize", paymentsHandler.Initialize)
		protected.GET("/users/:userId/payments", auth.RequireOwnership(s.authMgr, "userId"), paymentsHandler.History)

		// Wallet reads expose balances and must belong to the caller
		protected.GET("/wallet/:userId/balance", auth.RequireOwnership(s.authMgr, "userId"), walletHandler.GetBalance)
		protected.GET("/wallet/:userId/transactions", auth.RequireOwnership(s.authMgr, "userId"), walletHandler.GetTransactions)
		protected.GET("/transactions/:id", auth.RequireAuth(s.authMgr), walletHandler.GetTransaction)

		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.GET("/auth/me", authHandler.GetCurrentUser)
	}

	// Admin surface, gated by the shared X-Admin-Secret header.
	adminHandler := admin.NewHandler().
		WithWallet(s.wallet).
		WithLedgerReader(s.ledgerReader).
		WithMaxAdjust(s.cfg.MaxAdjust)
	disputesHandler := disputes.NewHandler(s.disputes)

	adm := api.Group("/admin")
	adm.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	{
		adm.POST("/wallet/adjust", adminHandler.Adjust)
		adm.POST("/wallet/refund", adminHandler.Refund)
		adm.GET("/users/:userId/wallet", adminHandler.GetWallet)
		adm.GET("/reconcile", adminHandler.Reconcile)

		adm.POST("/disputes", disputesHandler.Open)
		adm.GET("/disputes", disputesHandler.List)
		adm.GET("/disputes/:id", disputesHandler.Get)
		adm.POST("/disputes/:id/review", disputesHandler.StartReview)
		adm.POST("/disputes/:id/resolve", disputesHandler.Resolve)
		adm.POST("/disputes/:id/close", disputesHandler.Close)

		adm.POST("/subscriptions/:id/cancel", subHandler.Cancel)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the /health body
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		switch {
		case st.Healthy && st.Detail != "":
			checks[st.Name] = st.Detail
		case st.Healthy:
			checks[st.Name] = "healthy"
		default:
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "ParcelPeer Payments",
		"description": "Wallet ledger and payment reconciliation for the ParcelPeer marketplace",
		"version":     "0.1.0",
		"currency":    s.cfg.Currency,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves until a signal arrives, the context ends, or the listener
// fails, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Export connection pool stats alongside request metrics
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown drains in-flight requests and releases background resources.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Readiness already flipped; give load balancers time to notice.
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush buffered spans before the process exits.
	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router exposes the gin engine to tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
