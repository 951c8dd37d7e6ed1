// Package server assembles the payment gateway: storage, the gateway
// protocol, notifiers, and the HTTP surface.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/paygate/internal/config"
	"github.com/mbd888/paygate/internal/health"
	"github.com/mbd888/paygate/internal/logging"
	"github.com/mbd888/paygate/internal/metrics"
	"github.com/mbd888/paygate/internal/payments"
	"github.com/mbd888/paygate/internal/ratelimit"
	"github.com/mbd888/paygate/internal/realtime"
	"github.com/mbd888/paygate/internal/traces"
	"github.com/mbd888/paygate/internal/vnpay"
	"github.com/mbd888/paygate/internal/webhooks"
	"github.com/mbd888/paygate/migrations"
)

// Version is reported by /health.
const Version = "0.1.0"

// Server owns every long-lived component of the gateway.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *sql.DB
	store       payments.Store
	service     *payments.Service
	handler     *payments.Handler
	expiryTimer *payments.Timer
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	webhooks    *webhooks.Emitter

	checks *health.Registry
	router *gin.Engine
	http   *http.Server

	shutdownTracing func(context.Context) error
	drainDelay      time.Duration

	healthy atomic.Bool
	ready   atomic.Bool
	stop    context.CancelFunc
}

// Option configures the server
type Option func(*Server)

// WithLogger replaces the logger built from LOG_LEVEL and LOG_FORMAT.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStore supplies the payment store instead of choosing one from
// DATABASE_URL.
func WithStore(store payments.Store) Option {
	return func(s *Server) { s.store = store }
}

// New wires the gateway from cfg. It fails when the merchant settings
// cannot produce a signer or builder, or when the database is unreachable.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		checks:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	var err error
	s.shutdownTracing, err = traces.Init(ctx, traces.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "paygate",
		ServiceVersion: Version,
		SampleRatio:    cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if err := s.openStore(ctx); err != nil {
		return nil, err
	}
	if err := s.buildService(); err != nil {
		return nil, err
	}

	if cfg.RateLimit > 0 {
		s.rateLimiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: int(cfg.RateLimit),
			BurstSize:         int(cfg.RateBurst),
		})
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	s.logger.Info("payment gateway configured",
		"merchant", cfg.MerchantCode,
		"payment_url", cfg.PaymentURL,
		"expiry_window", cfg.ExpiryWindow.String(),
	)
	return s, nil
}

// openStore picks Postgres when DATABASE_URL is set, memory otherwise,
// unless WithStore already chose.
func (s *Server) openStore(ctx context.Context) error {
	defer func() {
		storage := "memory"
		if s.db != nil {
			storage = "postgres"
		}
		metrics.SetBuildInfo(Version, storage)
	}()

	if s.store != nil {
		return nil
	}
	if s.cfg.DatabaseURL == "" {
		s.store = payments.NewMemoryStore()
		s.logger.Warn("DATABASE_URL not set, payment attempts are kept in memory")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("connect to database: %w", err)
	}

	if s.cfg.AutoMigrate {
		version, err := migrations.Up(ctx, db)
		if err != nil {
			_ = db.Close()
			return err
		}
		s.logger.Info("database migrated", "version", version)
	}

	s.db = db
	s.store = payments.NewPostgresStore(db)
	s.checks.Register("database", health.Database(db))
	if err := metrics.RegisterDB(db); err != nil {
		s.logger.Warn("db stats collector not registered", "error", err)
	}
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

// buildService wires the gateway protocol, the notifiers every resolved
// attempt fans out to, and the expiry timer.
func (s *Server) buildService() error {
	signer, err := vnpay.NewSigner(s.cfg.HashSecret)
	if err != nil {
		return err
	}
	builder, err := vnpay.NewBuilder(vnpay.Config{
		MerchantCode: s.cfg.MerchantCode,
		PaymentURL:   s.cfg.PaymentURL,
		ReturnURL:    s.cfg.ReturnURL,
		ExpiryWindow: s.cfg.ExpiryWindow,
		Locale:       s.cfg.Locale,
		OrderType:    s.cfg.OrderType,
	}, signer)
	if err != nil {
		return err
	}

	s.realtimeHub = realtime.NewHub(s.logger)
	notifiers := payments.Notifiers{s.realtimeHub}
	if urls := s.cfg.WebhookURLs; len(urls) > 0 {
		endpoints := make([]webhooks.Endpoint, len(urls))
		for i, u := range urls {
			endpoints[i] = webhooks.Endpoint{URL: u, Secret: s.cfg.WebhookSecret}
		}
		s.webhooks = webhooks.NewEmitter(webhooks.NewDispatcher(s.logger), endpoints, s.logger)
		notifiers = append(notifiers, s.webhooks)
		s.logger.Info("merchant webhooks enabled", "endpoints", len(endpoints))
	}

	s.service = payments.NewService(s.store, builder, signer).
		WithLogger(s.logger).
		WithNotifier(notifiers)
	s.realtimeHub.WithSnapshot(s.service.Get).WithAllowedOrigins(s.cfg.AllowedOrigins)
	s.handler = payments.NewHandler(s.service)

	if s.cfg.ExpirySweep > 0 {
		s.expiryTimer = payments.NewTimer(s.service.Reconciler(), s.cfg.ExpirySweep, s.logger)
		s.checks.Register("expiry_timer", health.Loop(s.expiryTimer.Running))
	}
	return nil
}

// maskDSN hides the password in a connection string.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Service returns the payment service.
func (s *Server) Service() *payments.Service {
	return s.service
}
