package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/paygate/internal/health"
	"github.com/mbd888/paygate/internal/metrics"
	"github.com/mbd888/paygate/internal/realtime"
	"github.com/mbd888/paygate/internal/security"
	"github.com/mbd888/paygate/internal/validation"
)

// setupRoutes mounts three tiers under /v1: gateway callbacks (never
// throttled, no key), public reads and streams (rate limited), and merchant
// operations (rate limited, API key).
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", probe(&s.healthy, "alive", "unhealthy"))
	s.router.GET("/health/ready", probe(&s.ready, "ready", "not_ready"))
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	s.handler.RegisterGatewayRoutes(v1)

	public := v1.Group("")
	if s.rateLimiter != nil {
		public.Use(s.rateLimiter.Middleware())
	}
	s.handler.RegisterRoutes(public)
	public.GET("/payments/:reference/ws", validation.ReferenceParamMiddleware(), s.realtimeHub.HandleOrderStream)

	merchant := public.Group("", security.APIKeyMiddleware(s.cfg.APIKey))
	s.handler.RegisterProtectedRoutes(merchant)
	merchant.GET("/ws", gin.WrapF(s.realtimeHub.HandleWebSocket))
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Realtime  realtime.Stats  `json:"realtime"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.checks.CheckAll(c.Request.Context())

	resp := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Checks:    statuses,
		Realtime:  s.realtimeHub.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if !ok {
		resp.Status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// probe reports flag as a Kubernetes-style liveness or readiness endpoint.
func probe(flag interface{ Load() bool }, up, down string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if flag.Load() {
			c.JSON(http.StatusOK, gin.H{"status": up})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": down})
	}
}
