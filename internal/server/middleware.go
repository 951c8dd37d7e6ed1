package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/paygate/internal/idgen"
	"github.com/mbd888/paygate/internal/logging"
	"github.com/mbd888/paygate/internal/metrics"
	"github.com/mbd888/paygate/internal/security"
	"github.com/mbd888/paygate/internal/traces"
	"github.com/mbd888/paygate/internal/validation"
)

func (s *Server) setupMiddleware() {
	s.router.Use(
		gin.CustomRecovery(s.handlePanic),
		security.HeadersMiddleware(),
		security.CORSMiddleware(s.cfg.AllowedOrigins),
		validation.RequestSizeMiddleware(validation.MaxRequestSize),
		metrics.Middleware(),
		traces.Middleware(),
		logging.Middleware(s.logger, idgen.New),
	)
}

func (s *Server) handlePanic(c *gin.Context, recovered any) {
	logging.L(c.Request.Context()).Error("panic recovered",
		"error", recovered,
		"path", c.Request.URL.Path,
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "An unexpected error occurred",
	})
}
