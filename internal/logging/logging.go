// Package logging builds paygate's slog loggers and carries a request-scoped
// logger through context. Values that could leak the merchant hash secret,
// a secure hash, or a signed query string are redacted at the handler.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Redacted replaces the value of any attribute that names key material.
const Redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively against attribute keys.
var sensitiveKeys = map[string]bool{
	"secret":         true,
	"hash_secret":    true,
	"hashsecret":     true,
	"webhook_secret": true,
	"vnp_securehash": true,
	"signature":      true,
	"sign_data":      true,
	"signdata":       true,
	"password":       true,
	"dsn":            true,
	"api_key":        true,
	"apikey":         true,
	"authorization":  true,
}

// signedMarkers identify a raw gateway query string logged under any key.
var signedMarkers = []string{"vnp_SecureHash=", "vnp_securehash="}

// ParseLevel maps a LOG_LEVEL value to a slog level. Anything slog cannot
// parse ("", "verbose") is treated as info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// New creates a logger writing to stdout. format is "json" or "text".
func New(level string, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level string, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl <= slog.LevelDebug,
		ReplaceAttr: redact,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindString {
		v := a.Value.String()
		for _, m := range signedMarkers {
			if strings.Contains(v, m) {
				return slog.String(a.Key, Redacted)
			}
		}
	}
	return a
}

type scopeKey struct{}

// scope is the request-scoped logging state stored in a context.
type scope struct {
	requestID string
	base      *slog.Logger // logger without request attributes
	logger    *slog.Logger // base plus request_id
}

func scopeFrom(ctx context.Context) scope {
	if s, ok := ctx.Value(scopeKey{}).(scope); ok {
		return s
	}
	return scope{}
}

func (s scope) with(ctx context.Context) context.Context {
	base := s.base
	if base == nil {
		base = slog.Default()
	}
	s.logger = base
	if s.requestID != "" {
		s.logger = base.With("request_id", s.requestID)
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithRequestID records the request ID on ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	s := scopeFrom(ctx)
	s.requestID = requestID
	return s.with(ctx)
}

// RequestID extracts the request ID from context
func RequestID(ctx context.Context) string {
	return scopeFrom(ctx).requestID
}

// WithLogger stores logger on ctx as the request's base logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	s := scopeFrom(ctx)
	s.base = logger
	return s.with(ctx)
}

// FromContext returns the base logger stored on ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if s := scopeFrom(ctx); s.base != nil {
		return s.base
	}
	return slog.Default()
}

// L returns the logger for ctx with its request ID attached.
func L(ctx context.Context) *slog.Logger {
	if s := scopeFrom(ctx); s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// Middleware tags each request with an ID (the caller's, when sane, else
// newID()), stores base and the ID on the request context, and writes one
// access line per request. Query strings are never logged; gateway callbacks
// carry signed fields there.
func Middleware(base *slog.Logger, newID func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = newID()
		}
		ctx := WithLogger(WithRequestID(c.Request.Context(), id), base)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		L(ctx).LogAttrs(ctx, level, "request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}
