// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	AutoMigrate bool   // apply embedded migrations on startup

	// Gateway merchant settings
	MerchantCode string // vnp_TmnCode
	HashSecret   string // HMAC-SHA512 key shared with the gateway
	PaymentURL   string
	ReturnURL    string
	ExpiryWindow time.Duration
	Locale       string
	OrderType    string

	// ExpirySweep is how often stale pending attempts are expired. Zero disables.
	ExpirySweep time.Duration

	// Observability
	OTLPEndpoint     string
	TraceSampleRatio float64 // 0 samples everything

	// Security
	APIKey         string   // protects POST /v1/payments when set
	AllowedOrigins []string // CORS; empty allows any origin
	RateLimit      int64    // requests per minute per client IP; 0 disables
	RateBurst      int64

	// Merchant webhooks; each URL receives every resolved payment.
	WebhookURLs   []string
	WebhookSecret string
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultPaymentURL   = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
	DefaultExpiryWindow = 45 * time.Minute
	DefaultLocale       = "vn"
	DefaultOrderType    = "other"
	DefaultExpirySweep  = time.Minute
	DefaultRateLimit    = 120
	DefaultRateBurst    = 20
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		MerchantCode:     os.Getenv("VNPAY_TMN_CODE"),    // Required, no default
		HashSecret:       os.Getenv("VNPAY_HASH_SECRET"), // Required, no default
		PaymentURL:       getEnv("VNPAY_PAYMENT_URL", DefaultPaymentURL),
		ReturnURL:        os.Getenv("VNPAY_RETURN_URL"),
		ExpiryWindow:     getEnvDuration("VNPAY_EXPIRY_WINDOW", DefaultExpiryWindow),
		Locale:           getEnv("VNPAY_LOCALE", DefaultLocale),
		OrderType:        getEnv("VNPAY_ORDER_TYPE", DefaultOrderType),
		ExpirySweep:      getEnvDuration("PAYGATE_EXPIRY_SWEEP", DefaultExpirySweep),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 0),
		APIKey:           os.Getenv("PAYGATE_API_KEY"),
		RateLimit:        getEnvInt64("PAYGATE_RATE_LIMIT", DefaultRateLimit),
		RateBurst:        getEnvInt64("PAYGATE_RATE_BURST", DefaultRateBurst),
	}
	cfg.AllowedOrigins = getEnvList("PAYGATE_CORS_ORIGINS")
	cfg.WebhookURLs = getEnvList("PAYGATE_WEBHOOK_URLS")
	cfg.WebhookSecret = os.Getenv("PAYGATE_WEBHOOK_SECRET")
	cfg.AutoMigrate = getEnvBool("PAYGATE_AUTO_MIGRATE", false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.MerchantCode == "" {
		return fmt.Errorf("VNPAY_TMN_CODE is required")
	}
	if c.HashSecret == "" {
		return fmt.Errorf("VNPAY_HASH_SECRET is required")
	}
	if err := validURL("VNPAY_PAYMENT_URL", c.PaymentURL); err != nil {
		return err
	}
	if err := validURL("VNPAY_RETURN_URL", c.ReturnURL); err != nil {
		return err
	}
	if c.ExpiryWindow <= 0 {
		return fmt.Errorf("VNPAY_EXPIRY_WINDOW must be a positive duration")
	}
	if c.Locale != "vn" && c.Locale != "en" {
		return fmt.Errorf("VNPAY_LOCALE must be vn or en")
	}
	if c.ExpirySweep < 0 {
		return fmt.Errorf("PAYGATE_EXPIRY_SWEEP must not be negative")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("PAYGATE_RATE_LIMIT and PAYGATE_RATE_BURST must not be negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}
	for _, u := range c.WebhookURLs {
		if err := validURL("PAYGATE_WEBHOOK_URLS", u); err != nil {
			return err
		}
	}
	if len(c.WebhookURLs) > 0 && c.WebhookSecret == "" {
		return fmt.Errorf("PAYGATE_WEBHOOK_SECRET is required when PAYGATE_WEBHOOK_URLS is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func validURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL", key)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45m") or bare seconds ("2700").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs := getEnvInt64(key, -1); secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
