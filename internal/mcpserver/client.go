package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/paygate/internal/retry"
)

// Config points the tools at a running paygate API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Bearer key for merchant routes; empty when the API is open
}

// readPolicy retries idempotent lookups on transport errors and 5xx.
var readPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

// APIError is a non-2xx answer from the paygate API.
type APIError struct {
	Status  int
	Code    string // the "error" field, e.g. "duplicate_reference"
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

func (e *APIError) temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// PaygateClient calls the paygate HTTP API.
type PaygateClient struct {
	base   string
	apiKey string
	http   *http.Client
	policy retry.Policy
}

// NewPaygateClient creates a client with a 30s per-request timeout.
func NewPaygateClient(cfg Config) *PaygateClient {
	return &PaygateClient{
		base:   cfg.APIURL,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: 30 * time.Second},
		policy: readPolicy,
	}
}

// CreatePaymentInput is the body of POST /v1/payments. The API takes the
// client IP from the connection.
type CreatePaymentInput struct {
	OrderReference string `json:"orderReference,omitempty"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	Locale         string `json:"locale,omitempty"`
}

// CreatePayment opens a payment attempt and returns its signed redirect URL.
// It is sent once; a retried POST could race the first into a 409.
func (c *PaygateClient) CreatePayment(ctx context.Context, in CreatePaymentInput) (json.RawMessage, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.call(ctx, http.MethodPost, "/v1/payments", nil, body)
}

// GetPayment returns an attempt and its most recent callbacks.
func (c *PaygateClient) GetPayment(ctx context.Context, reference string, callbackLimit int) (json.RawMessage, error) {
	var q url.Values
	if callbackLimit > 0 {
		q = url.Values{"limit": {strconv.Itoa(callbackLimit)}}
	}
	path := "/v1/payments/" + url.PathEscape(reference)

	var out json.RawMessage
	err := retry.Do(ctx, c.policy, func(int) error {
		var err error
		out, err = c.call(ctx, http.MethodGet, path, q, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.temporary() {
			return retry.Permanent(err)
		}
		return err
	})
	return out, err
}

func (c *PaygateClient) call(ctx context.Context, method, path string, query url.Values, body []byte) (json.RawMessage, error) {
	u, err := url.Parse(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	u.RawQuery = query.Encode()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 400 {
		return raw, nil
	}

	apiErr := &APIError{Status: resp.StatusCode, Message: string(raw)}
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
		apiErr.Code, apiErr.Message = envelope.Error, envelope.Message
	}
	return nil, apiErr
}
