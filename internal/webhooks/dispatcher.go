package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mbd888/paygate/internal/circuitbreaker"
	"github.com/mbd888/paygate/internal/retry"
)

// Dispatcher delivers events to one endpoint at a time. Transient failures
// are retried; an endpoint that keeps failing is short-circuited by a
// per-URL breaker.
type Dispatcher struct {
	client  *http.Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		policy: retry.DefaultPolicy,
		logger: logger,
		now:    time.Now,
	}
	return d.WithBreaker(circuitbreaker.New(5, time.Minute))
}

// WithClient replaces the HTTP client.
func (d *Dispatcher) WithClient(c *http.Client) *Dispatcher {
	d.client = c
	return d
}

// WithPolicy replaces the retry policy.
func (d *Dispatcher) WithPolicy(p retry.Policy) *Dispatcher {
	d.policy = p
	return d
}

// WithBreaker replaces the per-endpoint circuit breaker.
func (d *Dispatcher) WithBreaker(b *circuitbreaker.Breaker) *Dispatcher {
	d.breaker = b.OnStateChange(d.circuitChanged)
	return d
}

func (d *Dispatcher) circuitChanged(url string, from, to circuitbreaker.State) {
	if to == circuitbreaker.StateOpen {
		d.logger.Warn("webhook endpoint circuit opened", "url", url, "from", from.String())
		return
	}
	d.logger.Info("webhook endpoint circuit changed", "url", url, "from", from.String(), "to", to.String())
}

// Deliver posts event to ep, retrying transient failures. It returns
// circuitbreaker.ErrOpen without sending while ep's circuit is open.
func (d *Dispatcher) Deliver(ctx context.Context, ep Endpoint, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return d.breaker.Do(ep.URL, func() error {
		return retry.Do(ctx, d.policy, func(attempt int) error {
			err := d.send(ctx, ep, event, payload)
			if err != nil {
				d.logger.Debug("webhook attempt failed",
					"event", event.Type, "delivery", event.ID, "attempt", attempt, "error", err)
			}
			return err
		})
	})
}

func (d *Dispatcher) send(ctx context.Context, ep Endpoint, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}

	ts := d.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "paygate-webhooks/1")
	req.Header.Set("X-Paygate-Event", string(event.Type))
	req.Header.Set("X-Paygate-Delivery", event.ID)
	req.Header.Set("X-Paygate-Timestamp", strconv.FormatInt(ts, 10))
	if ep.Secret != "" {
		req.Header.Set("X-Paygate-Signature", Sign(ep.Secret, ts, payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}
