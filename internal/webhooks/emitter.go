package webhooks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/paygate/internal/payments"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook deliveries started by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook deliveries that failed after retries by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

var _ payments.Notifier = (*Emitter)(nil)

// Emitter turns reconciler transitions into webhook deliveries. Delivery
// runs in the background: errors are logged but never returned.
type Emitter struct {
	d         *Dispatcher
	endpoints []Endpoint
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, endpoints []Endpoint, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		d:         d,
		endpoints: endpoints,
		logger:    logger,
		timeout:   time.Minute,
		now:       time.Now,
	}
}

// WithTimeout bounds one delivery including its retries.
func (e *Emitter) WithTimeout(d time.Duration) *Emitter {
	e.timeout = d
	return e
}

// PaymentStateChanged implements payments.Notifier.
func (e *Emitter) PaymentStateChanged(a *payments.Attempt) {
	if e == nil || e.d == nil || len(e.endpoints) == 0 {
		return
	}
	event, ok := NewPaymentEvent(a, e.now())
	if !ok {
		return
	}
	for _, ep := range e.endpoints {
		webhookEmitTotal.WithLabelValues(string(event.Type)).Inc()
		e.wg.Add(1)
		go func(ep Endpoint) {
			defer e.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
			defer cancel()
			if err := e.d.Deliver(ctx, ep, event); err != nil {
				webhookEmitErrors.WithLabelValues(string(event.Type)).Inc()
				e.logger.Warn("webhook emit failed",
					"event", event.Type,
					"delivery", event.ID,
					"orderReference", event.Data.OrderReference,
					"url", ep.URL,
					"error", err)
			}
		}(ep)
	}
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (e *Emitter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
