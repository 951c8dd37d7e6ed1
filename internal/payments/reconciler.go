package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/paygate/internal/traces"
	"github.com/mbd888/paygate/internal/vnpay"
)

// Outcome is what a Reconcile call did to an order.
type Outcome struct {
	// State is the order's state after the call. Empty when the call was
	// a no-op for an unknown or unverifiable callback.
	State State `json:"state,omitempty"`
	// Transitioned is true only for the call that moved the order out of
	// pending.
	Transitioned bool `json:"transitioned"`
	// AlreadyFinal is true when the order was terminal before the call.
	AlreadyFinal bool     `json:"alreadyFinal"`
	Attempt      *Attempt `json:"-"`
}

// Reconciler is the only writer of order payment state.
type Reconciler struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger, now: time.Now}
}

// WithNotifier sets the receiver of state change events.
func (r *Reconciler) WithNotifier(n Notifier) *Reconciler {
	r.notifier = n
	return r
}

// WithClock overrides the time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile applies a verification result to the order it names.
//
// A valid callback moves a pending order to paid, failed or cancelled
// according to status. An expired result moves it to expired. Any other
// result, an unrecognized status, or an order that is already terminal
// leaves state unchanged. Repeated calls with the same input converge on
// the same state. The error return is reserved for store failures.
func (r *Reconciler) Reconcile(ctx context.Context, orderReference string, result vnpay.VerificationResult, status vnpay.GatewayStatus) (Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "payments.Reconcile",
		traces.OrderReference(orderReference), traces.Reason(string(result.Reason)))
	defer span.End()

	var target State
	switch {
	case result.Reason == vnpay.ReasonExpired:
		target = StateExpired
	case result.Valid:
		switch status.Classify() {
		case vnpay.VerdictSuccess:
			target = StatePaid
		case vnpay.VerdictFailure:
			target = StateFailed
		case vnpay.VerdictCancelled:
			target = StateCancelled
		}
	default:
		r.logger.Info("callback not reconciled",
			"orderReference", orderReference, "reason", result.Reason)
		return Outcome{}, nil
	}

	if target == "" {
		attempt, err := r.store.Get(ctx, orderReference)
		if err != nil {
			traces.Fail(span, err)
			return Outcome{}, fmt.Errorf("payments: load %q: %w", orderReference, err)
		}
		r.logger.Warn("unrecognized gateway status, left for manual review",
			"orderReference", orderReference,
			"responseCode", status.ResponseCode,
			"transactionStatus", status.TransactionStatus,
			"state", attempt.State,
		)
		return Outcome{State: attempt.State, AlreadyFinal: attempt.IsTerminal(), Attempt: attempt}, nil
	}

	cb := result.Callback
	attempt, changed, err := r.store.Transition(ctx, orderReference, target, Resolution{
		ResponseCode:      cb.ResponseCode,
		TransactionStatus: cb.TransactionStatus,
		TransactionNo:     cb.TransactionNo,
		BankCode:          cb.BankCode,
	}, r.now())
	if err != nil {
		traces.Fail(span, err)
		return Outcome{}, fmt.Errorf("payments: transition %q to %s: %w", orderReference, target, err)
	}
	span.SetAttributes(traces.State(string(attempt.State)))

	if !changed {
		r.logger.Info("order already final, callback ignored",
			"orderReference", orderReference, "state", attempt.State, "wanted", target)
		return Outcome{State: attempt.State, AlreadyFinal: true, Attempt: attempt}, nil
	}

	r.transitioned(attempt)
	return Outcome{State: attempt.State, Transitioned: true, Attempt: attempt}, nil
}

// ExpireStale moves up to limit pending attempts whose deadline passed
// before now to expired. It returns how many this call expired.
func (r *Reconciler) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	stale, err := r.store.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("payments: list expired: %w", err)
	}

	expired := 0
	for _, a := range stale {
		attempt, changed, err := r.store.Transition(ctx, a.OrderReference, StateExpired, Resolution{}, now)
		if err != nil {
			r.logger.Warn("failed to expire attempt", "orderReference", a.OrderReference, "error", err)
			continue
		}
		if !changed {
			// A callback won the race.
			continue
		}
		expired++
		pendingExpired.Inc()
		r.transitioned(attempt)
	}
	return expired, nil
}

func (r *Reconciler) transitioned(a *Attempt) {
	transitions.WithLabelValues(string(a.State)).Inc()
	r.logger.Info("payment state changed",
		"orderReference", a.OrderReference,
		"state", a.State,
		"amount", a.Amount,
		"responseCode", a.ResponseCode,
	)
	if r.notifier != nil {
		r.notifier.PaymentStateChanged(a)
	}
}
