package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/paygate/internal/idgen"
	"github.com/mbd888/paygate/internal/traces"
	"github.com/mbd888/paygate/internal/vnpay"
)

// DefaultCallbackLimit bounds the callback log returned with an attempt.
const DefaultCallbackLimit = 50

// CreateRequest contains the parameters for starting a payment.
type CreateRequest struct {
	OrderReference string `json:"orderReference"`
	Amount         int64  `json:"amount" binding:"required"`
	Description    string `json:"description"`
	Locale         string `json:"locale"`
	ClientIP       string `json:"-"`
}

// CallbackResult is the full handling result of one callback delivery.
type CallbackResult struct {
	Verification vnpay.VerificationResult `json:"verification"`
	Outcome      Outcome                  `json:"outcome"`
	Ack          vnpay.IPNAck             `json:"ack"`
}

// Service implements payment creation and callback handling.
type Service struct {
	store      Store
	builder    *vnpay.Builder
	verifier   *vnpay.Verifier
	reconciler *Reconciler
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a new payment service. The verifier reads attempts
// through the service itself.
func NewService(store Store, builder *vnpay.Builder, signer *vnpay.Signer) *Service {
	s := &Service{
		store:   store,
		builder: builder,
		logger:  slog.Default(),
		now:     time.Now,
	}
	s.verifier = vnpay.NewVerifier(signer, s)
	s.reconciler = NewReconciler(store, s.logger)
	return s
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	s.reconciler.logger = logger
	return s
}

// WithNotifier forwards state changes to n.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.reconciler.WithNotifier(n)
	return s
}

// WithClock overrides the time source used for expiry and timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.verifier.WithClock(now)
	s.reconciler.WithClock(now)
	return s
}

// Reconciler returns the service's reconciler.
func (s *Service) Reconciler() *Reconciler {
	return s.reconciler
}

// CreatePayment builds a signed payment URL and stores a pending attempt.
func (s *Service) CreatePayment(ctx context.Context, req CreateRequest) (*Attempt, error) {
	now := s.now()
	ref := req.OrderReference
	if ref == "" {
		ref = idgen.OrderReference(now)
	}

	ctx, span := traces.StartSpan(ctx, "payments.CreatePayment",
		traces.OrderReference(ref), traces.Amount(req.Amount))
	defer span.End()

	signed, err := s.builder.Build(vnpay.PaymentRequest{
		OrderReference: ref,
		Amount:         req.Amount,
		Description:    req.Description,
		Locale:         req.Locale,
		ClientIP:       req.ClientIP,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, err
	}

	locale, _ := signed.Params.Get(vnpay.ParamLocale)
	ip, _ := signed.Params.Get(vnpay.ParamIPAddr)
	attempt := &Attempt{
		OrderReference: signed.OrderReference,
		Amount:         signed.Amount,
		Description:    signed.Description,
		Locale:         locale,
		ClientIP:       ip,
		PaymentURL:     signed.URL,
		State:          StatePending,
		CreatedAt:      signed.CreatedAt,
		ExpiresAt:      signed.ExpiresAt,
		UpdatedAt:      signed.CreatedAt,
	}
	if err := s.store.Create(ctx, attempt); err != nil {
		traces.Fail(span, err)
		return nil, err
	}

	urlsBuilt.Inc()
	s.logger.Info("payment created",
		"orderReference", attempt.OrderReference,
		"amount", attempt.Amount,
		"expiresAt", attempt.ExpiresAt,
	)
	return attempt, nil
}

// HandleCallback verifies a Return or IPN delivery, logs it, and reconciles
// it when the result allows. Both channels run the same code.
func (s *Service) HandleCallback(ctx context.Context, channel vnpay.Channel, payload vnpay.CallbackPayload) (*CallbackResult, error) {
	ctx, span := traces.StartSpan(ctx, "payments.HandleCallback", traces.Channel(string(channel)))
	defer span.End()

	res, err := s.verifier.Verify(ctx, payload)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(traces.OrderReference(res.Callback.OrderReference), traces.Reason(string(res.Reason)))
	callbacksReceived.WithLabelValues(string(channel), string(res.Reason)).Inc()

	s.recordCallback(ctx, channel, res, payload)

	out := &CallbackResult{Verification: res}
	if res.Reason == vnpay.ReasonOK || res.Reason == vnpay.ReasonExpired {
		outcome, err := s.reconciler.Reconcile(ctx, res.Callback.OrderReference, res, res.Callback.Status())
		if err != nil {
			return nil, err
		}
		out.Outcome = outcome
	} else {
		s.logger.Warn("callback rejected",
			"channel", channel,
			"orderReference", res.Callback.OrderReference,
			"reason", res.Reason,
		)
	}
	out.Ack = vnpay.AckFor(res.Reason, out.Outcome.AlreadyFinal)
	return out, nil
}

func (s *Service) recordCallback(ctx context.Context, channel vnpay.Channel, res vnpay.VerificationResult, payload vnpay.CallbackPayload) {
	rec := &CallbackRecord{
		ID:                idgen.WithPrefix("cb_"),
		OrderReference:    res.Callback.OrderReference,
		Channel:           string(channel),
		Reason:            string(res.Reason),
		ResponseCode:      res.Callback.ResponseCode,
		TransactionStatus: res.Callback.TransactionStatus,
		TransactionNo:     res.Callback.TransactionNo,
		Params:            vnpay.SignedFields(payload),
		ReceivedAt:        s.now(),
	}
	if err := s.store.RecordCallback(ctx, rec); err != nil {
		s.logger.Warn("failed to record callback",
			"orderReference", rec.OrderReference, "channel", channel, "error", err)
	}
}

// Get returns an attempt by order reference.
func (s *Service) Get(ctx context.Context, ref string) (*Attempt, error) {
	return s.store.Get(ctx, ref)
}

// ListCallbacks returns the newest callbacks logged for ref.
func (s *Service) ListCallbacks(ctx context.Context, ref string, limit int) ([]*CallbackRecord, error) {
	if limit <= 0 || limit > DefaultCallbackLimit {
		limit = DefaultCallbackLimit
	}
	return s.store.ListCallbacks(ctx, ref, limit)
}

// LookupAttempt implements vnpay.AttemptLookup.
func (s *Service) LookupAttempt(ctx context.Context, ref string) (*vnpay.Attempt, error) {
	a, err := s.store.Get(ctx, ref)
	if errors.Is(err, ErrAttemptNotFound) {
		return nil, vnpay.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payments: get %q: %w", ref, err)
	}
	return &vnpay.Attempt{
		OrderReference: a.OrderReference,
		Amount:         a.Amount,
		ExpiresAt:      a.ExpiresAt,
	}, nil
}

var _ vnpay.AttemptLookup = (*Service)(nil)
