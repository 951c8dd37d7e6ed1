package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbd888/paygate/internal/circuitbreaker"
	"github.com/mbd888/paygate/internal/payments"
	"github.com/mbd888/paygate/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func paidAttempt() *payments.Attempt {
	resolved := time.Date(2024, 1, 15, 3, 31, 0, 0, time.UTC)
	return &payments.Attempt{
		OrderReference:    "ORD1",
		Amount:            500000,
		State:             payments.StatePaid,
		ResponseCode:      "00",
		TransactionStatus: "00",
		TransactionNo:     "14226112",
		BankCode:          "NCB",
		ResolvedAt:        &resolved,
	}
}

type capture struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.requests = append(c.requests, r)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func TestEventTypeFor(t *testing.T) {
	tests := []struct {
		state payments.State
		want  EventType
		ok    bool
	}{
		{payments.StatePaid, EventPaymentPaid, true},
		{payments.StateFailed, EventPaymentFailed, true},
		{payments.StateCancelled, EventPaymentCancelled, true},
		{payments.StateExpired, EventPaymentExpired, true},
		{payments.StatePending, "", false},
	}
	for _, tt := range tests {
		got, ok := EventTypeFor(tt.state)
		assert.Equal(t, tt.want, got, string(tt.state))
		assert.Equal(t, tt.ok, ok, string(tt.state))
	}
}

func TestNewPaymentEvent_PendingHasNoEvent(t *testing.T) {
	_, ok := NewPaymentEvent(&payments.Attempt{State: payments.StatePending}, time.Now())
	assert.False(t, ok)
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	sig := Sign("whsec", now.Unix(), body)
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)

	assert.NoError(t, Verify("whsec", "1700000000", body, sig, now, 5*time.Minute))
	assert.ErrorIs(t, Verify("other", "1700000000", body, sig, now, 5*time.Minute), ErrInvalidSignature)
	assert.ErrorIs(t, Verify("whsec", "1700000000", []byte(`{"id":"evt_2"}`), sig, now, 5*time.Minute), ErrInvalidSignature)
	assert.ErrorIs(t, Verify("whsec", "1700000001", body, sig, now, 5*time.Minute), ErrInvalidSignature)
	assert.ErrorIs(t, Verify("whsec", "not-a-number", body, sig, now, 5*time.Minute), ErrInvalidSignature)
	assert.ErrorIs(t, Verify("whsec", "1700000000", body, sig, now.Add(time.Hour), 5*time.Minute), ErrStaleTimestamp)
	assert.NoError(t, Verify("whsec", "1700000000", body, sig, now.Add(time.Hour), 0))
}

func TestDeliver_SignedRequest(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	d := NewDispatcher(nil).WithPolicy(fastPolicy)
	event, ok := NewPaymentEvent(paidAttempt(), time.Now())
	require.True(t, ok)

	require.NoError(t, d.Deliver(context.Background(), Endpoint{URL: srv.URL, Secret: "whsec"}, event))
	require.Equal(t, 1, c.count())

	req, body := c.requests[0], c.bodies[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "payment.paid", req.Header.Get("X-Paygate-Event"))
	assert.Equal(t, event.ID, req.Header.Get("X-Paygate-Delivery"))
	assert.NoError(t, Verify("whsec", req.Header.Get("X-Paygate-Timestamp"), body,
		req.Header.Get("X-Paygate-Signature"), time.Now(), time.Minute))

	var got Event
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, EventPaymentPaid, got.Type)
	assert.Equal(t, "ORD1", got.Data.OrderReference)
	assert.Equal(t, int64(500000), got.Data.Amount)
	assert.Equal(t, "14226112", got.Data.TransactionNo)
}

func TestDeliver_NoSecretNoSignature(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	event, _ := NewPaymentEvent(paidAttempt(), time.Now())
	require.NoError(t, NewDispatcher(nil).Deliver(context.Background(), Endpoint{URL: srv.URL}, event))
	require.Equal(t, 1, c.count())
	assert.Empty(t, c.requests[0].Header.Get("X-Paygate-Signature"))
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event, _ := NewPaymentEvent(paidAttempt(), time.Now())
	d := NewDispatcher(nil).WithPolicy(fastPolicy)
	require.NoError(t, d.Deliver(context.Background(), Endpoint{URL: srv.URL}, event))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliver_ClientErrorIsNotRetried(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusBadRequest))
	defer srv.Close()

	event, _ := NewPaymentEvent(paidAttempt(), time.Now())
	err := NewDispatcher(nil).WithPolicy(fastPolicy).Deliver(context.Background(), Endpoint{URL: srv.URL}, event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, 1, c.count())
}

func TestDeliver_TooManyRequestsIsRetried(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusTooManyRequests))
	defer srv.Close()

	event, _ := NewPaymentEvent(paidAttempt(), time.Now())
	err := NewDispatcher(nil).WithPolicy(fastPolicy).Deliver(context.Background(), Endpoint{URL: srv.URL}, event)
	require.Error(t, err)
	assert.Equal(t, fastPolicy.MaxAttempts, c.count())
}

func TestDeliver_OpenCircuitSkipsEndpoint(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer srv.Close()

	breaker := circuitbreaker.New(2, time.Hour)
	d := NewDispatcher(nil).
		WithPolicy(retry.Policy{MaxAttempts: 1}).
		WithBreaker(breaker)
	event, _ := NewPaymentEvent(paidAttempt(), time.Now())
	ep := Endpoint{URL: srv.URL}

	require.Error(t, d.Deliver(context.Background(), ep, event))
	require.Error(t, d.Deliver(context.Background(), ep, event))
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State(srv.URL))

	err := d.Deliver(context.Background(), ep, event)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, c.count())
}

func TestEmitter_DeliversToEveryEndpoint(t *testing.T) {
	a, b := &capture{}, &capture{}
	srvA := httptest.NewServer(a.handler(http.StatusOK))
	defer srvA.Close()
	srvB := httptest.NewServer(b.handler(http.StatusOK))
	defer srvB.Close()

	e := NewEmitter(NewDispatcher(nil).WithPolicy(fastPolicy), []Endpoint{
		{URL: srvA.URL, Secret: "a"},
		{URL: srvB.URL, Secret: "b"},
	}, nil)

	e.PaymentStateChanged(paidAttempt())
	require.NoError(t, e.Wait(context.Background()))

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, a.requests[0].Header.Get("X-Paygate-Delivery"), b.requests[0].Header.Get("X-Paygate-Delivery"),
		"one event id per transition")
}

func TestEmitter_IgnoresPendingAndNil(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	e := NewEmitter(NewDispatcher(nil), []Endpoint{{URL: srv.URL}}, nil)
	e.PaymentStateChanged(&payments.Attempt{OrderReference: "ORD2", State: payments.StatePending})
	require.NoError(t, e.Wait(context.Background()))
	assert.Equal(t, 0, c.count())

	var nilEmitter *Emitter
	assert.NotPanics(t, func() { nilEmitter.PaymentStateChanged(paidAttempt()) })
}

func TestEmitter_WaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	e := NewEmitter(NewDispatcher(nil).WithPolicy(fastPolicy), []Endpoint{{URL: srv.URL}}, nil)
	e.PaymentStateChanged(paidAttempt())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Wait(ctx), context.DeadlineExceeded)
}
