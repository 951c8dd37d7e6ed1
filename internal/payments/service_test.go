package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/paygate/internal/vnpay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestPayment(t *testing.T, svc *Service, ref string, amount int64) *Attempt {
	t.Helper()
	a, err := svc.CreatePayment(context.Background(), CreateRequest{
		OrderReference: ref,
		Amount:         amount,
		Description:    "Thanh toán đơn hàng " + ref,
		ClientIP:       "203.0.113.7",
	})
	require.NoError(t, err)
	return a
}

func TestCreatePayment(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store, newFakeClock(testNow))

	a := createTestPayment(t, svc, "ORD1", 500000)
	assert.Equal(t, StatePending, a.State)
	assert.Equal(t, int64(500000), a.Amount)
	assert.Equal(t, "Thanh toan don hang ORD1", a.Description)
	assert.Equal(t, "vn", a.Locale)
	assert.Contains(t, a.PaymentURL, "vnp_TxnRef=ORD1")
	assert.Contains(t, a.PaymentURL, "vnp_Amount=50000000")
	assert.True(t, a.CreatedAt.Equal(testNow))
	assert.True(t, a.ExpiresAt.Equal(testNow.Add(45*time.Minute)))

	stored, err := store.Get(context.Background(), "ORD1")
	require.NoError(t, err)
	assert.Equal(t, a.PaymentURL, stored.PaymentURL)
}

func TestCreatePayment_GeneratesReference(t *testing.T) {
	svc := newTestService(t, NewMemoryStore(), newFakeClock(testNow))

	a, err := svc.CreatePayment(context.Background(), CreateRequest{Amount: 10000, ClientIP: "::1"})
	require.NoError(t, err)
	assert.Regexp(t, `^20240315080000[0-9A-F]{8}$`, a.OrderReference)
	assert.Equal(t, "127.0.0.1", a.ClientIP)
	assert.Equal(t, "Thanh toan don hang "+a.OrderReference, a.Description)
}

func TestCreatePayment_Duplicate(t *testing.T) {
	svc := newTestService(t, NewMemoryStore(), newFakeClock(testNow))
	createTestPayment(t, svc, "ORD1", 500000)

	_, err := svc.CreatePayment(context.Background(), CreateRequest{OrderReference: "ORD1", Amount: 1, ClientIP: "127.0.0.1"})
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestCreatePayment_InvalidRequestStoresNothing(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store, newFakeClock(testNow))

	_, err := svc.CreatePayment(context.Background(), CreateRequest{OrderReference: "ORD1", Amount: 0, ClientIP: "127.0.0.1"})
	assert.ErrorIs(t, err, vnpay.ErrInvalidRequest)

	_, err = store.Get(context.Background(), "ORD1")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestHandleCallback_IPNThenReturn(t *testing.T) {
	store := NewMemoryStore()
	clock := newFakeClock(testNow)
	svc := newTestService(t, store, clock)
	n := &countingNotifier{}
	svc.WithNotifier(n)
	ctx := context.Background()

	createTestPayment(t, svc, "ORD1", 500000)
	clock.Advance(5 * time.Minute)
	payload := gatewayCallback(t, testSecret, "ORD1", 500000, "00", "00")

	ipn, err := svc.HandleCallback(ctx, vnpay.ChannelIPN, payload)
	require.NoError(t, err)
	assert.Equal(t, vnpay.ReasonOK, ipn.Verification.Reason)
	assert.True(t, ipn.Outcome.Transitioned)
	assert.Equal(t, StatePaid, ipn.Outcome.State)
	assert.Equal(t, vnpay.AckConfirmed, ipn.Ack)

	// Gateway retry of the same IPN.
	retry, err := svc.HandleCallback(ctx, vnpay.ChannelIPN, payload)
	require.NoError(t, err)
	assert.Equal(t, vnpay.AckAlreadyConfirmed, retry.Ack)

	// The browser lands on the Return URL afterwards with the same fields.
	ret, err := svc.HandleCallback(ctx, vnpay.ChannelReturn, payload)
	require.NoError(t, err)
	assert.True(t, ret.Verification.Valid)
	assert.Equal(t, StatePaid, ret.Outcome.State)
	assert.True(t, ret.Outcome.AlreadyFinal)

	assert.Equal(t, 1, n.Count())

	logged, err := svc.ListCallbacks(ctx, "ORD1", 0)
	require.NoError(t, err)
	require.Len(t, logged, 3)
	assert.Equal(t, "return", logged[0].Channel)
	for _, rec := range logged {
		assert.Equal(t, "ok", rec.Reason)
		assert.NotContains(t, rec.Params, vnpay.ParamSecureHash)
		assert.Equal(t, "ORD1", rec.Params[vnpay.ParamTxnRef])
	}
}

func TestHandleCallback_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload func(t *testing.T) vnpay.CallbackPayload
		reason  vnpay.Reason
		ack     vnpay.IPNAck
	}{
		{
			name: "wrong secret",
			payload: func(t *testing.T) vnpay.CallbackPayload {
				return gatewayCallback(t, "WrongSecret", "ORD1", 500000, "00", "00")
			},
			reason: vnpay.ReasonSignatureMismatch,
			ack:    vnpay.AckInvalidSignature,
		},
		{
			name: "tampered amount",
			payload: func(t *testing.T) vnpay.CallbackPayload {
				p := gatewayCallback(t, testSecret, "ORD1", 500000, "00", "00")
				p[vnpay.ParamAmount] = "100"
				return p
			},
			reason: vnpay.ReasonSignatureMismatch,
			ack:    vnpay.AckInvalidSignature,
		},
		{
			name: "signed wrong amount",
			payload: func(t *testing.T) vnpay.CallbackPayload {
				return gatewayCallback(t, testSecret, "ORD1", 1, "00", "00")
			},
			reason: vnpay.ReasonAmountMismatch,
			ack:    vnpay.AckInvalidAmount,
		},
		{
			name: "unknown order",
			payload: func(t *testing.T) vnpay.CallbackPayload {
				return gatewayCallback(t, testSecret, "ORD404", 500000, "00", "00")
			},
			reason: vnpay.ReasonUnknownReference,
			ack:    vnpay.AckOrderNotFound,
		},
		{
			name: "missing hash",
			payload: func(t *testing.T) vnpay.CallbackPayload {
				p := gatewayCallback(t, testSecret, "ORD1", 500000, "00", "00")
				delete(p, vnpay.ParamSecureHash)
				return p
			},
			reason: vnpay.ReasonMissingFields,
			ack:    vnpay.AckUnknownError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			svc := newTestService(t, store, newFakeClock(testNow))
			createTestPayment(t, svc, "ORD1", 500000)

			res, err := svc.HandleCallback(context.Background(), vnpay.ChannelIPN, tt.payload(t))
			require.NoError(t, err)
			assert.False(t, res.Verification.Valid)
			assert.Equal(t, tt.reason, res.Verification.Reason)
			assert.Equal(t, tt.ack, res.Ack)
			assert.False(t, res.Outcome.Transitioned)

			a, err := store.Get(context.Background(), "ORD1")
			require.NoError(t, err)
			assert.Equal(t, StatePending, a.State)
		})
	}
}

func TestHandleCallback_ExpiredAttempt(t *testing.T) {
	store := NewMemoryStore()
	clock := newFakeClock(testNow)
	svc := newTestService(t, store, clock)
	createTestPayment(t, svc, "ORD1", 500000)

	clock.Advance(46 * time.Minute)
	res, err := svc.HandleCallback(context.Background(), vnpay.ChannelIPN,
		gatewayCallback(t, testSecret, "ORD1", 500000, "00", "00"))
	require.NoError(t, err)

	assert.Equal(t, vnpay.ReasonExpired, res.Verification.Reason)
	assert.Equal(t, StateExpired, res.Outcome.State)
	assert.Equal(t, vnpay.AckConfirmed, res.Ack)
}

func TestHandleCallback_CustomerCancelled(t *testing.T) {
	svc := newTestService(t, NewMemoryStore(), newFakeClock(testNow))
	createTestPayment(t, svc, "ORD1", 500000)

	res, err := svc.HandleCallback(context.Background(), vnpay.ChannelReturn,
		gatewayCallback(t, testSecret, "ORD1", 500000, "24", "02"))
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, res.Outcome.State)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Get(context.Context, string) (*Attempt, error) {
	return nil, f.err
}

func TestHandleCallback_StoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	svc := newTestService(t, &failingStore{MemoryStore: NewMemoryStore(), err: boom}, newFakeClock(testNow))

	_, err := svc.HandleCallback(context.Background(), vnpay.ChannelIPN,
		gatewayCallback(t, testSecret, "ORD1", 500000, "00", "00"))
	assert.ErrorIs(t, err, boom)
}

func TestLookupAttempt_TranslatesNotFound(t *testing.T) {
	svc := newTestService(t, NewMemoryStore(), newFakeClock(testNow))

	_, err := svc.LookupAttempt(context.Background(), "missing")
	assert.ErrorIs(t, err, vnpay.ErrAttemptNotFound)
}
