package payments

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/paygate/internal/vnpay"
	"github.com/stretchr/testify/require"
)

const (
	testMerchant = "DEMOV210"
	testSecret   = "S3cr3t"
)

var testNow = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingNotifier records every state change it is told about.
type countingNotifier struct {
	mu     sync.Mutex
	events []*Attempt
}

func (n *countingNotifier) PaymentStateChanged(a *Attempt) {
	n.mu.Lock()
	n.events = append(n.events, a)
	n.mu.Unlock()
}

func (n *countingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSigner(t *testing.T) *vnpay.Signer {
	t.Helper()
	s, err := vnpay.NewSigner(testSecret)
	require.NoError(t, err)
	return s
}

func newTestService(t *testing.T, store Store, clock *fakeClock) *Service {
	t.Helper()
	signer := testSigner(t)
	builder, err := vnpay.NewBuilder(vnpay.Config{
		MerchantCode: testMerchant,
		PaymentURL:   "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:    "https://shop.example/payment/return",
	}, signer)
	require.NoError(t, err)
	return NewService(store, builder, signer).WithLogger(discardLogger()).WithClock(clock.Now)
}

func seedPending(t *testing.T, store Store, ref string, amount int64, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &Attempt{
		OrderReference: ref,
		Amount:         amount,
		Description:    "Thanh toan don hang " + ref,
		Locale:         "vn",
		ClientIP:       "127.0.0.1",
		State:          StatePending,
		CreatedAt:      expiresAt.Add(-45 * time.Minute),
		ExpiresAt:      expiresAt,
		UpdatedAt:      expiresAt.Add(-45 * time.Minute),
	}))
}

// gatewayCallback returns a callback payload signed the way the gateway signs.
func gatewayCallback(t *testing.T, secret, ref string, amount int64, responseCode, txnStatus string) vnpay.CallbackPayload {
	t.Helper()
	p := vnpay.CallbackPayload{
		vnpay.ParamTmnCode:           testMerchant,
		vnpay.ParamTxnRef:            ref,
		vnpay.ParamAmount:            strconv.FormatInt(amount*vnpay.AmountScale, 10),
		vnpay.ParamOrderInfo:         "Thanh toan don hang " + ref,
		vnpay.ParamResponseCode:      responseCode,
		vnpay.ParamTransactionStatus: txnStatus,
		vnpay.ParamTransactionNo:     "14226112",
		vnpay.ParamBankCode:          "NCB",
		vnpay.ParamPayDate:           "20240315151000",
	}
	s, err := vnpay.NewSigner(secret)
	require.NoError(t, err)
	p[vnpay.ParamSecureHash] = s.Sign(vnpay.Canonicalize(vnpay.SignedFields(p)))
	p[vnpay.ParamSecureHashType] = "HmacSHA512"
	return p
}

func validResult(ref string, status vnpay.GatewayStatus) vnpay.VerificationResult {
	return vnpay.VerificationResult{
		Valid:  true,
		Reason: vnpay.ReasonOK,
		Callback: vnpay.Callback{
			OrderReference:    ref,
			ResponseCode:      status.ResponseCode,
			TransactionStatus: status.TransactionStatus,
			TransactionNo:     "14226112",
			BankCode:          "NCB",
		},
	}
}
