// Package webhooks notifies merchant systems when a payment attempt resolves.
//
// Every delivery is a signed JSON POST:
//
//	X-Paygate-Event:     payment.paid
//	X-Paygate-Delivery:  evt_...
//	X-Paygate-Timestamp: 1700000000
//	X-Paygate-Signature: sha256=<hex HMAC-SHA256 of "timestamp.body">
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/paygate/internal/idgen"
	"github.com/mbd888/paygate/internal/payments"
)

var (
	ErrInvalidSignature = errors.New("webhooks: invalid signature")
	ErrStaleTimestamp   = errors.New("webhooks: timestamp outside tolerance")
)

// EventType represents the type of webhook event
type EventType string

const (
	EventPaymentPaid      EventType = "payment.paid"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentCancelled EventType = "payment.cancelled"
	EventPaymentExpired   EventType = "payment.expired"
)

// EventTypeFor maps a terminal state to its event type.
func EventTypeFor(state payments.State) (EventType, bool) {
	switch state {
	case payments.StatePaid:
		return EventPaymentPaid, true
	case payments.StateFailed:
		return EventPaymentFailed, true
	case payments.StateCancelled:
		return EventPaymentCancelled, true
	case payments.StateExpired:
		return EventPaymentExpired, true
	}
	return "", false
}

// Event represents a webhook event
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      PaymentData `json:"data"`
}

// PaymentData is the attempt snapshot carried by a payment event.
type PaymentData struct {
	OrderReference    string     `json:"orderReference"`
	Amount            int64      `json:"amount"`
	State             string     `json:"state"`
	ResponseCode      string     `json:"responseCode,omitempty"`
	TransactionStatus string     `json:"transactionStatus,omitempty"`
	TransactionNo     string     `json:"transactionNo,omitempty"`
	BankCode          string     `json:"bankCode,omitempty"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
}

// NewPaymentEvent builds the event for an attempt that just resolved. It
// returns false while the attempt is still pending.
func NewPaymentEvent(a *payments.Attempt, now time.Time) (*Event, bool) {
	eventType, ok := EventTypeFor(a.State)
	if !ok {
		return nil, false
	}
	return &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: now,
		Data: PaymentData{
			OrderReference:    a.OrderReference,
			Amount:            a.Amount,
			State:             string(a.State),
			ResponseCode:      a.ResponseCode,
			TransactionStatus: a.TransactionStatus,
			TransactionNo:     a.TransactionNo,
			BankCode:          a.BankCode,
			ResolvedAt:        a.ResolvedAt,
		},
	}, true
}

// Endpoint is one merchant URL that receives every payment event.
type Endpoint struct {
	URL    string
	Secret string
}

// Sign returns the X-Paygate-Signature value for body sent at timestamp.
func Sign(secret string, timestamp int64, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte("."))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a received delivery. Merchant receivers call it with the
// raw request body and the two X-Paygate headers. A zero tolerance skips
// the timestamp window.
func Verify(secret, timestampHeader string, body []byte, signature string, now time.Time, tolerance time.Duration) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestampHeader), 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	expected := Sign(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleTimestamp
		}
	}
	return nil
}
