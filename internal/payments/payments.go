// Package payments owns order payment state for VNPay attempts.
//
// Flow:
//  1. CreatePayment persists a pending attempt and returns its signed URL
//  2. Return and IPN callbacks are verified by the vnpay package
//  3. The Reconciler moves a pending attempt to exactly one terminal state
//  4. The Timer expires attempts nobody reconciled before their deadline
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAttemptNotFound    = errors.New("payments: attempt not found")
	ErrDuplicateReference = errors.New("payments: order reference already used")
)

// State is the payment state of an order attempt.
type State string

const (
	StatePending   State = "pending"
	StatePaid      State = "paid"
	StateFailed    State = "failed"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s State) IsTerminal() bool {
	switch s {
	case StatePaid, StateFailed, StateExpired, StateCancelled:
		return true
	}
	return false
}

// Attempt is one payment attempt for an order.
type Attempt struct {
	OrderReference    string     `json:"orderReference"`
	Amount            int64      `json:"amount"`
	Description       string     `json:"description"`
	Locale            string     `json:"locale"`
	ClientIP          string     `json:"clientIp"`
	PaymentURL        string     `json:"paymentUrl,omitempty"`
	State             State      `json:"state"`
	ResponseCode      string     `json:"responseCode,omitempty"`
	TransactionStatus string     `json:"transactionStatus,omitempty"`
	TransactionNo     string     `json:"transactionNo,omitempty"`
	BankCode          string     `json:"bankCode,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the attempt is in a final state.
func (a *Attempt) IsTerminal() bool {
	return a.State.IsTerminal()
}

// Resolution carries the gateway details stored with a transition.
type Resolution struct {
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
}

// CallbackRecord is one logged callback delivery, valid or not.
type CallbackRecord struct {
	ID                string            `json:"id"`
	OrderReference    string            `json:"orderReference"`
	Channel           string            `json:"channel"`
	Reason            string            `json:"reason"`
	ResponseCode      string            `json:"responseCode,omitempty"`
	TransactionStatus string            `json:"transactionStatus,omitempty"`
	TransactionNo     string            `json:"transactionNo,omitempty"`
	Params            map[string]string `json:"params"`
	ReceivedAt        time.Time         `json:"receivedAt"`
}

// Store persists attempts and the callback log.
type Store interface {
	Create(ctx context.Context, attempt *Attempt) error
	Get(ctx context.Context, orderReference string) (*Attempt, error)

	// Transition moves a pending attempt to state as one atomic step. It
	// returns the attempt as stored afterwards and whether this call made
	// the change; a non-pending attempt is returned unchanged.
	Transition(ctx context.Context, orderReference string, to State, res Resolution, at time.Time) (*Attempt, bool, error)

	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Attempt, error)

	RecordCallback(ctx context.Context, rec *CallbackRecord) error
	ListCallbacks(ctx context.Context, orderReference string, limit int) ([]*CallbackRecord, error)
}

// Notifier is told about every state change the Reconciler makes.
type Notifier interface {
	PaymentStateChanged(attempt *Attempt)
}

// Notifiers fans one state change out to several notifiers in order.
type Notifiers []Notifier

// PaymentStateChanged implements Notifier.
func (ns Notifiers) PaymentStateChanged(attempt *Attempt) {
	for _, n := range ns {
		if n != nil {
			n.PaymentStateChanged(attempt)
		}
	}
}
