// Package vnpay implements the VNPay redirect payment protocol: canonical
// query encoding, HMAC-SHA512 secure hashes, signed payment URLs, and
// verification of Return and IPN callbacks.
//
// Flow:
//  1. Builder signs a payment URL for a pending order attempt
//  2. Browser is redirected to the gateway (caller's job)
//  3. Gateway calls back on the Return (browser) and IPN (server) channels
//  4. Verifier classifies each callback; reconciliation happens elsewhere
package vnpay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptySecret       = errors.New("vnpay: hash secret is required")
	ErrEmptyMerchantCode = errors.New("vnpay: merchant code is required")
	ErrInvalidRequest    = errors.New("vnpay: invalid payment request")
	ErrAttemptNotFound   = errors.New("vnpay: payment attempt not found")
)

// Protocol constants for the pay command.
const (
	Version           = "2.1.0"
	CommandPay        = "pay"
	CurrencyVND       = "VND"
	DefaultLocale     = "vn"
	DefaultOrderType  = "other"
	AmountScale       = 100
	DefaultExpiry     = 45 * time.Minute
	MaxDescriptionLen = 255
)

// Query parameter names.
const (
	ParamVersion           = "vnp_Version"
	ParamCommand           = "vnp_Command"
	ParamTmnCode           = "vnp_TmnCode"
	ParamLocale            = "vnp_Locale"
	ParamCurrCode          = "vnp_CurrCode"
	ParamTxnRef            = "vnp_TxnRef"
	ParamOrderInfo         = "vnp_OrderInfo"
	ParamOrderType         = "vnp_OrderType"
	ParamAmount            = "vnp_Amount"
	ParamReturnURL         = "vnp_ReturnUrl"
	ParamIPAddr            = "vnp_IpAddr"
	ParamCreateDate        = "vnp_CreateDate"
	ParamSecureHash        = "vnp_SecureHash"
	ParamSecureHashType    = "vnp_SecureHashType"
	ParamResponseCode      = "vnp_ResponseCode"
	ParamTransactionStatus = "vnp_TransactionStatus"
	ParamTransactionNo     = "vnp_TransactionNo"
	ParamBankCode          = "vnp_BankCode"
	ParamBankTranNo        = "vnp_BankTranNo"
	ParamCardType          = "vnp_CardType"
	ParamPayDate           = "vnp_PayDate"
)

// PaymentRequest describes one payment attempt for an order.
type PaymentRequest struct {
	OrderReference string
	Amount         int64 // VND; scaled by AmountScale on the wire
	Description    string
	Locale         string
	OrderType      string
	ClientIP       string
	CreatedAt      time.Time // zero means "now" per the builder's clock
}

// SignedPayment is the immutable result of building a payment URL.
type SignedPayment struct {
	URL            string
	OrderReference string
	Amount         int64
	Description    string // normalized
	Params         CanonicalSet
	Signature      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// ValidationError reports a rejected PaymentRequest field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vnpay: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// Channel is the delivery path of a callback.
type Channel string

const (
	ChannelReturn Channel = "return"
	ChannelIPN    Channel = "ipn"
)

// CallbackPayload is the raw parameter map of an inbound callback.
type CallbackPayload map[string]string

// Reason classifies a verification outcome.
type Reason string

const (
	ReasonOK                Reason = "ok"
	ReasonSignatureMismatch Reason = "signature-mismatch"
	ReasonMissingFields     Reason = "missing-fields"
	ReasonAmountMismatch    Reason = "amount-mismatch"
	ReasonUnknownReference  Reason = "unknown-reference"
	ReasonExpired           Reason = "expired"
)

// Callback holds the fields of a callback the rest of the system cares about.
type Callback struct {
	OrderReference    string `json:"orderReference"`
	Amount            int64  `json:"amount"` // VND, unscaled
	ResponseCode      string `json:"responseCode"`
	TransactionStatus string `json:"transactionStatus"`
	TransactionNo     string `json:"transactionNo,omitempty"`
	BankCode          string `json:"bankCode,omitempty"`
	PayDate           string `json:"payDate,omitempty"`
}

// Status is the gateway's verdict carried by a callback.
func (c Callback) Status() GatewayStatus {
	return GatewayStatus{ResponseCode: c.ResponseCode, TransactionStatus: c.TransactionStatus}
}

// VerificationResult is the Verifier's classification of one callback.
// Exactly one Reason is set; Valid is true only for ReasonOK.
type VerificationResult struct {
	Valid    bool     `json:"valid"`
	Reason   Reason   `json:"reason"`
	Callback Callback `json:"callback"`
}

// Attempt is the stored view of a payment attempt the Verifier checks
// callbacks against.
type Attempt struct {
	OrderReference string
	Amount         int64
	ExpiresAt      time.Time
}

// AttemptLookup finds the stored attempt for an order reference. It returns
// ErrAttemptNotFound when no attempt exists.
type AttemptLookup interface {
	LookupAttempt(ctx context.Context, orderReference string) (*Attempt, error)
}
