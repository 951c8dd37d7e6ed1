package vnpay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// requiredCallbackFields must be present and non-empty before any hash is
// computed.
var requiredCallbackFields = []string{
	ParamTxnRef,
	ParamAmount,
	ParamResponseCode,
	ParamTransactionStatus,
	ParamSecureHash,
}

// Verifier authenticates Return and IPN callbacks. It only classifies
// payloads and never changes order state.
type Verifier struct {
	signer   *Signer
	attempts AttemptLookup
	now      func() time.Time
}

// NewVerifier creates a verifier backed by the attempt lookup.
func NewVerifier(signer *Signer, attempts AttemptLookup) *Verifier {
	return &Verifier{signer: signer, attempts: attempts, now: time.Now}
}

// WithClock overrides the verifier's time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify classifies payload. Checks run in a fixed order (missing fields,
// signature, reference, amount, expiry) and the first failure wins.
// The error return is reserved for lookup failures.
func (v *Verifier) Verify(ctx context.Context, payload CallbackPayload) (VerificationResult, error) {
	for _, k := range requiredCallbackFields {
		if payload[k] == "" {
			return VerificationResult{Reason: ReasonMissingFields, Callback: extractCallback(payload)}, nil
		}
	}

	cb := extractCallback(payload)
	if !v.signer.Verify(Canonicalize(SignedFields(payload)), payload[ParamSecureHash]) {
		return VerificationResult{Reason: ReasonSignatureMismatch, Callback: cb}, nil
	}

	attempt, err := v.attempts.LookupAttempt(ctx, cb.OrderReference)
	if errors.Is(err, ErrAttemptNotFound) {
		return VerificationResult{Reason: ReasonUnknownReference, Callback: cb}, nil
	}
	if err != nil {
		return VerificationResult{}, fmt.Errorf("vnpay: lookup attempt %q: %w", cb.OrderReference, err)
	}

	scaled, err := strconv.ParseInt(payload[ParamAmount], 10, 64)
	if err != nil || scaled != attempt.Amount*AmountScale {
		return VerificationResult{Reason: ReasonAmountMismatch, Callback: cb}, nil
	}

	if v.now().After(attempt.ExpiresAt) {
		return VerificationResult{Reason: ReasonExpired, Callback: cb}, nil
	}

	return VerificationResult{Valid: true, Reason: ReasonOK, Callback: cb}, nil
}

// SignedFields returns the callback parameters covered by the secure hash:
// everything except the hash and its type marker.
func SignedFields(payload CallbackPayload) map[string]string {
	out := make(map[string]string, len(payload))
	for k, val := range payload {
		if k == ParamSecureHash || k == ParamSecureHashType {
			continue
		}
		out[k] = val
	}
	return out
}

func extractCallback(p CallbackPayload) Callback {
	cb := Callback{
		OrderReference:    p[ParamTxnRef],
		ResponseCode:      p[ParamResponseCode],
		TransactionStatus: p[ParamTransactionStatus],
		TransactionNo:     p[ParamTransactionNo],
		BankCode:          p[ParamBankCode],
		PayDate:           p[ParamPayDate],
	}
	if scaled, err := strconv.ParseInt(p[ParamAmount], 10, 64); err == nil {
		cb.Amount = scaled / AmountScale
	}
	return cb
}
