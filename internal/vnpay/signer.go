package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// Signer computes HMAC-SHA512 secure hashes over canonical parameter sets.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the merchant hash secret. An empty secret is
// a configuration error: nothing may ever be signed with a zero key.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the lowercase hex HMAC-SHA512 of the serialized set.
func (s *Signer) Sign(set CanonicalSet) string {
	return s.SignString(set.String())
}

// SignString hashes an already serialized canonical string.
func (s *Signer) SignString(data string) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the hash of set and compares it with supplied in
// constant time.
func (s *Signer) Verify(set CanonicalSet, supplied string) bool {
	return Equal(s.Sign(set), supplied)
}

// Equal compares two hex digests in constant time. Gateways are inconsistent
// about hex case, so the supplied value is lowercased first.
func Equal(expected, supplied string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(supplied)))
}
