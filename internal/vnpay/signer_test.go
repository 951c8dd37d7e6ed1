package vnpay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSigner(t *testing.T, secret string) *Signer {
	t.Helper()
	s, err := NewSigner(secret)
	require.NoError(t, err)
	return s
}

func TestNewSigner_EmptySecret(t *testing.T) {
	s, err := NewSigner("")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestSigner_KnownVector(t *testing.T) {
	s := mustSigner(t, "S3cr3t")
	set := Canonicalize(map[string]string{
		"vnp_TxnRef": "ORD123",
		"vnp_Amount": "50000000",
	})

	assert.Equal(t,
		"d106d6aa76aa4ad91af8b9d344de4c5591f634871e1ce278d3b2985dbfd5f3760ebb333c66d3ccfc5af5d6d529165c7cea77547ce846a57e696e4e5a5b4b7192",
		s.Sign(set))
}

func TestSigner_EmptyMessage(t *testing.T) {
	s := mustSigner(t, "key")
	assert.Equal(t,
		"84fa5aa0279bbc473267d05a53ea03310a987cecc4c1535ff29b6d76b8f1444a728df3aadb89d4a9a6709e1998f373566e8f824a8ca93b1821f0b69bc2a2f65e",
		s.Sign(nil))
}

func TestSigner_DeterministicAndKeySensitive(t *testing.T) {
	set := Canonicalize(map[string]string{"vnp_TxnRef": "ORD123", "vnp_Amount": "100"})
	k1 := mustSigner(t, "secret-one")
	k2 := mustSigner(t, "secret-two")

	sig := k1.Sign(set)
	assert.Equal(t, sig, k1.Sign(set))
	assert.NotEqual(t, sig, k2.Sign(set))
	assert.Len(t, sig, 128)
	assert.Equal(t, strings.ToLower(sig), sig)
}

func TestSigner_Verify(t *testing.T) {
	s := mustSigner(t, "S3cr3t")
	set := Canonicalize(map[string]string{"vnp_TxnRef": "ORD123"})
	sig := s.Sign(set)

	assert.True(t, s.Verify(set, sig))
	assert.True(t, s.Verify(set, strings.ToUpper(sig)), "hex case must not matter")
	assert.False(t, s.Verify(set, sig[:len(sig)-1]+"0"))
	assert.False(t, s.Verify(set, ""))
}
