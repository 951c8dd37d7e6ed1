package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/paygate/internal/vnpay"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func buildURL(t *testing.T) string {
	t.Helper()
	out, err := run(t, "url",
		"--secret", "S3cr3t",
		"--merchant", "DEMOV210",
		"--return-url", "https://shop.example/payment/return",
		"--amount", "150000",
		"--ref", "ORD-CLI-1",
		"--desc", "Thanh toán đơn hàng",
	)
	require.NoError(t, err)
	return strings.TrimSpace(out)
}

func TestURL_BuildsSignedURL(t *testing.T) {
	u := buildURL(t)

	assert.True(t, strings.HasPrefix(u, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?"))
	assert.Contains(t, u, "vnp_Amount=15000000")
	assert.Contains(t, u, "vnp_TxnRef=ORD-CLI-1")
	assert.Contains(t, u, "vnp_SecureHash=")
}

func TestURL_RequiresSecret(t *testing.T) {
	t.Setenv("VNPAY_HASH_SECRET", "")
	_, err := run(t, "url", "--merchant", "DEMOV210", "--amount", "1000", "--desc", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash secret is required")
}

func TestVerify_RoundTrip(t *testing.T) {
	u := buildURL(t)

	out, err := run(t, "verify", "--secret", "S3cr3t", u)
	require.NoError(t, err)
	assert.Contains(t, out, "signature: valid")
	assert.Contains(t, out, "order:     ORD-CLI-1")
}

func TestVerify_Tampered(t *testing.T) {
	u := strings.Replace(buildURL(t), "vnp_Amount=15000000", "vnp_Amount=100", 1)

	out, err := run(t, "verify", "--secret", "S3cr3t", u)
	require.Error(t, err)
	assert.Contains(t, out, "signature: INVALID")
}

func TestVerify_WrongSecret(t *testing.T) {
	_, err := run(t, "verify", "--secret", "other", buildURL(t))
	assert.Error(t, err)
}

func TestSign_MatchesSigner(t *testing.T) {
	query := "vnp_TxnRef=ORD1&vnp_Amount=1000000&vnp_ResponseCode=00&vnp_OrderInfo=Nap+tien&vnp_SecureHash=ignored"

	out, err := run(t, "sign", "--secret", "S3cr3t", query)
	require.NoError(t, err)

	signer, err := vnpay.NewSigner("S3cr3t")
	require.NoError(t, err)
	set := vnpay.Canonicalize(map[string]string{
		"vnp_TxnRef":       "ORD1",
		"vnp_Amount":       "1000000",
		"vnp_ResponseCode": "00",
		"vnp_OrderInfo":    "Nap tien",
	})
	assert.Contains(t, out, "canonical: vnp_Amount=1000000&vnp_OrderInfo=Nap+tien&vnp_ResponseCode=00&vnp_TxnRef=ORD1")
	assert.Contains(t, out, "hash:      "+signer.Sign(set))
}

func TestParsePayload(t *testing.T) {
	p, err := parsePayload("https://shop.example/return?vnp_TxnRef=A&vnp_TxnRef=B&vnp_Amount=100")
	require.NoError(t, err)
	assert.Equal(t, "A", p["vnp_TxnRef"])
	assert.Equal(t, "100", p["vnp_Amount"])

	_, err = parsePayload("vnp_TxnRef=%zz")
	assert.Error(t, err)
}
