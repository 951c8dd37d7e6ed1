package vnpay

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Thanh toán đơn hàng #123", "Thanh toan don hang 123"},
		{"Đặt cọc bảo hành", "Dat coc bao hanh"},
		{"  Hello,,,  World!! ", "Hello World"},
		{"Order #42 (gift)", "Order 42 gift"},
		{"über café", "uber cafe"},
		{"日本語", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDescription(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeDescription_TruncatesToGatewayLimit(t *testing.T) {
	long := strings.Repeat("ab ", 200)
	got := NormalizeDescription(long)
	assert.LessOrEqual(t, len(got), MaxDescriptionLen)
	assert.False(t, strings.HasSuffix(got, " "))
}

func TestFormatTimestamp_PinnedZone(t *testing.T) {
	utc := time.Date(2024, 1, 1, 17, 30, 5, 0, time.UTC)
	assert.Equal(t, "20240102003005", FormatTimestamp(utc))

	// The input's own zone does not matter, only the instant.
	ny := utc.In(time.FixedZone("EST", -5*60*60))
	assert.Equal(t, "20240102003005", FormatTimestamp(ny))
}

func TestParseTimestamp_RoundTrip(t *testing.T) {
	ts, err := ParseTimestamp("20240102003005")
	assert.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 1, 1, 17, 30, 5, 0, time.UTC)))
	assert.Equal(t, "20240102003005", FormatTimestamp(ts))

	_, err = ParseTimestamp("2024-01-02")
	assert.Error(t, err)
}
