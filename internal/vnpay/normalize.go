package vnpay

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeDescription reduces order text to the character set the gateway
// signs reliably: diacritics stripped, anything outside [A-Za-z0-9 ] turned
// into a space, runs of spaces collapsed.
func NormalizeDescription(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	space := true // drops leading spaces
	for _, r := range stripped {
		switch {
		case r == 'đ':
			r = 'd'
		case r == 'Đ':
			r = 'D'
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}

	out := strings.TrimRight(b.String(), " ")
	if len(out) > MaxDescriptionLen {
		out = strings.TrimRight(out[:MaxDescriptionLen], " ")
	}
	return out
}
