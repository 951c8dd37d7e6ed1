package vnpay

import (
	"sort"
	"strings"
)

// Pair is one encoded key/value of a canonical parameter set.
type Pair struct {
	Key   string
	Value string
}

// CanonicalSet is the sorted, encoded form of a parameter map. It is the
// exact input the gateway hashes, so two sets built from the same map are
// byte-identical.
type CanonicalSet []Pair

// Canonicalize encodes every non-empty parameter and sorts the pairs by
// encoded key. Keys are compared after encoding: the gateway sorts the
// encoded form, and escaping can reorder keys holding reserved characters.
func Canonicalize(params map[string]string) CanonicalSet {
	set := make(CanonicalSet, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		set = append(set, Pair{
			Key:   encodeComponent(k),
			Value: strings.ReplaceAll(encodeComponent(v), "%20", "+"),
		})
	}
	sort.Slice(set, func(i, j int) bool {
		return set[i].Key < set[j].Key
	})
	return set
}

// String joins the set as key=value&key=value. Components are already
// encoded and are written verbatim.
func (c CanonicalSet) String() string {
	var b strings.Builder
	for i, p := range c {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Get returns the encoded value stored under an encoded key.
func (c CanonicalSet) Get(key string) (string, bool) {
	for _, p := range c {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// With returns a copy of the set with one extra pair appended at the end.
// The pair is not re-sorted; this is how the signature rides on the URL.
func (c CanonicalSet) With(key, value string) CanonicalSet {
	out := make(CanonicalSet, len(c), len(c)+1)
	copy(out, c)
	return append(out, Pair{Key: encodeComponent(key), Value: encodeComponent(value)})
}

const upperHex = "0123456789ABCDEF"

// encodeComponent escapes s the way browsers' encodeURIComponent does:
// everything except A-Z a-z 0-9 and -_.!~*'() becomes %XX over its UTF-8
// bytes. net/url has no mode with this exact unreserved set (QueryEscape
// also escapes !*'() and writes spaces as +).
func encodeComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	buf := make([]byte, 0, len(s)+2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			buf = append(buf, c)
			continue
		}
		buf = append(buf, '%', upperHex[c>>4], upperHex[c&15])
	}
	return string(buf)
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
