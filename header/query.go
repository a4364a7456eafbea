package header

import "strings"

// Values maps each name to its latest value, used for both query strings
// and url-encoded form bodies (§3 "parsed query (mapping name→latest
// value)"). Earlier values for a repeated name are not kept.
type Values map[string]string

// ParseQuery decodes a raw query string with '+'→space semantics (form-url
// semantics, per §4.2), keeping the latest value for duplicate keys.
func ParseQuery(raw string) (Values, error) {
	return parseFormEncoded(raw)
}

// ParseFormBody decodes a urlencoded body the same way as ParseQuery; the
// two share semantics per §4.3.
func ParseFormBody(raw string) (Values, error) {
	return parseFormEncoded(raw)
}

func parseFormEncoded(raw string) (Values, error) {
	v := make(Values)
	if raw == "" {
		return v, nil
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		var key, val string
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
			val = pair[i+1:]
		} else {
			key = pair
		}
		dk, err := decodeFormValue(key)
		if err != nil {
			return nil, err
		}
		dv, err := decodeFormValue(val)
		if err != nil {
			return nil, err
		}
		v[dk] = dv
	}
	return v, nil
}

// decodeFormValue percent-decodes s with '+' mapped to a literal space.
func decodeFormValue(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '+':
			b.WriteByte(' ')
		case '%':
			if i+2 >= len(s) {
				return "", ErrBadRequestLine
			}
			hi, ok1 := hexVal(s[i+1])
			lo, ok2 := hexVal(s[i+2])
			if !ok1 || !ok2 {
				return "", ErrBadRequestLine
			}
			b.WriteByte(byte(hi<<4 | lo))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// Encode re-encodes v as a sorted, '&'-joined urlencoded string, the
// inverse of ParseQuery/ParseFormBody (§8 round-trip law).
func (v Values) Encode() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	// Stable, deterministic ordering without importing sort twice per call.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(encodeFormValue(k))
		b.WriteByte('=')
		b.WriteString(encodeFormValue(v[k]))
	}
	return b.String()
}

func encodeFormValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			b.WriteByte('+')
		case isUnreserved(c):
			b.WriteByte(c)
		default:
			const hex = "0123456789ABCDEF"
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xF])
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	}
	return false
}
