// Package header parses and represents HTTP request lines, headers,
// cookies, and query strings.
package header

import (
	"bufio"
	"fmt"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Header is a case-insensitive mapping of header names to their values.
// Duplicates keep the latest value, per the header parsing policy.
type Header map[string]string

// New returns an empty Header.
func New() Header {
	return make(Header)
}

// Set stores v under the canonical form of k, replacing any prior value.
func (h Header) Set(k, v string) {
	h[textproto.CanonicalMIMEHeaderKey(k)] = v
}

// Get returns the value stored under the canonical form of k.
func (h Header) Get(k string) string {
	return h[textproto.CanonicalMIMEHeaderKey(k)]
}

// Has reports whether k is present.
func (h Header) Has(k string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(k)]
	return ok
}

// Del removes k.
func (h Header) Del(k string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(k))
}

// Keys returns the header names in sorted order.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of h.
func (h Header) Clone() Header {
	nh := make(Header, len(h))
	for k, v := range h {
		nh[k] = v
	}
	return nh
}

// ContentLength parses the Content-Length header, returning -1 if absent
// or malformed.
func (h Header) ContentLength() int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// ContentType returns the primary content-type token (lower-cased, no
// parameters) and its parameters, per §4.3's parsing rule: the primary
// type runs up to the first ';', ' ', or ',', parameters are split on ';'
// then on the first '='; quoted parameter values have their quotes
// stripped.
func (h Header) ContentType() (mediaType string, params map[string]string) {
	return ParseContentType(h.Get("Content-Type"))
}

// ParseContentType implements the §4.3 content-type grammar.
func ParseContentType(raw string) (mediaType string, params map[string]string) {
	params = make(map[string]string)
	if raw == "" {
		return "", params
	}
	cut := len(raw)
	for i, r := range raw {
		if r == ';' || r == ' ' || r == ',' {
			cut = i
			break
		}
	}
	mediaType = strings.ToLower(raw[:cut])
	rest := raw[cut:]
	for _, part := range strings.Split(rest, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:eq]))
		val := strings.TrimSpace(part[eq+1:])
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		params[key] = val
	}
	return mediaType, params
}

// Charset resolves the effective charset for a content-type: an explicit
// "charset" parameter wins; otherwise application/* defaults to UTF-8 and
// everything else defaults to US-ASCII.
func Charset(mediaType string, params map[string]string) string {
	if cs, ok := params["charset"]; ok && cs != "" {
		return cs
	}
	if strings.HasPrefix(mediaType, "application/") {
		return "utf-8"
	}
	return "us-ascii"
}

// DecodeToUTF8 transcodes raw from charset into UTF-8 (§4.3 "non-UTF-8
// charset parameters are decoded before the body is otherwise parsed"),
// resolving the IANA name via golang.org/x/text/encoding/htmlindex. UTF-8
// and US-ASCII are passed through unchanged; an unrecognized charset name
// is treated as UTF-8 rather than rejected, matching browsers' own lenient
// fallback.
func DecodeToUTF8(charset string, raw []byte) ([]byte, error) {
	lower := strings.ToLower(strings.TrimSpace(charset))
	if lower == "" || lower == "utf-8" || lower == "us-ascii" || lower == "ascii" {
		return raw, nil
	}
	enc, err := htmlindex.Get(lower)
	if err != nil {
		return raw, nil
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("header: could not decode %s body: %w", charset, err)
	}
	return out, nil
}

// RequestLine is the parsed `METHOD SP request-target SP HTTP/x.y` line.
type RequestLine struct {
	Method      string
	Path        string // percent-decoded, no query
	OriginalRaw string // request-target verbatim, pre-split
	RawQuery    string
	Version     string
}

// ErrBadRequestLine is returned when the request line does not match
// `METHOD SP request-target SP HTTP/x.y`.
var ErrBadRequestLine = fmt.Errorf("header: malformed request line")

// ParseRequestLine parses one request line. The HTTP version is accepted
// as any non-empty string; no version enforcement happens here (§4.2
// policy decision).
func ParseRequestLine(line string) (RequestLine, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return RequestLine{}, ErrBadRequestLine
	}
	method := parts[0]
	target := parts[1]
	version := parts[2]
	if method == "" || target == "" || version == "" {
		return RequestLine{}, ErrBadRequestLine
	}
	rawPath := target
	rawQuery := ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		rawPath = target[:i]
		rawQuery = target[i+1:]
	}
	decodedPath, err := decodePathSegment(rawPath)
	if err != nil || !strings.HasPrefix(decodedPath, "/") {
		return RequestLine{}, ErrBadRequestLine
	}
	return RequestLine{
		Method:      method,
		Path:        decodedPath,
		OriginalRaw: target,
		RawQuery:    rawQuery,
		Version:     version,
	}, nil
}

// decodePathSegment percent-decodes a path, leaving '+' untouched (the
// path does not use form-url '+'-as-space semantics, only the query does).
func decodePathSegment(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' {
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
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

func hexVal(c byte) (int, bool) {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0'), true
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10, true
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

// ParseHeaderLine parses one `name ":" OWS value OWS` line. Returns ok=false
// if the line has no colon.
func ParseHeaderLine(line string) (name, value string, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", "", false
	}
	name = line[:i]
	value = strings.TrimSpace(line[i+1:])
	return name, value, true
}

// ReadHeaders reads header lines from r until a blank line, storing the
// latest value for duplicate names. The caller is expected to have already
// bounded r with the framing reader's size/time limits; this function only
// implements the line-to-map semantics.
func ReadHeaders(r *bufio.Reader, h Header) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return nil
		}
		name, value, ok := ParseHeaderLine(trimmed)
		if !ok {
			return fmt.Errorf("header: malformed header line %q", trimmed)
		}
		h.Set(name, value)
	}
}
