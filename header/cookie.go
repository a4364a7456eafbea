package header

import (
	"strings"
	"time"
)

// RequestCookies parses a Cookie header into name→value, splitting on ';'
// and each pair on the first '=' (§4.2).
func RequestCookies(cookieHeader string) map[string]string {
	out := make(map[string]string)
	if cookieHeader == "" {
		return out
	}
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out
}

// SameSite mirrors the attribute of the same name in RFC 6265bis.
type SameSite int

const (
	SameSiteDefaultMode SameSite = iota
	SameSiteLaxMode
	SameSiteStrictMode
	SameSiteNoneMode
)

func (s SameSite) String() string {
	switch s {
	case SameSiteLaxMode:
		return "Lax"
	case SameSiteStrictMode:
		return "Strict"
	case SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}

// Cookie is one entry of the Response's ordered cookie sequence (§3).
type Cookie struct {
	Name     string
	Value    string
	Path     string
	Domain   string
	Expires  time.Time
	MaxAge   int // 0 = unset, <0 = delete now, >0 = seconds
	Secure   bool
	HttpOnly bool
	SameSite SameSite
}

// String renders the Set-Cookie header value for c.
func (c Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format(time.RFC1123))
	}
	if c.MaxAge != 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(maxAgeString(c.MaxAge))
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}
	if s := c.SameSite.String(); s != "" {
		b.WriteString("; SameSite=")
		b.WriteString(s)
	}
	return b.String()
}

func maxAgeString(n int) string {
	if n < 0 {
		return "0"
	}
	// small, allocation-free itoa for the common positive-seconds case
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
