// Package route compiles the {segment} route-template grammar of §4.6
// into anchored regexes with typed capture groups and a deterministic
// precedence score.
package route

import (
	"fmt"
	"regexp"
	"strings"
)

// Variable describes one named capture in a compiled template.
type Variable struct {
	Name     string
	Required bool
	Default  string // only meaningful when Required is false
}

// Compiled is the output of compiling one route template (§4.6).
type Compiled struct {
	Source     string
	Regexp     *regexp.Regexp
	Variables  []Variable
	Precedence int
}

// VariableDefault looks up the declared default for a template variable.
func (c *Compiled) VariableDefault(name string) (string, bool) {
	for _, v := range c.Variables {
		if v.Name == name {
			return v.Default, !v.Required
		}
	}
	return "", false
}

// Compile parses a route template and produces its regex, its ordered
// variable list, and its precedence score.
//
// Grammar:
//   - literal segments match themselves case-insensitively unless
//     caseSensitive is true
//   - {name} matches [^/]+ and is a required capture
//   - {name=default} matches [^/]+; if absent, default is injected
//   - {*name} matches the rest of the path including '/'; only legal in
//     the last segment
//   - [...] marks an optional group; every capture inside becomes optional
//   - a trailing '/' is normalized away
func Compile(template string, caseSensitive bool) (*Compiled, error) {
	template = strings.TrimSuffix(template, "/")
	if template == "" {
		template = "/"
	}
	p := &parser{src: template, caseSensitive: caseSensitive}
	body, err := p.parseSequence(false)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("route: unexpected trailing input at %d in %q", p.pos, template)
	}
	pattern := "^" + body + "$"
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("route: could not compile %q: %w", template, err)
	}
	score := precedence(p.literalSegments, p.captureCount, p.terminalStar)
	return &Compiled{
		Source:     template,
		Regexp:     re,
		Variables:  p.vars,
		Precedence: score,
	}, nil
}

func precedence(literalSegments, captures int, terminalStar bool) int {
	score := literalSegments*1000 - captures*10
	if terminalStar {
		score--
	}
	return score
}

type parser struct {
	src             string
	pos             int
	caseSensitive   bool
	vars            []Variable
	literalSegments int
	captureCount    int
	terminalStar    bool
	inOptional      int
}

// parseSequence parses a run of literal/segment/optional-group tokens
// until the end of input or (if inGroup) a closing ']'.
func (p *parser) parseSequence(inGroup bool) (string, error) {
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if inGroup && c == ']' {
			return b.String(), nil
		}
		switch c {
		case '[':
			p.pos++
			p.inOptional++
			inner, err := p.parseSequence(true)
			p.inOptional--
			if err != nil {
				return "", err
			}
			if p.pos >= len(p.src) || p.src[p.pos] != ']' {
				return "", fmt.Errorf("route: unterminated '[' in %q", p.src)
			}
			p.pos++
			b.WriteString("(?:")
			b.WriteString(inner)
			b.WriteString(")?")
		case '{':
			seg, bareDefault, err := p.parseCapture()
			if err != nil {
				return "", err
			}
			if bareDefault {
				// A defaulted capture outside any [...] group is still
				// optional (§4.6): fold the preceding literal '/', if any,
				// into the optional group so the whole segment — not just
				// the capture — may be absent.
				cur := b.String()
				if strings.HasSuffix(cur, "/") {
					b.Reset()
					b.WriteString(strings.TrimSuffix(cur, "/"))
					b.WriteString("(?:/")
					b.WriteString(seg)
					b.WriteString(")?")
				} else {
					b.WriteString("(?:")
					b.WriteString(seg)
					b.WriteString(")?")
				}
			} else {
				b.WriteString(seg)
			}
		default:
			lit, isLastSeg := p.parseLiteral()
			b.WriteString(lit)
			_ = isLastSeg
		}
	}
	return b.String(), nil
}

// parseLiteral consumes a run of literal text up to the next '{', '[',
// ']', counting each '/'-delimited run as a literal segment for the
// precedence score.
func (p *parser) parseLiteral() (string, bool) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '{' || c == '[' || c == ']' {
			break
		}
		p.pos++
	}
	raw := p.src[start:p.pos]
	if raw == "" {
		return "", false
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg != "" {
			p.literalSegments++
		}
	}
	return regexp.QuoteMeta(raw), false
}

// parseCapture parses one {name}, {name=default}, or {*name} token. The
// second return value reports whether this is a defaulted capture declared
// outside any [...] group — the caller folds the surrounding literal into
// an optional group for those, since a bare {name=default} is itself
// allowed to be absent (§4.6).
func (p *parser) parseCapture() (string, bool, error) {
	end := strings.IndexByte(p.src[p.pos:], '}')
	if end < 0 {
		return "", false, fmt.Errorf("route: unterminated '{' in %q", p.src)
	}
	inner := p.src[p.pos+1 : p.pos+end]
	p.pos += end + 1

	required := p.inOptional == 0
	if strings.HasPrefix(inner, "*") {
		name := inner[1:]
		if strings.Trim(p.src[p.pos:], "]") != "" {
			return "", false, fmt.Errorf("route: {*%s} must be the last segment in %q", name, p.src)
		}
		p.vars = append(p.vars, Variable{Name: name, Required: required})
		p.captureCount++
		p.terminalStar = true
		return fmt.Sprintf("(?P<%s>.*)", sanitizeGroupName(name)), false, nil
	}
	name := inner
	def := ""
	hasDefault := false
	if eq := strings.IndexByte(inner, '='); eq >= 0 {
		name = inner[:eq]
		def = inner[eq+1:]
		hasDefault = true
	}
	bareDefault := hasDefault && p.inOptional == 0
	if hasDefault {
		required = false
	}
	p.vars = append(p.vars, Variable{Name: name, Required: required, Default: def})
	p.captureCount++
	return fmt.Sprintf("(?P<%s>[^/]+)", sanitizeGroupName(name)), bareDefault, nil
}

// sanitizeGroupName makes a route variable name safe as a Go regexp named
// group (which forbids characters outside [A-Za-z0-9_]).
func sanitizeGroupName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Match reports whether path satisfies the compiled template, returning
// the named captures present (absent optional captures are omitted, the
// caller substitutes declared defaults).
func (c *Compiled) Match(path string) (map[string]string, bool) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	m := c.Regexp.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	names := c.Regexp.SubexpNames()
	captures := make(map[string]string)
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		if i < len(m) && m[i] != "" {
			captures[name] = m[i]
		}
	}
	return captures, true
}
