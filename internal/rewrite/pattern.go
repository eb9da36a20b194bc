package rewrite

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dimfeld/httppath"
)

// defaultSegment is what an unconstrained :name placeholder may bind to.
// It never crosses a path separator or the start of a query string.
const defaultSegment = `[a-zA-Z0-9\-_.~%':|=+*@$ ]+`

// pattern is a compiled source pattern.
type pattern struct {
	rx     *regexp.Regexp
	params []string // placeholder names in declaration order; "" for an unnamed splat
}

// compilePattern translates a path pattern into an anchored regexp.
//
// Supported tokens:
//
//	:name         one path segment
//	:name<regex>  one placeholder constrained by regex
//	*name, *      the remainder of the path, slashes included
//
// Everything else matches literally.
func compilePattern(source string) (*pattern, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidPattern)
	}
	if source[0] != '/' {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPattern, source)
	}
	source = httppath.Clean(source)

	var (
		sb     strings.Builder
		params []string
		seen   = make(map[string]bool)
	)
	sb.WriteString("^")

	for i := 0; i < len(source); {
		c := source[i]
		switch c {
		case ':':
			name, n := readName(source[i+1:])
			if name == "" {
				return nil, fmt.Errorf("%w: %q: placeholder without a name at offset %d", ErrInvalidPattern, source, i)
			}
			if seen[name] {
				return nil, fmt.Errorf("%w: %q: duplicate placeholder %q", ErrInvalidPattern, source, name)
			}
			seen[name] = true
			i += 1 + n

			constraint := defaultSegment
			if i < len(source) && source[i] == '<' {
				end := strings.IndexByte(source[i:], '>')
				if end < 0 {
					return nil, fmt.Errorf("%w: %q: unterminated constraint for %q", ErrInvalidPattern, source, name)
				}
				constraint = source[i+1 : i+end]
				if constraint == "" {
					return nil, fmt.Errorf("%w: %q: empty constraint for %q", ErrInvalidPattern, source, name)
				}
				i += end + 1
			}
			fmt.Fprintf(&sb, "(?P<p%d>%s)", len(params), constraint)
			params = append(params, name)
		case '*':
			name, n := readName(source[i+1:])
			if name != "" {
				if seen[name] {
					return nil, fmt.Errorf("%w: %q: duplicate placeholder %q", ErrInvalidPattern, source, name)
				}
				seen[name] = true
			}
			i += 1 + n
			fmt.Fprintf(&sb, "(?P<p%d>.*)", len(params))
			params = append(params, name)
		default:
			j := i
			for j < len(source) && source[j] != ':' && source[j] != '*' {
				j++
			}
			sb.WriteString(regexp.QuoteMeta(source[i:j]))
			i = j
		}
	}

	// Trailing slashes are not significant.
	sb.WriteString("/?$")

	rx, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, source, err)
	}
	return &pattern{rx: rx, params: params}, nil
}

// match returns the placeholder values in declaration order, or false.
func (p *pattern) match(path string) ([]string, bool) {
	m := p.rx.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	values := make([]string, len(p.params))
	for i := range p.params {
		values[i] = m[p.rx.SubexpIndex("p"+strconv.Itoa(i))]
	}
	return values, true
}

func readName(s string) (string, int) {
	n := 0
	for n < len(s) && isNameByte(s[n]) {
		n++
	}
	return s[:n], n
}

func isNameByte(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
