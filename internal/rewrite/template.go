package rewrite

import (
	"strings"
)

// part is either literal text or a reference to a placeholder value.
type part struct {
	literal string
	index   int // -1 for literal parts
}

type template []part

// parseTemplate resolves the placeholder references of a destination.
//
// :name and ${name} refer to a placeholder by name, $1..$9 by position.
// References to unknown names are kept as literal text.
func parseTemplate(dest string, params []string) template {
	byName := make(map[string]int, len(params))
	for i, name := range params {
		if name != "" {
			byName[name] = i
		}
	}

	var (
		t   template
		lit strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			t = append(t, part{literal: lit.String(), index: -1})
			lit.Reset()
		}
	}
	ref := func(i int) {
		flush()
		t = append(t, part{index: i})
	}

	for i := 0; i < len(dest); {
		switch {
		case dest[i] == ':':
			name, n := readName(dest[i+1:])
			if idx, ok := byName[name]; ok {
				ref(idx)
				i += 1 + n
				continue
			}
		case strings.HasPrefix(dest[i:], "${"):
			if end := strings.IndexByte(dest[i:], '}'); end > 0 {
				if idx, ok := byName[dest[i+2:i+end]]; ok {
					ref(idx)
					i += end + 1
					continue
				}
			}
		case dest[i] == '$' && i+1 < len(dest) && '1' <= dest[i+1] && dest[i+1] <= '9':
			if idx := int(dest[i+1] - '1'); idx < len(params) {
				ref(idx)
				i += 2
				continue
			}
		}
		lit.WriteByte(dest[i])
		i++
	}
	flush()
	return t
}

func (t template) expand(values []string) string {
	var sb strings.Builder
	for _, p := range t {
		if p.index < 0 {
			sb.WriteString(p.literal)
			continue
		}
		sb.WriteString(values[p.index])
	}
	return sb.String()
}
