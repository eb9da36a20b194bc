// Package rewrite compiles path rewrite rules and applies them to request paths.
package rewrite

import (
	"errors"
	"log/slog"
	"strings"

	"contents-proxy-go/internal/config"
)

// ErrInvalidPattern is returned when a rule's source pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid rewrite pattern")

// Rule is one compiled {source, dest} pair.
type Rule struct {
	Source string
	Dest   string

	pattern  *pattern
	template template
}

// CompileRule compiles a single rule definition.
func CompileRule(def config.RewriteRule) (*Rule, error) {
	p, err := compilePattern(def.Source)
	if err != nil {
		return nil, err
	}
	return &Rule{
		Source:   def.Source,
		Dest:     def.Dest,
		pattern:  p,
		template: parseTemplate(def.Dest, p.params),
	}, nil
}

// Apply rewrites path if the rule matches it. Only the part before '?' is
// matched; the query string is carried over when the destination has none.
func (r *Rule) Apply(path string) (string, bool) {
	p, query, hasQuery := strings.Cut(path, "?")
	values, ok := r.pattern.match(p)
	if !ok {
		return path, false
	}
	out := r.template.expand(values)
	if hasQuery && !strings.Contains(out, "?") {
		out += "?" + query
	}
	return out, true
}

// RuleSet is an ordered, immutable list of rules. It is safe for concurrent use.
type RuleSet struct {
	rules []*Rule
}

// Compile builds a RuleSet from definitions in declaration order.
// Definitions that fail to compile are logged and skipped.
func Compile(defs []config.RewriteRule, logger *slog.Logger) *RuleSet {
	rs := &RuleSet{rules: make([]*Rule, 0, len(defs))}
	for i, def := range defs {
		rule, err := CompileRule(def)
		if err != nil {
			logger.Warn("dropping rewrite rule",
				"index", i,
				"source", def.Source,
				"dest", def.Dest,
				"err", err,
			)
			continue
		}
		rs.rules = append(rs.rules, rule)
	}
	return rs
}

// Match returns the destination of the first rule matching path, or path
// unchanged when no rule matches.
func (rs *RuleSet) Match(path string) (string, bool) {
	if rs == nil {
		return path, false
	}
	for _, r := range rs.rules {
		if out, ok := r.Apply(path); ok {
			return out, true
		}
	}
	return path, false
}

// Len returns the number of usable rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Rules returns the compiled rules in order.
func (rs *RuleSet) Rules() []*Rule {
	if rs == nil {
		return nil
	}
	return append([]*Rule(nil), rs.rules...)
}
