package normalize

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// Flags is the set of regex options a Rule compiles its pattern with. It is a
// value type; combining flags always yields a new set.
type Flags uint8

const (
	IgnoreCase Flags = 1 << iota
	Multiline
	Global
)

// ParseFlags reads a JavaScript style flag string such as "gim". Unknown
// letters are ignored.
func ParseFlags(s string) Flags {
	var f Flags
	for _, c := range s {
		switch c {
		case 'i':
			f |= IgnoreCase
		case 'm':
			f |= Multiline
		case 'g':
			f |= Global
		}
	}
	return f
}

func (f Flags) With(other Flags) Flags {
	return f | other
}

func (f Flags) Has(other Flags) bool {
	return f&other == other
}

func (f Flags) String() string {
	var sb strings.Builder
	if f.Has(Global) {
		sb.WriteByte('g')
	}
	if f.Has(IgnoreCase) {
		sb.WriteByte('i')
	}
	if f.Has(Multiline) {
		sb.WriteByte('m')
	}
	return sb.String()
}

func (f Flags) options() regexp2.RegexOptions {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	if f.Has(IgnoreCase) {
		opts |= regexp2.IgnoreCase
	}
	if f.Has(Multiline) {
		opts |= regexp2.Multiline
	}
	return opts
}

// RuleConfig is the wire form of a naming rule as sent by the collector in
// url_rules, metric_name_rules and transaction_name_rules. Every field is
// optional.
type RuleConfig struct {
	MatchExpression string `json:"match_expression"`
	Replacement     string `json:"replacement"`
	ReplaceAll      bool   `json:"replace_all"`
	EachSegment     bool   `json:"each_segment"`
	Ignore          bool   `json:"ignore"`
	TerminateChain  bool   `json:"terminate_chain"`
	EvalOrder       int    `json:"eval_order"`

	// Flags adds regex flags beyond the implicit case insensitivity. Only
	// locally configured rules set it.
	Flags string `json:"-"`
}

const (
	emptyPattern       = "^$"
	defaultReplacement = "$0"
)

// Rule is a single compiled naming rule. It is immutable once built and safe
// for concurrent use.
type Rule struct {
	pattern     *regexp2.Regexp
	source      string
	flags       Flags
	replacement string
	precedence  int
	terminal    bool
	eachSegment bool
	ignore      bool
}

// NewRule compiles a rule. A pattern that fails to compile is replaced by one
// that only matches the empty string; the error is returned alongside the
// usable rule so the caller can log it.
func NewRule(cfg RuleConfig) (*Rule, error) {
	r := &Rule{
		source:      cfg.MatchExpression,
		flags:       IgnoreCase.With(ParseFlags(cfg.Flags)),
		replacement: toReplacement(cfg.Replacement),
		precedence:  cfg.EvalOrder,
		terminal:    cfg.TerminateChain,
		eachSegment: cfg.EachSegment,
		ignore:      cfg.Ignore,
	}
	if cfg.ReplaceAll {
		r.flags = r.flags.With(Global)
	}
	if r.source == "" {
		r.source = emptyPattern
	}

	var compileErr error
	re, err := regexp2.Compile(r.source, r.flags.options())
	if err != nil {
		compileErr = fmt.Errorf("invalid naming rule pattern %q: %w", r.source, err)
		r.source = emptyPattern
		re = regexp2.MustCompile(emptyPattern, r.flags.options())
	}
	r.pattern = re
	return r, compileErr
}

// toReplacement turns collector back-references (\1) into regexp2 ones ($1).
func toReplacement(s string) string {
	if s == "" {
		return defaultReplacement
	}
	return strings.ReplaceAll(s, `\`, "$")
}

func (r *Rule) Pattern() string     { return r.source }
func (r *Rule) Flags() Flags        { return r.flags }
func (r *Rule) Replacement() string { return r.replacement }
func (r *Rule) Precedence() int     { return r.precedence }
func (r *Rule) IsTerminal() bool    { return r.terminal }
func (r *Rule) EachSegment() bool   { return r.eachSegment }
func (r *Rule) ReplaceAll() bool    { return r.flags.Has(Global) }
func (r *Rule) Ignore() bool        { return r.ignore }

func (r *Rule) String() string {
	return fmt.Sprintf("/%s/%s => %q (eval_order=%d terminal=%t each_segment=%t ignore=%t)",
		r.source, r.flags, r.replacement, r.precedence, r.terminal, r.eachSegment, r.ignore)
}

// Equal reports whether two rules are structurally identical.
func (r *Rule) Equal(o *Rule) bool {
	return r.source == o.source &&
		r.flags == o.flags &&
		r.replacement == o.replacement &&
		r.precedence == o.precedence &&
		r.terminal == o.terminal &&
		r.eachSegment == o.eachSegment &&
		r.ignore == o.ignore
}

func (r *Rule) segments(input string) []string {
	if r.eachSegment {
		return strings.Split(input, "/")
	}
	return []string{input}
}

func (r *Rule) matchSegment(segment string) bool {
	ok, err := r.pattern.MatchString(segment)
	return err == nil && ok
}

// Matches reports whether the pattern matches the input, or any of its
// segments for a per-segment rule.
func (r *Rule) Matches(input string) bool {
	for _, segment := range r.segments(input) {
		if r.matchSegment(segment) {
			return true
		}
	}
	return false
}

// Apply substitutes the replacement into the input, segment by segment when
// the rule works per segment. The input comes back unchanged if nothing
// matched.
func (r *Rule) Apply(input string) string {
	out, _ := r.apply(input)
	return out
}

func (r *Rule) apply(input string) (string, bool) {
	count := 1
	if r.flags.Has(Global) {
		count = -1
	}

	segments := r.segments(input)
	matched := false
	for i, segment := range segments {
		if !r.matchSegment(segment) {
			continue
		}
		replaced, err := r.pattern.Replace(segment, r.replacement, -1, count)
		if err != nil {
			continue
		}
		matched = true
		segments[i] = replaced
	}
	if !matched {
		return input, false
	}
	return strings.Join(segments, "/"), true
}
