package normalize

import (
	"slices"
	"sync"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/logger"
)

// Kind selects how a Normalizer formats its output.
type Kind int

const (
	// URL normalizers produce NormalizedUri/... or Uri/... names.
	URL Kind = iota
	// Plain normalizers return the rewritten name as is.
	Plain
)

func (k Kind) String() string {
	if k == URL {
		return "URL"
	}
	return "Plain"
}

const (
	normalizedURIPrefix = "NormalizedUri"
	uriPrefix           = "Uri"

	defaultConfigPrecedence = 500
)

// Result is the outcome of normalizing one name.
type Result struct {
	// Matched is true when at least one non-ignore rule rewrote the name.
	Matched bool
	// Ignore is true when an ignore rule matched; the caller should drop the
	// name.
	Ignore bool
	Value  string
}

// AppliedRuleFunc is called each time a rule rewrites a name.
type AppliedRuleFunc func(rule *Rule, newValue string, oldValue string)

type listener struct {
	fn AppliedRuleFunc
}

// Normalizer holds an ordered list of naming rules and applies them to names.
type Normalizer struct {
	Config config.Config
	Logger logger.Logger

	kind      Kind
	rules     []*Rule
	listeners []*listener
	mut       sync.RWMutex
}

func NewNormalizer(cfg config.Config, lgr logger.Logger, kind Kind) *Normalizer {
	return &Normalizer{
		Config: cfg,
		Logger: lgr,
		kind:   kind,
	}
}

func (n *Normalizer) Kind() Kind {
	return n.kind
}

// Rules returns a snapshot of the rules in evaluation order.
func (n *Normalizer) Rules() []*Rule {
	n.mut.RLock()
	defer n.mut.RUnlock()

	return slices.Clone(n.rules)
}

// Load replaces the rule set with the given wire rules. Structurally identical
// rules are only kept once and the result is stably sorted by precedence.
func (n *Normalizer) Load(cfgs []RuleConfig) {
	rules := make([]*Rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		rule, err := NewRule(cfg)
		if err != nil {
			n.Logger.Debug().WithString("kind", n.kind.String()).Logf("%v; rule will only match empty names", err)
		}
		if slices.ContainsFunc(rules, rule.Equal) {
			n.Logger.Trace().WithString("rule", rule.String()).Logf("ignoring duplicate naming rule")
			continue
		}
		n.Logger.Trace().WithString("rule", rule.String()).Logf("loaded naming rule")
		rules = append(rules, rule)
	}
	slices.SortStableFunc(rules, func(a, b *Rule) int {
		return a.precedence - b.precedence
	})

	n.mut.Lock()
	n.rules = rules
	n.mut.Unlock()
}

// AddSimple puts a whole-name terminal rule with precedence 0 in front of the
// existing rules. Without a name the rule ignores what it matches.
func (n *Normalizer) AddSimple(pattern string, name string) {
	if pattern == "" {
		n.Logger.Error().Logf("simple naming rules require a pattern")
		return
	}
	cfg := RuleConfig{
		MatchExpression: pattern,
		TerminateChain:  true,
	}
	if name != "" {
		cfg.Replacement = name
	} else {
		cfg.Ignore = true
	}
	rule, err := NewRule(cfg)
	if err != nil {
		n.Logger.Debug().Logf("%v; rule will only match empty names", err)
	}

	n.mut.Lock()
	n.rules = slices.Insert(n.rules, 0, rule)
	n.mut.Unlock()
}

// LoadFromConfig adds the locally configured naming rules, keeping the list
// ordered by precedence, and then the configured ignore patterns.
func (n *Normalizer) LoadFromConfig() {
	reverse := n.Config.GetReverseNamingRules()

	for _, nr := range n.Config.GetNamingRules() {
		if nr.Pattern == "" {
			n.Logger.Error().Logf("simple naming rules require a pattern")
			continue
		}
		if nr.Name == "" {
			n.Logger.Error().WithString("pattern", nr.Pattern).Logf("simple naming rules require a replacement name")
			continue
		}
		precedence := defaultConfigPrecedence
		if nr.Precedence != nil {
			precedence = *nr.Precedence
		}
		rule, err := NewRule(RuleConfig{
			MatchExpression: nr.Pattern,
			Replacement:     nr.Name,
			ReplaceAll:      nr.ReplaceAll,
			TerminateChain:  nr.TerminateChain.Get(),
			EvalOrder:       precedence,
			Flags:           nr.Flags,
		})
		if err != nil {
			n.Logger.Debug().Logf("%v; rule will only match empty names", err)
		}

		n.mut.Lock()
		insert := slices.IndexFunc(n.rules, func(r *Rule) bool {
			if reverse {
				return r.precedence > precedence
			}
			return r.precedence >= precedence
		})
		if insert < 0 {
			insert = len(n.rules)
		}
		n.rules = slices.Insert(n.rules, insert, rule)
		n.mut.Unlock()
	}

	for _, pattern := range n.Config.GetIgnoreRules() {
		n.AddSimple(pattern, "")
	}
}

// OnAppliedRule registers fn to be told about every rewrite. The returned
// function removes the registration.
func (n *Normalizer) OnAppliedRule(fn AppliedRuleFunc) (unsubscribe func()) {
	l := &listener{fn: fn}

	n.mut.Lock()
	n.listeners = append(n.listeners, l)
	n.mut.Unlock()

	return func() {
		n.mut.Lock()
		defer n.mut.Unlock()
		n.listeners = slices.DeleteFunc(n.listeners, func(other *listener) bool { return other == l })
	}
}

// Normalize runs the rules over path in order. Ignore rules only flag the
// result; other matching rules rewrite the value; a terminal rule ends the
// pass.
func (n *Normalizer) Normalize(path string) Result {
	n.mut.RLock()
	rules := slices.Clone(n.rules)
	listeners := slices.Clone(n.listeners)
	n.mut.RUnlock()

	var result Result
	value := path
	for _, rule := range rules {
		applied, ok := rule.apply(value)
		if !ok {
			continue
		}

		if rule.ignore {
			result.Ignore = true
		} else {
			result.Matched = true
			for _, l := range listeners {
				l.fn(rule, applied, value)
			}
			value = applied
		}

		if rule.terminal {
			n.Logger.Trace().WithString("rule", rule.String()).Logf("terminating normalization")
			break
		}
	}

	result.Value = n.format(result.Matched, value, path)
	return result
}

func (n *Normalizer) format(matched bool, normalized string, path string) string {
	switch n.kind {
	case URL:
		if matched {
			return normalizedURIPrefix + normalized
		}
		if n.Config.GetEnforceBackstop() {
			return normalizedURIPrefix + "/*"
		}
		return uriPrefix + path
	default:
		if matched {
			return normalized
		}
		return path
	}
}
