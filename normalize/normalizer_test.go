package normalize

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/logger"
)

type ruleFixture struct {
	TestName string       `json:"testname"`
	Rules    []RuleConfig `json:"rules"`
	Tests    []struct {
		Input    string  `json:"input"`
		Expected *string `json:"expected"`
	} `json:"tests"`
}

func loadFixtures[T any](t *testing.T, path string) []T {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var fixtures []T
	require.NoError(t, json.Unmarshal(data, &fixtures))
	return fixtures
}

func newTestNormalizer(cfg *config.MockConfig, kind Kind) *Normalizer {
	return NewNormalizer(cfg, &logger.NullLogger{}, kind)
}

func TestRuleFixtures(t *testing.T) {
	for _, fixture := range loadFixtures[ruleFixture](t, "testdata/rules.json") {
		t.Run(fixture.TestName, func(t *testing.T) {
			n := newTestNormalizer(&config.MockConfig{}, Plain)
			n.Load(fixture.Rules)

			for _, tc := range fixture.Tests {
				result := n.Normalize(tc.Input)
				if tc.Expected == nil {
					assert.True(t, result.Ignore, "input %q should be ignored", tc.Input)
					continue
				}
				assert.False(t, result.Ignore, "input %q", tc.Input)
				assert.Equal(t, *tc.Expected, result.Value, "input %q", tc.Input)
			}
		})
	}
}

func urlRules() []RuleConfig {
	return []RuleConfig{
		{MatchExpression: "^[0-9][0-9a-f_,.-]*$", Replacement: "*", EachSegment: true, EvalOrder: 1},
		{MatchExpression: `^(.*)/[0-9][0-9a-f_,-]*\.([0-9a-z][0-9a-z]*)$`, Replacement: `\1/.*\2`, EvalOrder: 2},
		{MatchExpression: `.*\.(css|gif|ico|jpe?g|js|png|swf)$`, Replacement: `/*.\1`, EvalOrder: 1000, TerminateChain: true},
	}
}

func TestURLNormalizer(t *testing.T) {
	cfg := &config.MockConfig{}
	n := newTestNormalizer(cfg, URL)
	n.Load(urlRules())

	assert.Equal(t, "NormalizedUri/*/hamburt", n.Normalize("/00dead_beef_00,b/hamburt").Value)
	assert.Equal(t, "NormalizedUri/*.jpeg", n.Normalize("/excessivity.jpeg").Value)
	assert.Equal(t, "Uri/readme", n.Normalize("/readme").Value)

	cfg.EnforceBackstop = true
	result := n.Normalize("/readme")
	assert.False(t, result.Matched)
	assert.Equal(t, "NormalizedUri/*", result.Value)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := newTestNormalizer(&config.MockConfig{}, Plain)
	n.Load(urlRules())

	inputs := []string{"/00dead_beef_00,b/hamburt", "/excessivity.jpeg", "/12/orders/34.png", "/readme"}
	for _, fixture := range loadFixtures[ruleFixture](t, "testdata/rules.json") {
		for _, tc := range fixture.Tests {
			inputs = append(inputs, tc.Input)
		}
	}

	for _, input := range inputs {
		once := n.Normalize(input)
		twice := n.Normalize(once.Value)
		assert.Equal(t, once.Value, twice.Value, "input %q", input)
	}
	assert.Equal(t, "/*/hamburt", n.Normalize("/00dead_beef_00,b/hamburt").Value)
	assert.Equal(t, "/*.jpeg", n.Normalize("/excessivity.jpeg").Value)
}

func TestLoadSortsAndDeduplicates(t *testing.T) {
	n := newTestNormalizer(&config.MockConfig{}, Plain)
	n.Load([]RuleConfig{
		{MatchExpression: "c", EvalOrder: 3},
		{MatchExpression: "a", EvalOrder: 1},
		{MatchExpression: "b1", EvalOrder: 2},
		{MatchExpression: "a", EvalOrder: 1},
		{MatchExpression: "b2", EvalOrder: 2},
	})

	var patterns []string
	for _, r := range n.Rules() {
		patterns = append(patterns, r.Pattern())
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, patterns)

	// a second load replaces the first
	n.Load([]RuleConfig{{MatchExpression: "z"}})
	require.Len(t, n.Rules(), 1)
	assert.Equal(t, "z", n.Rules()[0].Pattern())
}

func TestAddSimple(t *testing.T) {
	n := newTestNormalizer(&config.MockConfig{}, URL)
	n.Load(urlRules())

	n.AddSimple("^/path/to/thing$", "/thing")
	n.AddSimple("^/ignore/me", "")
	n.AddSimple("", "/nothing")

	rules := n.Rules()
	require.Len(t, rules, 5)
	assert.Equal(t, "^/ignore/me", rules[0].Pattern())
	assert.True(t, rules[0].Ignore())
	assert.Equal(t, "^/path/to/thing$", rules[1].Pattern())
	assert.True(t, rules[1].IsTerminal())
	assert.Equal(t, 0, rules[1].Precedence())

	assert.Equal(t, "NormalizedUri/thing", n.Normalize("/path/to/thing").Value)
	assert.True(t, n.Normalize("/ignore/me/please").Ignore)
}

func intPtr(i int) *int { return &i }

func TestLoadFromConfigOrdering(t *testing.T) {
	base := []RuleConfig{
		{MatchExpression: "^/a", Replacement: "/x", EvalOrder: 100},
		{MatchExpression: "^/b", Replacement: "/x", EvalOrder: 500},
		{MatchExpression: "^/c", Replacement: "/x", EvalOrder: 900},
	}
	cfgRules := []config.NamingRule{
		{Pattern: "^/user", Name: "/user-default"},
		{Pattern: "^/early", Name: "/early", Precedence: intPtr(50)},
	}

	t.Run("ascending", func(t *testing.T) {
		n := newTestNormalizer(&config.MockConfig{GetNamingRulesVal: cfgRules}, URL)
		n.Load(base)
		n.LoadFromConfig()

		var patterns []string
		for _, r := range n.Rules() {
			patterns = append(patterns, r.Pattern())
		}
		assert.Equal(t, []string{"^/early", "^/a", "^/user", "^/b", "^/c"}, patterns)
	})

	t.Run("reverse", func(t *testing.T) {
		n := newTestNormalizer(&config.MockConfig{GetNamingRulesVal: cfgRules, ReverseNamingRules: true}, URL)
		n.Load(base)
		n.LoadFromConfig()

		var patterns []string
		for _, r := range n.Rules() {
			patterns = append(patterns, r.Pattern())
		}
		assert.Equal(t, []string{"^/early", "^/a", "^/b", "^/user", "^/c"}, patterns)
	})
}

func TestLoadFromConfigDefaults(t *testing.T) {
	f := config.DefaultTrue(false)
	n := newTestNormalizer(&config.MockConfig{
		GetNamingRulesVal: []config.NamingRule{
			{Pattern: "^/x/[0-9]+", Name: "/x/*"},
			{Pattern: "^/y", Name: "/y", TerminateChain: &f},
			{Pattern: "^/noname"},
		},
		GetIgnoreRulesVal: []string{"^/health"},
	}, URL)
	n.LoadFromConfig()

	rules := n.Rules()
	require.Len(t, rules, 3)
	assert.True(t, rules[0].Ignore())
	assert.Equal(t, "^/health", rules[0].Pattern())
	// equal precedence goes in front of the rules already loaded
	assert.Equal(t, "^/y", rules[1].Pattern())
	assert.False(t, rules[1].IsTerminal())
	assert.Equal(t, "^/x/[0-9]+", rules[2].Pattern())
	assert.Equal(t, 500, rules[2].Precedence())
	assert.True(t, rules[2].IsTerminal())

	assert.Equal(t, "NormalizedUri/x/*", n.Normalize("/x/12").Value)
	assert.True(t, n.Normalize("/healthz").Ignore)
}

func TestNormalizeNotifiesListeners(t *testing.T) {
	n := newTestNormalizer(&config.MockConfig{}, URL)
	n.Load([]RuleConfig{
		{MatchExpression: "^/a", Replacement: "/b", EvalOrder: 0},
		{MatchExpression: "^/nope", Ignore: true, EvalOrder: 1},
		{MatchExpression: "^/b", Replacement: "/c", EvalOrder: 2, TerminateChain: true},
		{MatchExpression: "^/c", Replacement: "/d", EvalOrder: 3},
	})

	type applied struct{ pattern, newValue, oldValue string }
	var calls []applied
	unsubscribe := n.OnAppliedRule(func(rule *Rule, newValue, oldValue string) {
		calls = append(calls, applied{rule.Pattern(), newValue, oldValue})
	})

	result := n.Normalize("/a/1")
	assert.True(t, result.Matched)
	assert.False(t, result.Ignore)
	assert.Equal(t, "NormalizedUri/c/1", result.Value)
	assert.Equal(t, []applied{
		{"^/a", "/b/1", "/a/1"},
		{"^/b", "/c/1", "/b/1"},
	}, calls)

	unsubscribe()
	n.Normalize("/a/1")
	assert.Len(t, calls, 2)
}

func TestIgnoreRuleDoesNotRewrite(t *testing.T) {
	n := newTestNormalizer(&config.MockConfig{}, Plain)
	n.Load([]RuleConfig{
		{MatchExpression: "^/internal", Ignore: true, Replacement: "/gone", EvalOrder: 0},
		{MatchExpression: "[0-9]+", Replacement: "*", EvalOrder: 1},
	})

	notified := 0
	n.OnAppliedRule(func(*Rule, string, string) { notified++ })

	result := n.Normalize("/internal/42")
	assert.True(t, result.Ignore)
	assert.True(t, result.Matched)
	assert.Equal(t, "/internal/*", result.Value)
	assert.Equal(t, 1, notified)
}
