package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spanwire/agentcore/logger"
)

type segmentTermsFixture struct {
	TestName string               `json:"testname"`
	Terms    []SegmentTermsConfig `json:"transaction_segment_terms"`
	Tests    []struct {
		Input    string `json:"input"`
		Expected string `json:"expected"`
	} `json:"tests"`
}

func TestSegmentTermsFixtures(t *testing.T) {
	for _, fixture := range loadFixtures[segmentTermsFixture](t, "testdata/transaction_segment_terms.json") {
		t.Run(fixture.TestName, func(t *testing.T) {
			s := NewSegmentTermsNormalizer(&logger.NullLogger{})
			s.Load(fixture.Terms)

			for _, tc := range fixture.Tests {
				assert.Equal(t, tc.Expected, s.Normalize(tc.Input).Value, "input %q", tc.Input)
			}
		})
	}
}

func TestSegmentTermsLoad(t *testing.T) {
	s := NewSegmentTermsNormalizer(&logger.NullLogger{})
	s.Load([]SegmentTermsConfig{
		{Prefix: "WebTransaction/Foo", Terms: []string{"a"}},
		{Prefix: "", Terms: []string{"a"}},
		{Prefix: "Too/Many/Parts", Terms: []string{"a"}},
		{Prefix: "WebTransaction/Bar/", Terms: []string{"b"}},
		{Prefix: "WebTransaction/Foo/", Terms: []string{"c"}},
	})

	assert.Equal(t, []string{"WebTransaction/Foo/", "WebTransaction/Bar/"}, s.Prefixes())

	result := s.Normalize("WebTransaction/Foo/c/a")
	assert.True(t, result.Matched)
	assert.Equal(t, "WebTransaction/Foo/c/*", result.Value)

	result = s.Normalize("OtherTransaction/Foo/c")
	assert.False(t, result.Matched)
	assert.Equal(t, "OtherTransaction/Foo/c", result.Value)
}
