package normalize

import (
	"slices"
	"strings"
	"sync"

	"github.com/spanwire/agentcore/generics"
	"github.com/spanwire/agentcore/logger"
)

// SegmentTermsConfig is one entry of transaction_segment_terms.
type SegmentTermsConfig struct {
	Prefix string   `json:"prefix"`
	Terms  []string `json:"terms"`
}

type segmentTerms struct {
	prefix string
	terms  generics.Set[string]
}

// SegmentTermsNormalizer collapses every path segment after a known prefix
// that is not on that prefix's allow-list into "*".
type SegmentTermsNormalizer struct {
	Logger logger.Logger

	terms []segmentTerms
	mut   sync.RWMutex
}

func NewSegmentTermsNormalizer(lgr logger.Logger) *SegmentTermsNormalizer {
	return &SegmentTermsNormalizer{Logger: lgr}
}

// Load replaces the term lists. Prefixes get a trailing slash and must then
// have exactly two non-empty segments; others are dropped. A repeated prefix
// replaces the earlier entry in place.
func (s *SegmentTermsNormalizer) Load(cfgs []SegmentTermsConfig) {
	var terms []segmentTerms
	for _, cfg := range cfgs {
		prefix := cfg.Prefix
		if prefix == "" {
			continue
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		parts := strings.Split(prefix, "/")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			s.Logger.Debug().WithString("prefix", cfg.Prefix).Logf("ignoring segment terms with invalid prefix")
			continue
		}

		entry := segmentTerms{prefix: prefix, terms: generics.NewSet(cfg.Terms...)}
		if i := slices.IndexFunc(terms, func(t segmentTerms) bool { return t.prefix == prefix }); i >= 0 {
			terms[i] = entry
			continue
		}
		terms = append(terms, entry)
	}

	s.mut.Lock()
	s.terms = terms
	s.mut.Unlock()
}

// Prefixes returns the loaded prefixes in evaluation order.
func (s *SegmentTermsNormalizer) Prefixes() []string {
	s.mut.RLock()
	defer s.mut.RUnlock()

	prefixes := make([]string, 0, len(s.terms))
	for _, t := range s.terms {
		prefixes = append(prefixes, t.prefix)
	}
	return prefixes
}

// Normalize rewrites path with the first entry whose prefix it starts with.
func (s *SegmentTermsNormalizer) Normalize(path string) Result {
	s.mut.RLock()
	terms := s.terms
	s.mut.RUnlock()

	for _, term := range terms {
		if !strings.HasPrefix(path, term.prefix) {
			continue
		}

		parts := strings.Split(path[len(term.prefix):], "/")
		result := make([]string, 0, len(parts))
		prev := ""
		for i, segment := range parts {
			if segment == "" && i == len(parts)-1 {
				break
			}
			if !term.terms.Contains(segment) {
				if prev == "*" {
					continue
				}
				segment = "*"
			}
			result = append(result, segment)
			prev = segment
		}
		return Result{Matched: true, Value: term.prefix + strings.Join(result, "/")}
	}
	return Result{Value: path}
}
