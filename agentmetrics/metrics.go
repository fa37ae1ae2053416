// Package agentmetrics collects the per-harvest metric timeslices an agent
// reports, keyed by name and optional scope.
package agentmetrics

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/spanwire/agentcore/normalize"
	"github.com/spanwire/agentcore/stats"
)

// NameNormalizer rewrites metric names before they are reported.
type NameNormalizer interface {
	Normalize(name string) normalize.Result
}

type metricValue interface {
	MarshalJSON() ([]byte, error)
}

type namespace struct {
	values map[string]metricValue
	order  []string
}

func newNamespace() *namespace {
	return &namespace{values: make(map[string]metricValue)}
}

func (n *namespace) get(name string) (metricValue, bool) {
	v, ok := n.values[name]
	return v, ok
}

func (n *namespace) put(name string, v metricValue) {
	if _, ok := n.values[name]; !ok {
		n.order = append(n.order, name)
	}
	n.values[name] = v
}

// Metrics is one harvest cycle's worth of metrics. Unscoped metrics and each
// scope are independent namespaces; both keep insertion order for reporting.
// It is not safe for concurrent use; Aggregator serialises access.
type Metrics struct {
	started    time.Time
	apdexT     time.Duration
	mapper     *Mapper
	normalizer NameNormalizer

	unscoped   *namespace
	scoped     map[string]*namespace
	scopeOrder []string
}

// NewMetrics starts a collection at the clock's current time. mapper and
// normalizer may be nil.
func NewMetrics(clock clockwork.Clock, apdexT time.Duration, mapper *Mapper, normalizer NameNormalizer) *Metrics {
	if mapper == nil {
		mapper = NewMapper()
	}
	return &Metrics{
		started:    clock.Now(),
		apdexT:     apdexT,
		mapper:     mapper,
		normalizer: normalizer,
		unscoped:   newNamespace(),
		scoped:     make(map[string]*namespace),
	}
}

func (m *Metrics) Started() time.Time {
	return m.started
}

func (m *Metrics) resolve(scope string) *namespace {
	if scope == "" {
		return m.unscoped
	}
	ns, ok := m.scoped[scope]
	if !ok {
		ns = newNamespace()
		m.scoped[scope] = ns
		m.scopeOrder = append(m.scopeOrder, scope)
	}
	return ns
}

// GetOrCreateMetric returns the Stats for name in scope ("" for unscoped),
// creating it on first use.
func (m *Metrics) GetOrCreateMetric(name string, scope string) *stats.Stats {
	ns := m.resolve(scope)
	if v, ok := ns.get(name); ok {
		if s, ok := v.(*stats.Stats); ok {
			return s
		}
	}
	s := &stats.Stats{}
	ns.put(name, s)
	return s
}

// GetOrCreateApdexMetric is GetOrCreateMetric for apdex metrics. A positive
// overrideApdexT replaces the collection's threshold for a new metric.
func (m *Metrics) GetOrCreateApdexMetric(name string, scope string, overrideApdexT time.Duration) *stats.ApdexStats {
	ns := m.resolve(scope)
	if v, ok := ns.get(name); ok {
		if a, ok := v.(*stats.ApdexStats); ok {
			return a
		}
	}
	apdexT := m.apdexT
	if overrideApdexT > 0 {
		apdexT = overrideApdexT
	}
	a := stats.NewApdexStats(apdexT)
	ns.put(name, a)
	return a
}

// GetMetric returns the Stats for name in scope, or nil.
func (m *Metrics) GetMetric(name string, scope string) *stats.Stats {
	var ns *namespace
	if scope == "" {
		ns = m.unscoped
	} else {
		ns = m.scoped[scope]
	}
	if ns == nil {
		return nil
	}
	v, _ := ns.get(name)
	s, _ := v.(*stats.Stats)
	return s
}

// MeasureMilliseconds records a duration given in milliseconds; the metric
// stores seconds.
func (m *Metrics) MeasureMilliseconds(name string, scope string, durationMs float64, exclusiveMs float64) *stats.Stats {
	s := m.GetOrCreateMetric(name, scope)
	s.RecordValueInMillis(durationMs, exclusiveMs)
	return s
}

// MeasureBytes records an unscoped size in megabytes, or in bytes when exact.
func (m *Metrics) MeasureBytes(name string, size float64, exclusiveSize float64, exact bool) *stats.Stats {
	s := m.GetOrCreateMetric(name, "")
	s.RecordValueInBytes(size, exclusiveSize, exact)
	return s
}

// Empty reports whether nothing has been recorded.
func (m *Metrics) Empty() bool {
	if len(m.unscoped.order) > 0 {
		return false
	}
	for _, ns := range m.scoped {
		if len(ns.order) > 0 {
			return false
		}
	}
	return true
}

// Merge folds other into m key by key. With adjustStartTime the collection
// takes the earlier of the two start times.
func (m *Metrics) Merge(other *Metrics, adjustStartTime bool) {
	if adjustStartTime && other.started.Before(m.started) {
		m.started = other.started
	}
	mergeNamespace(m.unscoped, other.unscoped)
	for _, scope := range other.scopeOrder {
		mergeNamespace(m.resolve(scope), other.scoped[scope])
	}
}

func mergeNamespace(dst *namespace, src *namespace) {
	for _, name := range src.order {
		switch theirs := src.values[name].(type) {
		case *stats.Stats:
			if mine, ok := dst.values[name].(*stats.Stats); ok {
				mine.Merge(theirs)
				continue
			}
			s := &stats.Stats{}
			s.Merge(theirs)
			dst.put(name, s)
		case *stats.ApdexStats:
			if mine, ok := dst.values[name].(*stats.ApdexStats); ok {
				mine.Merge(theirs)
				continue
			}
			a := stats.NewApdexStats(theirs.ApdexT)
			a.Merge(theirs)
			dst.put(name, a)
		}
	}
}

func (m *Metrics) normalize(name string) (string, bool) {
	if m.normalizer == nil {
		return name, true
	}
	result := m.normalizer.Normalize(name)
	if result.Ignore || result.Value == "" {
		return "", false
	}
	return result.Value, true
}

// MarshalJSON produces the unscoped entries followed by the scoped ones, each
// as [id or {name[,scope]}, stats]. Names and scopes pass through the
// normalizer; ignored ones are left out.
func (m *Metrics) MarshalJSON() ([]byte, error) {
	var entries [][2]any
	for _, name := range m.unscoped.order {
		normalized, ok := m.normalize(name)
		if !ok {
			continue
		}
		entries = append(entries, [2]any{m.mapper.Map(normalized, ""), m.unscoped.values[name]})
	}
	for _, scope := range m.scopeOrder {
		normalizedScope, ok := m.normalize(scope)
		if !ok {
			continue
		}
		ns := m.scoped[scope]
		for _, name := range ns.order {
			entries = append(entries, [2]any{m.mapper.Map(name, normalizedScope), ns.values[name]})
		}
	}
	if entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(entries)
}
