package metrics

import (
	"sync"
)

var _ Metrics = (*MultiMetrics)(nil)

// MultiMetrics is a metrics provider that sends metrics to zero or more other
// metrics providers.
//
// It also records the values that Get returns. Even if there are no metrics
// providers configured, this allows us to use the metrics package to store
// values that can be retrieved later.
//
// Backends are injected by name so that they start before anything records
// through the fan-out. A backend that is turned off is provided as
// NullMetrics and skipped.
type MultiMetrics struct {
	PromMetrics  Metrics `inject:"promMetrics"`
	AgentMetrics Metrics `inject:"agentMetrics"`

	children []Metrics
	// values keeps a map of all the non-histogram metrics and their current
	// value so that we can retrieve them with Get()
	values map[string]float64
	lock   sync.RWMutex
}

func NewMultiMetrics() *MultiMetrics {
	return &MultiMetrics{
		values: make(map[string]float64),
	}
}

// AddChild must be called before the metrics are used.
func (m *MultiMetrics) AddChild(met Metrics) {
	m.children = append(m.children, met)
}

func (m *MultiMetrics) Start() error {
	for _, backend := range []Metrics{m.PromMetrics, m.AgentMetrics} {
		if backend == nil {
			continue
		}
		if _, null := backend.(*NullMetrics); null {
			continue
		}
		m.AddChild(backend)
	}
	return nil
}

func (m *MultiMetrics) Children() []Metrics {
	return m.children
}

func (m *MultiMetrics) Register(metadata Metadata) {
	for _, ch := range m.children {
		ch.Register(metadata)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.values[metadata.Name]; !ok {
		m.values[metadata.Name] = 0
	}
}

func (m *MultiMetrics) Increment(name string) { // for counters
	for _, ch := range m.children {
		ch.Increment(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]++
}

func (m *MultiMetrics) Gauge(name string, val interface{}) { // for gauges
	for _, ch := range m.children {
		ch.Gauge(name, val)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] = ConvertNumeric(val)
}

func (m *MultiMetrics) Count(name string, n interface{}) { // for counters
	for _, ch := range m.children {
		ch.Count(name, n)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] += ConvertNumeric(n)
}

func (m *MultiMetrics) Histogram(name string, obs interface{}) { // for histogram
	for _, ch := range m.children {
		ch.Histogram(name, obs)
	}
}

func (m *MultiMetrics) Up(name string) { // for updown
	for _, ch := range m.children {
		ch.Up(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]++
}

func (m *MultiMetrics) Down(name string) { // for updown
	for _, ch := range m.children {
		ch.Down(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]--
}

func (m *MultiMetrics) Get(name string) (float64, bool) { // for reading back a counter or a gauge
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.values[name]
	return v, ok
}
