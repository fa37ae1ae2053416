package metrics

import (
	"sync"

	"github.com/spanwire/agentcore/agentmetrics"
)

var _ Metrics = (*AgentMetrics)(nil)

// AgentMetrics records supportability metrics into the harvested agent
// metric collection, so they reach the collector alongside the agent's other
// timeslices. Counters become call counts; gauges and histograms become
// recorded values.
type AgentMetrics struct {
	Harvester *agentmetrics.Aggregator `inject:""`

	types map[string]MetricType
	lock  sync.RWMutex
}

func (a *AgentMetrics) Start() error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.types == nil {
		a.types = make(map[string]MetricType)
	}
	return nil
}

func (a *AgentMetrics) Register(metadata Metadata) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.types == nil {
		a.types = make(map[string]MetricType)
	}
	a.types[metadata.Name] = metadata.Type
}

func (a *AgentMetrics) typeOf(name string) (MetricType, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	t, ok := a.types[name]
	return t, ok
}

func (a *AgentMetrics) Increment(name string) {
	a.Count(name, 1)
}

func (a *AgentMetrics) Count(name string, n interface{}) {
	if t, ok := a.typeOf(name); ok && t == Counter {
		a.Harvester.IncrementCallCount(name, int64(ConvertNumeric(n)))
	}
}

func (a *AgentMetrics) Gauge(name string, val interface{}) {
	if t, ok := a.typeOf(name); ok && t == Gauge {
		a.Harvester.RecordValue(name, ConvertNumeric(val))
	}
}

func (a *AgentMetrics) Histogram(name string, obs interface{}) {
	if t, ok := a.typeOf(name); ok && t == Histogram {
		a.Harvester.RecordValue(name, ConvertNumeric(obs))
	}
}

// Up and Down have no harvested equivalent.
func (a *AgentMetrics) Up(name string)   {}
func (a *AgentMetrics) Down(name string) {}

// Get returns the call count recorded for name in the current harvest.
func (a *AgentMetrics) Get(name string) (float64, bool) {
	s, ok := a.Harvester.Snapshot(name, "")
	if !ok {
		return 0, false
	}
	return float64(s.CallCount), true
}
