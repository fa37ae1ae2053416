package agentmetrics

import (
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MetricSpec names a metric the way the collector expects it when no id has
// been assigned.
type MetricSpec struct {
	Name  string `json:"name"`
	Scope string `json:"scope,omitempty"`
}

// MetricID is one entry of the collector's metric id mapping, which is sent
// as a two element array [spec, id].
type MetricID struct {
	Spec MetricSpec
	ID   int
}

func (m *MetricID) UnmarshalJSON(data []byte) error {
	var raw []jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("metric id mapping entry has %d elements, want 2", len(raw))
	}
	if err := json.Unmarshal(raw[0], &m.Spec); err != nil {
		return fmt.Errorf("bad metric spec: %w", err)
	}
	if err := json.Unmarshal(raw[1], &m.ID); err != nil {
		return fmt.Errorf("bad metric id: %w", err)
	}
	return nil
}

func (m MetricID) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{m.Spec, m.ID})
}

// Mapper translates metric names into the short ids the collector hands out.
// Mappings only ever accumulate.
type Mapper struct {
	unscoped map[string]int
	scoped   map[string]map[string]int
	mut      sync.RWMutex
}

func NewMapper() *Mapper {
	return &Mapper{
		unscoped: make(map[string]int),
		scoped:   make(map[string]map[string]int),
	}
}

// Load adds the given mappings to the ones already known.
func (m *Mapper) Load(ids []MetricID) {
	m.mut.Lock()
	defer m.mut.Unlock()

	for _, id := range ids {
		if id.Spec.Name == "" {
			continue
		}
		if id.Spec.Scope == "" {
			m.unscoped[id.Spec.Name] = id.ID
			continue
		}
		if m.scoped[id.Spec.Scope] == nil {
			m.scoped[id.Spec.Scope] = make(map[string]int)
		}
		m.scoped[id.Spec.Scope][id.Spec.Name] = id.ID
	}
}

// Map returns the id for the metric if one is known, or its MetricSpec.
func (m *Mapper) Map(name string, scope string) any {
	m.mut.RLock()
	defer m.mut.RUnlock()

	if scope == "" {
		if id, ok := m.unscoped[name]; ok {
			return id
		}
		return MetricSpec{Name: name}
	}
	if id, ok := m.scoped[scope][name]; ok {
		return id
	}
	return MetricSpec{Name: name, Scope: scope}
}

// Len is the number of known mappings.
func (m *Mapper) Len() int {
	m.mut.RLock()
	defer m.mut.RUnlock()

	n := len(m.unscoped)
	for _, names := range m.scoped {
		n += len(names)
	}
	return n
}
