package metrics

import (
	"fmt"
	"strings"
	"time"
)

// Metrics is the interface the rest of the code uses to record supportability
// and operational metrics. Metrics must be registered before use; unregistered
// names are ignored by the backends that need to know a metric's type.
type Metrics interface {
	Register(metadata Metadata)
	Increment(name string)                  // for counters
	Gauge(name string, val interface{})     // for gauges
	Count(name string, n interface{})       // for counters
	Histogram(name string, obs interface{}) // for histogram
	Up(name string)                         // for updown
	Down(name string)                       // for updown
	Get(name string) (float64, bool)        // for reading back a counter or a gauge
}

type MetricType int

const (
	Counter MetricType = iota
	Gauge
	Histogram
	UpDown
)

func (m MetricType) String() string {
	switch m {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Histogram:
		return "histogram"
	case UpDown:
		return "updown"
	default:
		return fmt.Sprintf("MetricType(%d)", int(m))
	}
}

type Unit string

const (
	Dimensionless Unit = "1"
	Seconds       Unit = "s"
	Milliseconds  Unit = "ms"
	Bytes         Unit = "By"
)

type Metadata struct {
	Name        string
	Type        MetricType
	Unit        Unit
	Description string
}

// ConvertNumeric turns any numeric value recorded through Metrics into a
// float64. Durations become seconds, booleans 0 or 1, anything else 0.
func ConvertNumeric(val any) float64 {
	switch n := val.(type) {
	case time.Duration:
		return n.Seconds()
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// PromName turns a slash separated agent metric name such as
// Supportability/InfiniteTracing/Span/Seen into a valid Prometheus name
// (supportability_infinitetracing_span_seen).
func PromName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9' && sb.Len() > 0:
			sb.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && sb.Len() > 0 {
				sb.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}
