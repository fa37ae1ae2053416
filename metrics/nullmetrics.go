package metrics

// NullMetrics stands in for a disabled backend. MultiMetrics skips it when
// fanning out, and components use it when nothing is injected.
type NullMetrics struct{}

var _ Metrics = (*NullMetrics)(nil)

func (n *NullMetrics) Register(Metadata)          {}
func (n *NullMetrics) Increment(string)           {}
func (n *NullMetrics) Gauge(string, any)          {}
func (n *NullMetrics) Count(string, any)          {}
func (n *NullMetrics) Histogram(string, any)      {}
func (n *NullMetrics) Up(string)                  {}
func (n *NullMetrics) Down(string)                {}
func (n *NullMetrics) Get(string) (float64, bool) { return 0, false }
