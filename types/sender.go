package types

import "context"

// Collector methods used as the first argument to Sender.Send.
const (
	MethodMetricData    = "metric_data"
	MethodSpanEventData = "span_event_data"
)

// Sender delivers a serialised harvest payload to the collector and returns
// the response body. The collector protocol itself lives outside this module.
type Sender interface {
	Send(ctx context.Context, method string, payload []byte) ([]byte, error)
}
