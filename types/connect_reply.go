package types

import (
	"fmt"
	"time"

	"github.com/spanwire/agentcore/normalize"
)

// ConnectReply is the subset of the collector's connect response that the
// naming engine and span pipeline act on.
type ConnectReply struct {
	RunID             string            `json:"agent_run_id"`
	RequestHeadersMap map[string]string `json:"request_headers_map"`
	EntityGUID        string            `json:"entity_guid"`

	URLRules          []normalize.RuleConfig         `json:"url_rules"`
	MetricRules       []normalize.RuleConfig         `json:"metric_name_rules"`
	TransactionRules  []normalize.RuleConfig         `json:"transaction_name_rules"`
	SegmentTerms      []normalize.SegmentTermsConfig `json:"transaction_segment_terms"`
	ApdexThresholdSec float64                        `json:"apdex_t"`

	EventData EventHarvestConfig `json:"event_harvest_config"`
}

// EventHarvestConfig carries the per-harvest event limits.
type EventHarvestConfig struct {
	ReportPeriodMs int `json:"report_period_ms,omitempty"`
	Limits         struct {
		SpanEvents *uint `json:"span_event_data,omitempty"`
	} `json:"harvest_limits"`
}

// ApdexT returns the server apdex threshold, or 0 when none was sent.
func (c *ConnectReply) ApdexT() time.Duration {
	return time.Duration(c.ApdexThresholdSec * float64(time.Second))
}

// SpanEventLimit returns the server's span event reservoir size, if it sent one.
func (c *ConnectReply) SpanEventLimit() (int, bool) {
	if c.EventData.Limits.SpanEvents == nil {
		return 0, false
	}
	return int(*c.EventData.Limits.SpanEvents), true
}

// HarvestPeriod is the server's event harvest period, or 0 when unset.
func (c *ConnectReply) HarvestPeriod() time.Duration {
	return time.Duration(c.EventData.ReportPeriodMs) * time.Millisecond
}

func (c *ConnectReply) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("connect reply has no agent_run_id")
	}
	return nil
}
