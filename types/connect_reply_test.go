package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReply = `{
  "agent_run_id": "run-42",
  "request_headers_map": {"X-NR-Run-Token": "abc"},
  "url_rules": [
    {"match_expression": "^[0-9][0-9a-f_,.-]*$", "replacement": "*", "each_segment": true, "eval_order": 1, "terminate_chain": false}
  ],
  "transaction_segment_terms": [
    {"prefix": "WebTransaction/Custom", "terms": ["users"]}
  ],
  "apdex_t": 0.5,
  "event_harvest_config": {
    "report_period_ms": 5000,
    "harvest_limits": {"span_event_data": 1000}
  }
}`

func TestConnectReplyDecode(t *testing.T) {
	var reply ConnectReply
	require.NoError(t, json.Unmarshal([]byte(sampleReply), &reply))
	require.NoError(t, reply.Validate())

	assert.Equal(t, "run-42", reply.RunID)
	assert.Equal(t, "abc", reply.RequestHeadersMap["X-NR-Run-Token"])
	require.Len(t, reply.URLRules, 1)
	assert.True(t, reply.URLRules[0].EachSegment)
	assert.Equal(t, 1, reply.URLRules[0].EvalOrder)
	require.Len(t, reply.SegmentTerms, 1)
	assert.Equal(t, []string{"users"}, reply.SegmentTerms[0].Terms)
	assert.Equal(t, 500*time.Millisecond, reply.ApdexT())
	assert.Equal(t, 5*time.Second, reply.HarvestPeriod())

	limit, ok := reply.SpanEventLimit()
	assert.True(t, ok)
	assert.Equal(t, 1000, limit)
}

func TestConnectReplyDefaults(t *testing.T) {
	var reply ConnectReply
	require.NoError(t, json.Unmarshal([]byte(`{}`), &reply))
	assert.Error(t, reply.Validate())

	_, ok := reply.SpanEventLimit()
	assert.False(t, ok)
	assert.Zero(t, reply.ApdexT())
}
