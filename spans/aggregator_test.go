package spans

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
	"github.com/spanwire/agentcore/types"
)

type sentPayload struct {
	method  string
	payload []byte
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sentPayload
}

func (f *fakeSender) Send(ctx context.Context, method string, payload []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentPayload{method: method, payload: payload})
	return nil, nil
}

func (f *fakeSender) Sent() []sentPayload {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]sentPayload(nil), f.sent...)
}

func newTestAggregator(t *testing.T, limit int, period time.Duration) (*Aggregator, *fakeSender, *metrics.MockMetrics, *clockwork.FakeClock) {
	mm := &metrics.MockMetrics{}
	mm.Start()
	sender := &fakeSender{}
	clock := clockwork.NewFakeClock()
	a := &Aggregator{
		Config: &config.MockConfig{
			GetHarvestPeriodVal:    period,
			GetSpanEventsConfigVal: config.SpanEventsConfig{MaxSamplesStored: limit},
		},
		Logger:  &logger.NullLogger{},
		Metrics: mm,
		Clock:   clock,
		Sender:  sender,
	}
	require.NoError(t, a.Start())
	t.Cleanup(func() { a.Stop() })
	return a, sender, mm, clock
}

func decodePayload(t *testing.T, b []byte) (string, map[string]int, []any) {
	var raw []jsoniter.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Len(t, raw, 3)

	var runID string
	var info map[string]int
	var events []any
	require.NoError(t, json.Unmarshal(raw[0], &runID))
	require.NoError(t, json.Unmarshal(raw[1], &info))
	require.NoError(t, json.Unmarshal(raw[2], &events))
	return runID, info, events
}

func TestAggregatorDropsUntilStarted(t *testing.T) {
	sender := &fakeSender{}
	a := &Aggregator{
		Config:  &config.MockConfig{GetSpanEventsConfigVal: config.SpanEventsConfig{MaxSamplesStored: 5}},
		Logger:  &logger.NullLogger{},
		Metrics: &metrics.NullMetrics{},
		Clock:   clockwork.NewFakeClock(),
		Sender:  sender,
	}

	assert.False(t, a.AddSegment(testSegment("a", 1), "", true))
	assert.Equal(t, 0, a.Len())
	require.NoError(t, a.Send(context.Background()))
	assert.Empty(t, sender.Sent())

	require.NoError(t, a.Start())
	t.Cleanup(func() { a.Stop() })
	assert.True(t, a.AddSegment(testSegment("b", 1), "", true))

	require.NoError(t, a.Stop())
	require.NoError(t, a.Start())
	assert.Equal(t, 1, a.Len(), "a restart keeps collected events")
}

func TestAggregatorRejectsBelowMinimumPriority(t *testing.T) {
	a, _, mm, _ := newTestAggregator(t, 2, time.Hour)

	assert.True(t, a.AddSegment(testSegment("a", 0.5), "", true))
	assert.True(t, a.AddSegment(testSegment("b", 0.7), "", false))
	// full; 0.4 is below the lowest kept priority
	assert.False(t, a.AddSegment(testSegment("c", 0.4), "", false))
	// full; 0.9 evicts 0.5
	assert.True(t, a.AddSegment(testSegment("d", 0.9), "", false))

	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 4, mm.CounterIncrements[metricEventsSeen])
	assert.Equal(t, 1, mm.CounterIncrements[metricDiscarded])
}

func TestAggregatorSend(t *testing.T) {
	a, sender, mm, _ := newTestAggregator(t, 10, time.Hour)
	a.Reconfigure(&types.ConnectReply{RunID: "run-42"})

	a.AddSegment(testSegment("a", 0.5), "", true)
	a.AddSegment(testSegment("b", 0.7), "seg-1", false)

	require.NoError(t, a.Send(context.Background()))

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, types.MethodSpanEventData, sent[0].method)
	runID, info, events := decodePayload(t, sent[0].payload)
	assert.Equal(t, "run-42", runID)
	assert.Equal(t, map[string]int{"reservoir_size": 10, "events_seen": 2}, info)
	assert.Len(t, events, 2)
	assert.Equal(t, 2, mm.CounterIncrements[metricEventsSent])
	assert.Equal(t, 0, a.Len())

	// nothing new, nothing sent
	require.NoError(t, a.Send(context.Background()))
	assert.Len(t, sender.Sent(), 1)
}

func TestAggregatorSendFailureMergesBack(t *testing.T) {
	a, sender, _, _ := newTestAggregator(t, 10, time.Hour)
	a.AddSegment(testSegment("a", 0.5), "", true)

	sender.err = errors.New("collector unavailable")
	assert.Error(t, a.Send(context.Background()))
	assert.Equal(t, 1, a.Len())

	a.AddSegment(testSegment("b", 0.6), "", false)
	sender.err = nil
	require.NoError(t, a.Send(context.Background()))

	_, info, events := decodePayload(t, sender.Sent()[0].payload)
	assert.Equal(t, 2, info["events_seen"])
	assert.Len(t, events, 2)
}

func TestAggregatorReconfigureLimit(t *testing.T) {
	a, _, _, _ := newTestAggregator(t, 10, time.Hour)
	for _, p := range []float64{0.1, 0.2, 0.3} {
		a.AddSegment(testSegment("x", p), "", false)
	}

	limit := uint(1)
	reply := &types.ConnectReply{RunID: "run"}
	reply.EventData.Limits.SpanEvents = &limit
	a.Reconfigure(reply)

	assert.Equal(t, 1, a.Len())
	assert.False(t, a.AddSegment(testSegment("y", 0.25), "", false))
}

func TestAggregatorHarvestsOnTicker(t *testing.T) {
	a, sender, _, clock := newTestAggregator(t, 10, time.Minute)
	a.AddSegment(testSegment("a", 0.5), "", true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	assert.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, time.Millisecond)
}
