package spans

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/internal/tracepb"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
	"github.com/spanwire/agentcore/traceobserver"
	"github.com/spanwire/agentcore/types"
)

func newStreamingTest(t *testing.T) (*StreamingAggregator, *traceobserver.MockDialer, *logger.MockLogger) {
	off := config.DefaultTrue(false)
	cfg := &config.MockConfig{
		LicenseKey: "license",
		GetInfiniteTracingConfigVal: config.InfiniteTracingConfig{
			TraceObserver: config.TraceObserverConfig{Host: "observer.example.com", Port: 443},
			SpanEvents:    config.InfiniteTracingSpanEvents{QueueSize: 10},
			Batching:      &off,
		},
	}
	mm := &metrics.MockMetrics{}
	mm.Start()
	lgr := &logger.MockLogger{}
	dialer := &traceobserver.MockDialer{}

	agg, err := NewAggregator(Deps{
		Config:  cfg,
		Logger:  lgr,
		Metrics: mm,
		Clock:   clockwork.NewFakeClock(),
		Dialer:  dialer,
	})
	require.NoError(t, err)
	s, ok := agg.(*StreamingAggregator)
	require.True(t, ok)
	t.Cleanup(func() { s.Close() })
	return s, dialer, lgr
}

func TestStreamingAggregatorDropsUntilStarted(t *testing.T) {
	s, dialer, lgr := newStreamingTest(t)

	assert.False(t, s.AddSegment(testSegment("a", 1), "", true))
	assert.Len(t, lgr.EventsAt(config.TraceLevel), 1)
	assert.Equal(t, 0, s.Streamer.QueueLen())
	assert.Equal(t, 0, dialer.Opens())
}

func TestStreamingAggregatorStreams(t *testing.T) {
	s, dialer, _ := newStreamingTest(t)
	s.Reconfigure(&types.ConnectReply{RunID: "run-1", RequestHeadersMap: map[string]string{"X-Id": "1"}})
	require.NoError(t, s.Start())

	stream := dialer.Last()
	require.NotNil(t, stream)
	assert.Equal(t, []string{"run-1"}, dialer.Metadata()[0].Get("agent_run_token"))
	assert.Equal(t, []string{"license"}, dialer.Metadata()[0].Get("license_key"))

	assert.True(t, s.AddSegment(testSegment("a", 1), "", true))
	written := stream.Written()
	require.Len(t, written, 1)

	schema, err := tracepb.Load()
	require.NoError(t, err)
	decoded := schema.DecodeSpan(written[0].(*dynamicpb.Message))
	assert.Equal(t, "trace-1", decoded.TraceID)
	assert.Equal(t, true, decoded.Intrinsics["nr.entryPoint"])

	require.NoError(t, s.Stop())
	assert.False(t, s.AddSegment(testSegment("b", 1), "", false))
	assert.Len(t, stream.Written(), 1)
	assert.True(t, stream.Ended())
}

func TestStreamingAggregatorRestartsAfterStop(t *testing.T) {
	s, dialer, _ := newStreamingTest(t)
	s.Reconfigure(&types.ConnectReply{RunID: "run-1"})
	require.NoError(t, s.Start())
	first := dialer.Last()

	require.NoError(t, s.Stop())
	assert.True(t, first.Ended())
	assert.Equal(t, traceobserver.Disconnected, s.Connection.State())

	require.NoError(t, s.Start())
	assert.Equal(t, 2, dialer.Opens())
	second := dialer.Last()
	require.NotSame(t, first, second)
	assert.Equal(t, []string{"run-1"}, dialer.Metadata()[1].Get("agent_run_token"))

	assert.True(t, s.AddSegment(testSegment("a", 1), "", true))
	assert.Len(t, second.Written(), 1)
	assert.Empty(t, first.Written())
	assert.Equal(t, 0, s.Streamer.QueueLen())
}

func TestStreamingAggregatorCloseIsFinal(t *testing.T) {
	s, dialer, _ := newStreamingTest(t)
	s.Reconfigure(&types.ConnectReply{RunID: "run-1"})
	require.NoError(t, s.Start())
	require.NoError(t, s.Close())

	require.NoError(t, s.Start())
	assert.Equal(t, 1, dialer.Opens())
}

func TestStreamingAggregatorReconfigureReconnects(t *testing.T) {
	s, dialer, _ := newStreamingTest(t)
	s.Reconfigure(&types.ConnectReply{RunID: "run-1"})
	require.NoError(t, s.Start())
	first := dialer.Last()

	s.Reconfigure(&types.ConnectReply{RunID: "run-2"})

	assert.True(t, first.Ended())
	assert.Equal(t, 2, dialer.Opens())
	assert.Equal(t, []string{"run-2"}, dialer.Metadata()[1].Get("agent_run_token"))
}

func TestStreamingAggregatorSendWarnsOnce(t *testing.T) {
	s, _, lgr := newStreamingTest(t)

	require.NoError(t, s.Send(context.Background()))
	require.NoError(t, s.Send(context.Background()))

	assert.Len(t, lgr.EventsAt(config.WarnLevel), 1)
}

func TestNewAggregatorWithoutTraceObserver(t *testing.T) {
	agg, err := NewAggregator(Deps{
		Config:  &config.MockConfig{},
		Logger:  &logger.NullLogger{},
		Metrics: &metrics.NullMetrics{},
		Clock:   clockwork.NewFakeClock(),
		Sender:  &fakeSender{},
	})
	require.NoError(t, err)
	_, ok := agg.(*Aggregator)
	assert.True(t, ok)
}

func TestPipelineBuildsAggregatorOnStart(t *testing.T) {
	mm := &metrics.MockMetrics{}
	mm.Start()
	dialer := &traceobserver.MockDialer{}
	p := &Pipeline{
		Config: &config.MockConfig{
			GetInfiniteTracingConfigVal: config.InfiniteTracingConfig{
				TraceObserver: config.TraceObserverConfig{Host: "observer.example.com", Port: 443},
				SpanEvents:    config.InfiniteTracingSpanEvents{QueueSize: 10},
			},
		},
		Logger:  &logger.NullLogger{},
		Metrics: mm,
		Clock:   clockwork.NewFakeClock(),
		Dialer:  dialer,
	}
	assert.Nil(t, p.TraceObserver())

	require.NoError(t, p.Start())
	require.NotNil(t, p.TraceObserver())

	p.Reconfigure(&types.ConnectReply{RunID: "run-1"})
	assert.Equal(t, traceobserver.Connected, p.TraceObserver().State())
	assert.True(t, p.AddSegment(testSegment("a", 1), "", true))

	require.NoError(t, p.Stop())
	assert.Equal(t, 1, dialer.Opens())
}
