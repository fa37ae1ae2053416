package spans

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
	"github.com/spanwire/agentcore/spanstream"
	"github.com/spanwire/agentcore/traceobserver"
	"github.com/spanwire/agentcore/types"
)

// Deps are the collaborators an aggregator may need.
type Deps struct {
	Config  config.Config
	Logger  logger.Logger
	Metrics metrics.Metrics
	Clock   clockwork.Clock
	// Sender delivers harvested events; unused when streaming.
	Sender types.Sender
	// Dialer opens trace observer streams; unused without a trace observer.
	Dialer traceobserver.Dialer
}

// NewAggregator returns a StreamingAggregator when a trace observer host is
// configured and a reservoir Aggregator otherwise.
func NewAggregator(deps Deps) (EventAggregator, error) {
	itc := deps.Config.GetInfiniteTracingConfig()
	if !itc.Enabled() {
		return &Aggregator{
			Config:  deps.Config,
			Logger:  deps.Logger,
			Metrics: deps.Metrics,
			Clock:   deps.Clock,
			Sender:  deps.Sender,
		}, nil
	}

	dialer := deps.Dialer
	if dialer == nil {
		dialer = &traceobserver.GRPCDialer{Config: deps.Config, Logger: deps.Logger}
	}
	conn := &traceobserver.Connection{
		Config:  deps.Config,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
		Clock:   deps.Clock,
		Dialer:  dialer,
	}
	if err := conn.Start(); err != nil {
		return nil, fmt.Errorf("starting trace observer connection: %w", err)
	}

	streamer, err := spanstream.New(itc, spanstream.Options{
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
		Clock:      deps.Clock,
		Connection: conn,
		LicenseKey: deps.Config.GetLicenseKey(),
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	deps.Logger.Info().WithFields(map[string]interface{}{
		"host":     itc.TraceObserver.Host,
		"port":     itc.TraceObserver.Port,
		"batching": itc.Batching.Get(),
	}).Logf("streaming span events to trace observer")

	return &StreamingAggregator{
		Logger:     deps.Logger,
		Streamer:   streamer,
		Connection: conn,
	}, nil
}

// Pipeline is the object-graph form of NewAggregator. The concrete aggregator
// is chosen and built when the pipeline starts, after its collaborators have
// started.
type Pipeline struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"genericMetrics"`
	Clock   clockwork.Clock `inject:""`
	Sender  types.Sender    `inject:""`
	// Dialer overrides the gRPC dialer when set.
	Dialer traceobserver.Dialer

	EventAggregator
}

func (p *Pipeline) Start() error {
	agg, err := NewAggregator(Deps{
		Config:  p.Config,
		Logger:  p.Logger,
		Metrics: p.Metrics,
		Clock:   p.Clock,
		Sender:  p.Sender,
		Dialer:  p.Dialer,
	})
	if err != nil {
		return err
	}
	p.EventAggregator = agg
	return agg.Start()
}

// Stop is the final teardown of the pipeline's aggregator. A later Start
// builds a new one.
func (p *Pipeline) Stop() error {
	if p.EventAggregator == nil {
		return nil
	}
	if c, ok := p.EventAggregator.(interface{ Close() error }); ok {
		return c.Close()
	}
	return p.EventAggregator.Stop()
}

// TraceObserver returns the trace observer connection, or nil when spans are
// sampled locally.
func (p *Pipeline) TraceObserver() *traceobserver.Connection {
	if sa, ok := p.EventAggregator.(*StreamingAggregator); ok {
		return sa.TraceObserver()
	}
	return nil
}
