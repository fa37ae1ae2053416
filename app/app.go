package app

import (
	"fmt"
	"sync"

	"github.com/spanwire/agentcore/agentmetrics"
	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/internal/health"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
	"github.com/spanwire/agentcore/normalize"
	"github.com/spanwire/agentcore/spans"
	"github.com/spanwire/agentcore/traceobserver"
	"github.com/spanwire/agentcore/types"
)

const (
	subsystemConnect       = "connect_reply"
	subsystemTraceObserver = "trace_observer"

	metricIgnoredTransactions = "Supportability/Normalization/Transaction/Ignored"
)

// App ties the naming engine, the agent metrics and the span pipeline to one
// run of the agent.
type App struct {
	Config       config.Config                     `inject:""`
	Logger       logger.Logger                     `inject:""`
	Metrics      metrics.Metrics                   `inject:"genericMetrics"`
	Health       health.Recorder                   `inject:""`
	URLs         *normalize.Normalizer             `inject:"urlNormalizer"`
	MetricNames  *normalize.Normalizer             `inject:"metricNormalizer"`
	Transactions *normalize.Normalizer             `inject:"transactionNormalizer"`
	SegmentTerms *normalize.SegmentTermsNormalizer `inject:""`
	AgentMetrics *agentmetrics.Aggregator          `inject:""`
	Spans        spans.EventAggregator             `inject:""`

	// Version is the build ID for the agent
	Version string `inject:"version"`

	reply *types.ConnectReply
	mut   sync.RWMutex
}

func (a *App) Start() error {
	a.Logger.Debug().Logf("Starting up App...")

	a.Metrics.Register(metrics.Metadata{
		Name:        metricIgnoredTransactions,
		Type:        metrics.Counter,
		Description: "transaction names dropped by an ignore rule",
	})

	a.Health.Register(subsystemConnect, 0)
	if owner, ok := a.Spans.(traceObserverOwner); ok {
		if conn := owner.TraceObserver(); conn != nil {
			a.Health.Register(subsystemTraceObserver, 0)
			conn.Subscribe(&observerHealth{recorder: a.Health})
		}
	}

	a.loadURLRules(nil)
	a.Config.RegisterReloadCallback(a.reloadRules)

	a.Logger.Info().WithString("version", a.Version).Logf("agent core started")
	return nil
}

func (a *App) Stop() error {
	a.Logger.Debug().Logf("Shutting down App...")
	return nil
}

// ApplyConnectReply installs the server-side settings for a new run: naming
// rules, segment terms, apdex and the run id used by both harvests and the
// span stream.
func (a *App) ApplyConnectReply(reply *types.ConnectReply) error {
	if err := reply.Validate(); err != nil {
		return fmt.Errorf("rejecting connect reply: %w", err)
	}

	a.mut.Lock()
	a.reply = reply
	a.mut.Unlock()

	a.loadURLRules(reply.URLRules)
	a.MetricNames.Load(reply.MetricRules)
	a.Transactions.Load(reply.TransactionRules)
	a.SegmentTerms.Load(reply.SegmentTerms)

	a.AgentMetrics.Reconfigure(reply)
	a.Spans.Reconfigure(reply)

	a.Logger.Info().WithFields(map[string]any{
		"run_id":            reply.RunID,
		"url_rules":         len(reply.URLRules),
		"metric_rules":      len(reply.MetricRules),
		"transaction_rules": len(reply.TransactionRules),
		"segment_terms":     len(reply.SegmentTerms),
	}).Logf("applied connect reply")
	a.Health.Ready(subsystemConnect, true)
	return nil
}

// loadURLRules replaces the URL rules with the server rules followed by the
// locally configured ones.
func (a *App) loadURLRules(server []normalize.RuleConfig) {
	a.URLs.Load(server)
	a.URLs.LoadFromConfig()
}

func (a *App) reloadRules(cfgHash string) {
	a.mut.RLock()
	var server []normalize.RuleConfig
	if a.reply != nil {
		server = a.reply.URLRules
	}
	a.mut.RUnlock()

	a.Logger.Info().WithString("hash", cfgHash).Logf("reloading local naming rules")
	a.loadURLRules(server)
}

// NormalizeURL turns a request path into a transaction name.
func (a *App) NormalizeURL(path string) normalize.Result {
	return a.URLs.Normalize(path)
}

func (a *App) NormalizeMetric(name string) normalize.Result {
	return a.MetricNames.Normalize(name)
}

// NormalizeTransaction applies the transaction rules and then the segment
// terms. An ignored name is returned as is.
func (a *App) NormalizeTransaction(name string) normalize.Result {
	result := a.Transactions.Normalize(name)
	if result.Ignore {
		a.Metrics.Increment(metricIgnoredTransactions)
		return result
	}
	if terms := a.SegmentTerms.Normalize(result.Value); terms.Matched {
		result.Matched = true
		result.Value = terms.Value
	}
	return result
}

// RecordSegment times seg in the agent metrics and offers it to the span
// event aggregator. It reports whether the span was kept.
func (a *App) RecordSegment(seg spans.Segment, parentID string, isRoot bool) bool {
	ms := float64(seg.Duration().Microseconds()) / 1000
	a.AgentMetrics.Update(func(m *agentmetrics.Metrics) {
		m.MeasureMilliseconds(seg.Name(), "", ms, ms)
	})
	return a.Spans.AddSegment(seg, parentID, isRoot)
}

// traceObserverOwner is implemented by span aggregators that stream over a
// trace observer connection.
type traceObserverOwner interface {
	TraceObserver() *traceobserver.Connection
}

// observerHealth reports the trace observer connection state as readiness.
type observerHealth struct {
	recorder health.Recorder
}

func (o *observerHealth) Connected(traceobserver.DuplexStream) {
	o.recorder.Ready(subsystemTraceObserver, true)
}

func (o *observerHealth) Disconnected() {
	o.recorder.Ready(subsystemTraceObserver, false)
}
