// Package spanstream buffers spans and writes them to the trace observer
// stream, one at a time or in batches.
package spanstream

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/internal/tracepb"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
	"github.com/spanwire/agentcore/traceobserver"
)

const (
	metricSeen          = "Supportability/InfiniteTracing/Span/Seen"
	metricSent          = "Supportability/InfiniteTracing/Span/Sent"
	metricDropped       = "Supportability/InfiniteTracing/Span/Dropped"
	metricQueueCapacity = "Supportability/InfiniteTracing/Span/QueueCapacity"
	metricQueueSize     = "Supportability/InfiniteTracing/Span/QueueSize"
	metricDrainDuration = "Supportability/InfiniteTracing/Drain/Duration"

	metricBatchingPrefix    = "Supportability/InfiniteTracing/gRPC/Batching/"
	metricCompressionPrefix = "Supportability/InfiniteTracing/gRPC/Compression/"

	DefaultQueueSize     = 10000
	DefaultBatchSize     = 100
	DefaultBatchInterval = 5 * time.Second

	dropWarnInterval = 30 * time.Second
)

// Span is a span that can be put on the wire.
type Span interface {
	StreamingSpan(schema *tracepb.Schema) *dynamicpb.Message
}

// SpanStreamer is implemented by Streamer and BatchStreamer.
type SpanStreamer interface {
	Write(span Span)
	Connect(runID string, requestHeaders map[string]string)
	Disconnect()
	QueueLen() int
}

// Options are the collaborators shared by both streamers.
type Options struct {
	Logger     logger.Logger
	Metrics    metrics.Metrics
	Clock      clockwork.Clock
	Connection *traceobserver.Connection
	LicenseKey string
	QueueSize  int
}

// New builds the streamer selected by the infinite tracing config.
func New(cfg config.InfiniteTracingConfig, opts Options) (SpanStreamer, error) {
	if opts.QueueSize == 0 {
		opts.QueueSize = cfg.SpanEvents.QueueSize
	}
	registerFeatureMetrics(opts.Metrics)
	opts.Metrics.Increment(metricCompressionPrefix + enabledName(cfg.Compression.Get()))
	opts.Metrics.Increment(metricBatchingPrefix + enabledName(cfg.Batching.Get()))

	if cfg.Batching.Get() {
		return NewBatchStreamer(opts, cfg.BatchSize, time.Duration(cfg.BatchInterval))
	}
	return NewStreamer(opts)
}

func enabledName(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func registerFeatureMetrics(m metrics.Metrics) {
	for _, prefix := range []string{metricBatchingPrefix, metricCompressionPrefix} {
		for _, state := range []string{"enabled", "disabled"} {
			m.Register(metrics.Metadata{Name: prefix + state, Type: metrics.Counter})
		}
	}
}

// core holds the queue and flow control state shared by both streamers. The
// variant decides how a writable stream is fed from the queue.
type core struct {
	logger     logger.Logger
	metrics    metrics.Metrics
	clock      clockwork.Clock
	connection *traceobserver.Connection
	licenseKey string
	queueSize  int
	schema     *tracepb.Schema

	mu         sync.Mutex
	queue      []Span
	writable   bool
	stream     traceobserver.DuplexStream
	drainStart time.Time
	dropWarn   rate.Sometimes

	// sendQueue feeds the stream from the queue; called with mu held.
	sendQueue func()
}

func newCore(opts Options) (*core, error) {
	schema, err := tracepb.Load()
	if err != nil {
		return nil, fmt.Errorf("creating span streamer: %w", err)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	c := &core{
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		connection: opts.Connection,
		licenseKey: opts.LicenseKey,
		queueSize:  opts.QueueSize,
		schema:     schema,
		dropWarn:   rate.Sometimes{Interval: dropWarnInterval},
	}

	for _, m := range []metrics.Metadata{
		{Name: metricSeen, Type: metrics.Counter, Description: "spans handed to the streamer"},
		{Name: metricSent, Type: metrics.Counter, Description: "spans written to the trace observer stream"},
		{Name: metricDropped, Type: metrics.Counter, Description: "spans dropped because the queue was full"},
		{Name: metricQueueCapacity, Type: metrics.Gauge, Description: "maximum number of queued spans"},
		{Name: metricQueueSize, Type: metrics.Gauge, Description: "spans waiting for the stream"},
		{Name: metricDrainDuration, Type: metrics.Histogram, Unit: metrics.Seconds, Description: "time spent waiting for the stream to drain"},
	} {
		c.metrics.Register(m)
	}
	c.metrics.Gauge(metricQueueCapacity, c.queueSize)

	return c, nil
}

// Connect starts streaming for a run.
func (c *core) Connect(runID string, requestHeaders map[string]string) {
	c.connection.SetConnectionDetails(c.licenseKey, runID, requestHeaders)
	c.connection.ConnectSpans()
}

func (c *core) Disconnect() {
	c.connection.Disconnect()
}

func (c *core) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue)
}

// Connected is called by the Connection when a new stream is available.
func (c *core) Connected(stream traceobserver.DuplexStream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stream = stream
	c.writable = true
	c.sendQueue()
	c.metrics.Gauge(metricQueueSize, len(c.queue))
}

// Disconnected is called by the Connection when the stream is gone. Spans
// queue until the next stream arrives.
func (c *core) Disconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stream = nil
	c.writable = false
}

// enqueueLocked adds span to the queue, or drops it when the queue is full.
func (c *core) enqueueLocked(span Span) bool {
	if len(c.queue) >= c.queueSize {
		c.metrics.Increment(metricDropped)
		c.dropWarn.Do(func() {
			c.logger.Warn().WithField("queue_size", c.queueSize).Logf("span queue is full; dropping spans")
		})
		return false
	}
	c.queue = append(c.queue, span)
	return true
}

// popLocked removes up to n spans from the front of the queue.
func (c *core) popLocked(n int) []Span {
	n = min(n, len(c.queue))
	spans := make([]Span, n)
	copy(spans, c.queue)
	clear(c.queue[:n])
	c.queue = c.queue[n:]
	return spans
}

// sendLocked writes msg, which carries n spans. When the stream reports
// backpressure the streamer stops writing until it drains.
func (c *core) sendLocked(msg proto.Message, n int) {
	stream := c.stream
	ok := stream.Write(msg, func() { c.drained(stream) })
	c.metrics.Count(metricSent, n)
	if !ok {
		c.writable = false
		c.drainStart = c.clock.Now()
	}
}

func (c *core) drained(stream traceobserver.DuplexStream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != stream {
		return
	}
	c.metrics.Histogram(metricDrainDuration, c.clock.Since(c.drainStart).Seconds())
	c.writable = true
	c.sendQueue()
	c.metrics.Gauge(metricQueueSize, len(c.queue))
}

// Streamer writes each span as its own message.
type Streamer struct {
	*core
}

var _ SpanStreamer = (*Streamer)(nil)

func NewStreamer(opts Options) (*Streamer, error) {
	c, err := newCore(opts)
	if err != nil {
		return nil, err
	}
	s := &Streamer{core: c}
	c.sendQueue = s.sendQueueLocked
	opts.Connection.Subscribe(c)
	return s, nil
}

func (s *Streamer) Write(span Span) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Increment(metricSeen)
	if !s.writable {
		s.enqueueLocked(span)
		s.metrics.Gauge(metricQueueSize, len(s.queue))
		return
	}
	s.sendLocked(span.StreamingSpan(s.schema), 1)
}

// sendQueueLocked sends queued spans one by one until the queue is empty or
// the stream pushes back.
func (s *Streamer) sendQueueLocked() {
	for s.writable && len(s.queue) > 0 {
		span := s.popLocked(1)[0]
		s.sendLocked(span.StreamingSpan(s.schema), 1)
	}
}
