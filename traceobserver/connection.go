// Package traceobserver manages the long-lived span stream to a trace
// observer.
package traceobserver

import (
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateListener is told about connection transitions, in the order they
// happen. Calls are made without the connection's lock held.
type StateListener interface {
	Connected(stream DuplexStream)
	Disconnected()
}

const (
	metricResponseError = "Supportability/InfiniteTracing/Span/Response/Error"
	metricStatusPrefix  = "Supportability/InfiniteTracing/Span/gRPC/"
)

// Connection owns the stream to the trace observer. It is Connected as soon
// as a stream has been created locally; the observer's acceptance is only
// known when the stream reports a status.
type Connection struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"genericMetrics"`
	Clock   clockwork.Clock `inject:""`
	Dialer  Dialer          `inject:""`

	mu             sync.Mutex
	state          State
	generation     uint64
	stream         DuplexStream
	licenseKey     string
	runID          string
	requestHeaders map[string]string
	listeners      []StateListener
	timers         map[clockwork.Timer]struct{}
	closed         bool

	events      []func(StateListener)
	dispatching bool
}

func (c *Connection) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timers == nil {
		c.timers = make(map[clockwork.Timer]struct{})
	}
	c.Metrics.Register(metrics.Metadata{
		Name:        metricResponseError,
		Type:        metrics.Counter,
		Description: "transport errors reported by the trace observer stream",
	})
	for _, name := range codeNames {
		c.Metrics.Register(metrics.Metadata{
			Name:        metricStatusPrefix + name,
			Type:        metrics.Counter,
			Description: "trace observer streams that ended with this status",
		})
	}
	return nil
}

// Stop closes the connection for good.
func (c *Connection) Stop() error {
	c.Close()
	return nil
}

// Subscribe registers a listener for state transitions.
func (c *Connection) Subscribe(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, l)
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// SetConnectionDetails records the values sent as stream metadata on the next
// connect.
func (c *Connection) SetConnectionDetails(licenseKey, runID string, requestHeaders map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.licenseKey = licenseKey
	c.runID = runID
	c.requestHeaders = requestHeaders
}

// ConnectSpans opens a stream when the connection is Disconnected and does
// nothing otherwise. Setup failures are logged and leave it Disconnected.
func (c *Connection) ConnectSpans() {
	c.mu.Lock()
	if c.closed || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Connecting)
	gen := c.generation
	runID := c.runID
	md := buildMetadata(c.licenseKey, runID, c.requestHeaders)
	c.mu.Unlock()
	c.dispatch()

	c.Logger.Debug().WithString("run_id", runID).Logf("connecting to trace observer")
	stream, err := c.Dialer.Open(md)
	if err != nil {
		c.Logger.Error().Logf("failed to set up trace observer stream: %v", err)
		c.mu.Lock()
		if c.generation == gen {
			c.disconnectLocked()
		}
		c.mu.Unlock()
		c.dispatch()
		return
	}

	c.mu.Lock()
	if c.closed || c.generation != gen || c.state != Connecting {
		// disconnected while the stream was being set up
		c.mu.Unlock()
		stream.End()
		return
	}
	c.stream = stream
	stream.Subscribe(c.handlersFor(gen))
	c.setStateLocked(Connected)
	c.mu.Unlock()
	c.dispatch()
}

// Disconnect detaches and ends the current stream. It is safe to call in any
// state.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.disconnectLocked()
	c.mu.Unlock()
	c.dispatch()
}

// Reconnect disconnects, then calls ConnectSpans after delay. A zero delay
// reconnects right away on a new goroutine.
func (c *Connection) Reconnect(delay time.Duration) {
	c.mu.Lock()
	c.disconnectLocked()
	if !c.closed {
		c.scheduleLocked(delay)
	}
	c.mu.Unlock()
	c.dispatch()
}

// Close disconnects and stops pending reconnects. A closed connection never
// connects again.
func (c *Connection) Close() {
	c.mu.Lock()
	c.disconnectLocked()
	c.closed = true
	for t := range c.timers {
		t.Stop()
	}
	clear(c.timers)
	c.mu.Unlock()
	c.dispatch()
}

func (c *Connection) scheduleLocked(delay time.Duration) {
	if delay <= 0 {
		go c.ConnectSpans()
		return
	}
	if c.timers == nil {
		c.timers = make(map[clockwork.Timer]struct{})
	}
	var t clockwork.Timer
	t = c.Clock.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, t)
		c.mu.Unlock()
		c.ConnectSpans()
	})
	c.timers[t] = struct{}{}
}

func (c *Connection) pendingReconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.timers)
}

func (c *Connection) disconnectLocked() {
	if c.stream != nil {
		c.stream.RemoveAllListeners()
		c.stream.End()
		c.stream = nil
	}
	if c.state == Disconnected {
		return
	}
	c.generation++
	c.setStateLocked(Disconnected)
}

func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	switch s {
	case Connected:
		stream := c.stream
		c.events = append(c.events, func(l StateListener) { l.Connected(stream) })
	case Disconnected:
		c.events = append(c.events, func(l StateListener) { l.Disconnected() })
	}
}

// dispatch delivers queued events. Only one goroutine delivers at a time, so
// listeners see transitions in order even when they call back in.
func (c *Connection) dispatch() {
	c.mu.Lock()
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true
	for len(c.events) > 0 {
		ev := c.events[0]
		c.events = c.events[1:]
		listeners := slices.Clone(c.listeners)
		c.mu.Unlock()
		for _, l := range listeners {
			ev(l)
		}
		c.mu.Lock()
	}
	c.dispatching = false
	c.mu.Unlock()
}

func (c *Connection) handlersFor(gen uint64) StreamHandlers {
	return StreamHandlers{
		// replies carry nothing we act on, but they must be read for the
		// final status to arrive
		OnData: func(proto.Message) {},
		OnError: func(err error) {
			if !c.isCurrent(gen) {
				return
			}
			c.Metrics.Increment(metricResponseError)
			c.Logger.Warn().Logf("trace observer stream error: %v", err)
		},
		OnStatus: func(st *status.Status) {
			if !c.isCurrent(gen) {
				return
			}
			c.handleStatus(st)
		},
	}
}

func (c *Connection) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.closed && c.generation == gen
}

func (c *Connection) handleStatus(st *status.Status) {
	name := StatusName(st.Code())
	switch st.Code() {
	case codes.Unimplemented:
		c.Metrics.Increment(metricStatusPrefix + name)
		c.Logger.Error().Logf("trace observer does not support the span stream; infinite tracing is disabled for this run: %s", st.Message())
		c.Disconnect()
	case codes.OK:
		c.Logger.Debug().Logf("trace observer closed the stream; reconnecting")
		c.Reconnect(0)
	default:
		c.Metrics.Increment(metricStatusPrefix + name)
		delay := c.reconnectDelay()
		c.Logger.Warn().WithFields(map[string]interface{}{
			"status": name,
			"delay":  delay.String(),
		}).Logf("trace observer stream ended: %s", st.Message())
		c.Reconnect(delay)
	}
}

func (c *Connection) reconnectDelay() time.Duration {
	d := time.Duration(c.Config.GetInfiniteTracingConfig().ReconnectDelay)
	if d <= 0 {
		d = 15 * time.Second
	}
	return d
}
