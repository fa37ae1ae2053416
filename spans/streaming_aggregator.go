package spans

import (
	"context"
	"maps"
	"sync"

	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/spanstream"
	"github.com/spanwire/agentcore/traceobserver"
	"github.com/spanwire/agentcore/types"
)

var _ EventAggregator = (*StreamingAggregator)(nil)

// StreamingAggregator hands every span event to a streamer as soon as it is
// built. Nothing is kept for a harvest.
type StreamingAggregator struct {
	Logger     logger.Logger
	Streamer   spanstream.SpanStreamer
	Connection *traceobserver.Connection

	mut            sync.Mutex
	started        bool
	runID          string
	requestHeaders map[string]string
	sendWarning    sync.Once
}

// Start begins streaming. Spans added before Start are dropped.
func (s *StreamingAggregator) Start() error {
	s.mut.Lock()
	s.started = true
	runID, headers := s.runID, s.requestHeaders
	s.mut.Unlock()

	if runID != "" {
		s.Streamer.Connect(runID, headers)
	}
	return nil
}

// Stop stops accepting spans and ends the current stream. A later Start
// reconnects with the last run's details.
func (s *StreamingAggregator) Stop() error {
	s.mut.Lock()
	s.started = false
	s.mut.Unlock()

	s.Streamer.Disconnect()
	return nil
}

// Close stops the aggregator and closes the trace observer connection for
// good, cancelling pending reconnects.
func (s *StreamingAggregator) Close() error {
	s.Stop()
	if s.Connection != nil {
		s.Connection.Close()
	}
	return nil
}

// Reconfigure moves the stream to a new run.
func (s *StreamingAggregator) Reconfigure(reply *types.ConnectReply) {
	s.mut.Lock()
	s.runID = reply.RunID
	s.requestHeaders = maps.Clone(reply.RequestHeadersMap)
	started := s.started
	s.mut.Unlock()

	if started {
		s.Streamer.Disconnect()
		s.Streamer.Connect(reply.RunID, reply.RequestHeadersMap)
	}
}

func (s *StreamingAggregator) AddSegment(seg Segment, parentID string, isRoot bool) bool {
	s.mut.Lock()
	started := s.started
	s.mut.Unlock()

	if !started {
		s.Logger.Trace().WithString("segment", seg.Name()).Logf("span streaming has not started; dropping span")
		return false
	}
	s.Streamer.Write(FromSegment(seg, parentID, isRoot))
	return true
}

func (s *StreamingAggregator) TraceObserver() *traceobserver.Connection {
	return s.Connection
}

// Send does nothing; spans leave through the streamer as they are added.
func (s *StreamingAggregator) Send(ctx context.Context) error {
	s.sendWarning.Do(func() {
		s.Logger.Warn().Logf("Send called on the streaming span event aggregator; spans are streamed, not harvested")
	})
	return nil
}
