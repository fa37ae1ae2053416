package traceobserver

import (
	"sync"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

var _ DuplexStream = (*MockStream)(nil)

// MockStream records writes and lets tests drive flow control and stream
// events by hand.
type MockStream struct {
	mu           sync.Mutex
	written      []proto.Message
	backpressure bool
	pushBackIn   int
	drains       []func()
	handlers     StreamHandlers
	subscribed   bool
	ended        bool
	removed      bool
}

func NewMockStream() *MockStream {
	return &MockStream{pushBackIn: -1}
}

func (m *MockStream) Write(msg proto.Message, onDrain func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.written = append(m.written, msg)
	switch {
	case m.pushBackIn > 0:
		m.pushBackIn--
	case m.pushBackIn == 0:
		m.backpressure = true
		m.pushBackIn = -1
	}
	if m.backpressure {
		if onDrain != nil {
			m.drains = append(m.drains, onDrain)
		}
		return false
	}
	return true
}

func (m *MockStream) Subscribe(h StreamHandlers) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = h
	m.subscribed = true
}

func (m *MockStream) RemoveAllListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = StreamHandlers{}
	m.removed = true
}

func (m *MockStream) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ended = true
}

// SetBackpressure makes later writes report that the stream is full.
func (m *MockStream) SetBackpressure(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.backpressure = on
}

// PushBackAfter turns on backpressure once n more writes have succeeded.
func (m *MockStream) PushBackAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pushBackIn = n
}

// Drain lifts backpressure and runs the registered drain callbacks.
func (m *MockStream) Drain() {
	m.mu.Lock()
	m.backpressure = false
	drains := m.drains
	m.drains = nil
	m.mu.Unlock()

	for _, fn := range drains {
		fn()
	}
}

func (m *MockStream) Written() []proto.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]proto.Message(nil), m.written...)
}

// Handlers returns the handlers currently installed.
func (m *MockStream) Handlers() StreamHandlers {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.handlers
}

func (m *MockStream) EmitError(err error) {
	if h := m.Handlers(); h.OnError != nil {
		h.OnError(err)
	}
}

func (m *MockStream) EmitStatus(st *status.Status) {
	if h := m.Handlers(); h.OnStatus != nil {
		h.OnStatus(st)
	}
}

func (m *MockStream) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.subscribed
}

func (m *MockStream) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ended
}

func (m *MockStream) ListenersRemoved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removed
}

var _ Dialer = (*MockDialer)(nil)

// MockDialer hands out MockStreams.
type MockDialer struct {
	// Err, when set, fails every Open.
	Err error
	// BeforeOpen, when set, runs at the start of every Open.
	BeforeOpen func()

	mu       sync.Mutex
	streams  []*MockStream
	metadata []metadata.MD
	opens    int
}

func (d *MockDialer) Open(md metadata.MD) (DuplexStream, error) {
	if d.BeforeOpen != nil {
		d.BeforeOpen()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	d.metadata = append(d.metadata, md)
	if d.Err != nil {
		return nil, d.Err
	}
	s := NewMockStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *MockDialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.opens
}

// Last returns the most recently opened stream, or nil.
func (d *MockDialer) Last() *MockStream {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *MockDialer) Metadata() []metadata.MD {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]metadata.MD(nil), d.metadata...)
}
