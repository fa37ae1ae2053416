package traceobserver

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// StreamHandlers receive events from a DuplexStream. They are called on the
// stream's own goroutines and never while the stream holds its lock.
type StreamHandlers struct {
	OnData   func(msg proto.Message)
	OnError  func(err error)
	OnStatus func(st *status.Status)
}

// DuplexStream is an outbound message stream with flow control and an
// inbound stream of replies.
type DuplexStream interface {
	// Write accepts msg. It returns false when the caller should stop writing;
	// onDrain is then called once when the stream can take more.
	Write(msg proto.Message, onDrain func()) bool
	// Subscribe installs handlers and starts delivering events.
	Subscribe(h StreamHandlers)
	// RemoveAllListeners detaches the handlers. Events after this are dropped.
	RemoveAllListeners()
	// End flushes accepted messages, half-closes the stream and releases it.
	End()
}

// DefaultHighWaterMark is how many unsent messages a stream buffers before
// Write reports backpressure.
const DefaultHighWaterMark = 16

const closeGracePeriod = 5 * time.Second

type grpcStream struct {
	conn      *grpc.ClientConn
	desc      *grpc.StreamDesc
	method    string
	md        metadata.MD
	callOpts  []grpc.CallOption
	newReply  func() proto.Message
	highWater int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []proto.Message
	drains   []func()
	handlers StreamHandlers
	started  bool
	ended    bool
	broken   bool

	wg conc.WaitGroup
}

func newGRPCStream(conn *grpc.ClientConn, desc *grpc.StreamDesc, method string, md metadata.MD, newReply func() proto.Message, callOpts ...grpc.CallOption) *grpcStream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &grpcStream{
		conn:      conn,
		desc:      desc,
		method:    method,
		md:        md,
		callOpts:  callOpts,
		newReply:  newReply,
		highWater: DefaultHighWaterMark,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *grpcStream) Write(msg proto.Message, onDrain func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.broken {
		return true
	}
	s.pending = append(s.pending, msg)
	s.cond.Signal()
	if len(s.pending) < s.highWater {
		return true
	}
	if onDrain != nil {
		s.drains = append(s.drains, onDrain)
	}
	return false
}

func (s *grpcStream) Subscribe(h StreamHandlers) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = h
	if s.started || s.ended {
		return
	}
	s.started = true
	s.wg.Go(s.run)
}

func (s *grpcStream) RemoveAllListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = StreamHandlers{}
}

func (s *grpcStream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	s.ended = true
	s.cond.Broadcast()
	if !s.started {
		// nothing was ever opened
		s.cancel()
		s.conn.Close()
	}
}

// Wait blocks until the stream's goroutines have exited.
func (s *grpcStream) Wait() {
	s.wg.Wait()
}

func (s *grpcStream) currentHandlers() StreamHandlers {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handlers
}

// run opens the call, then sends until the stream is ended or broken. Replies
// are read on a second goroutine, which reports the final status.
func (s *grpcStream) run() {
	defer s.conn.Close()
	defer s.cancel()

	ctx := metadata.NewOutgoingContext(s.ctx, s.md)
	cs, err := s.conn.NewStream(ctx, s.desc, s.method, s.callOpts...)
	if err != nil {
		s.markBroken()
		s.finish(err)
		return
	}

	var recv conc.WaitGroup
	recv.Go(func() { s.receive(cs) })

	s.send(cs)
	recv.Wait()
}

func (s *grpcStream) send(cs grpc.ClientStream) {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.ended && !s.broken {
			s.cond.Wait()
		}
		if s.broken {
			s.mu.Unlock()
			return
		}
		if len(s.pending) == 0 {
			// ended and flushed; give the server a moment to close its side
			s.mu.Unlock()
			cs.CloseSend()
			time.AfterFunc(closeGracePeriod, s.cancel)
			return
		}
		msg := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		var drains []func()
		if len(s.pending) == 0 && len(s.drains) > 0 {
			drains = s.drains
			s.drains = nil
		}
		s.mu.Unlock()

		if err := cs.SendMsg(msg); err != nil {
			// the real status is reported by RecvMsg
			s.markBroken()
			return
		}
		for _, fn := range drains {
			fn()
		}
	}
}

func (s *grpcStream) receive(cs grpc.ClientStream) {
	for {
		reply := s.newReply()
		err := cs.RecvMsg(reply)
		if err != nil {
			s.markBroken()
			s.finish(err)
			return
		}
		if h := s.currentHandlers(); h.OnData != nil {
			h.OnData(reply)
		}
	}
}

func (s *grpcStream) markBroken() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.broken = true
	s.pending = nil
	s.drains = nil
	s.cond.Broadcast()
}

// finish reports the end of the call. A clean close is an OK status; anything
// else is an error followed by its status.
func (s *grpcStream) finish(err error) {
	h := s.currentHandlers()
	if errors.Is(err, io.EOF) {
		if h.OnStatus != nil {
			h.OnStatus(status.New(codes.OK, ""))
		}
		return
	}
	if h.OnError != nil {
		h.OnError(err)
	}
	if h.OnStatus != nil {
		h.OnStatus(status.Convert(err))
	}
}
