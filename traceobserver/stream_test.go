package traceobserver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/internal/tracepb"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
)

// fakeObserver is an in-process trace observer.
type fakeObserver struct {
	schema *tracepb.Schema
	// fail, when set, ends every stream with this status before reading.
	fail *status.Status

	mu       sync.Mutex
	spans    []tracepb.DecodedSpan
	metadata []metadata.MD
	streams  int
}

func (f *fakeObserver) begin(stream grpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	f.mu.Lock()
	f.metadata = append(f.metadata, md)
	f.streams++
	f.mu.Unlock()
	if f.fail != nil {
		return f.fail.Err()
	}
	return nil
}

func (f *fakeObserver) recordSpan(_ any, stream grpc.ServerStream) error {
	if err := f.begin(stream); err != nil {
		return err
	}
	var seen uint64
	for {
		msg := dynamicpb.NewMessage(f.schema.Span)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		seen++
		f.mu.Lock()
		f.spans = append(f.spans, f.schema.DecodeSpan(msg))
		f.mu.Unlock()
		if err := stream.SendMsg(f.schema.NewRecordStatus(seen)); err != nil {
			return err
		}
	}
}

func (f *fakeObserver) recordSpanBatch(_ any, stream grpc.ServerStream) error {
	if err := f.begin(stream); err != nil {
		return err
	}
	var seen uint64
	for {
		msg := dynamicpb.NewMessage(f.schema.SpanBatch)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		spans := f.schema.DecodeSpanBatch(msg)
		seen += uint64(len(spans))
		f.mu.Lock()
		f.spans = append(f.spans, spans...)
		f.mu.Unlock()
		if err := stream.SendMsg(f.schema.NewRecordStatus(seen)); err != nil {
			return err
		}
	}
}

func (f *fakeObserver) Spans() []tracepb.DecodedSpan {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]tracepb.DecodedSpan(nil), f.spans...)
}

func (f *fakeObserver) Streams() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.streams
}

func startFakeObserver(t *testing.T, obs *fakeObserver) *bufconn.Listener {
	schema, err := tracepb.Load()
	require.NoError(t, err)
	obs.schema = schema

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: tracepb.ServiceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{StreamName: "RecordSpan", Handler: obs.recordSpan, ClientStreams: true, ServerStreams: true},
			{StreamName: "RecordSpanBatch", Handler: obs.recordSpanBatch, ClientStreams: true, ServerStreams: true},
		},
	}, obs)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis
}

func newBufconnDialer(lis *bufconn.Listener, batching bool) *GRPCDialer {
	b := config.DefaultTrue(batching)
	return &GRPCDialer{
		Config: &config.MockConfig{GetInfiniteTracingConfigVal: config.InfiniteTracingConfig{
			TraceObserver: config.TraceObserverConfig{Host: "bufnet", Port: 443, Insecure: true},
			Batching:      &b,
		}},
		Logger: &logger.NullLogger{},
		ContextDialer: func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		},
	}
}

type statusRecorder struct {
	mu       sync.Mutex
	errs     []error
	statuses []*status.Status
}

func (r *statusRecorder) handlers() StreamHandlers {
	return StreamHandlers{
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnStatus: func(st *status.Status) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, st)
		},
	}
}

func (r *statusRecorder) Statuses() []*status.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*status.Status(nil), r.statuses...)
}

func (r *statusRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]error(nil), r.errs...)
}

func TestGRPCStreamSendsSpans(t *testing.T) {
	obs := &fakeObserver{}
	lis := startFakeObserver(t, obs)
	dialer := newBufconnDialer(lis, false)

	stream, err := dialer.Open(buildMetadata("license", "run-7", map[string]string{"Tenant": "a"}))
	require.NoError(t, err)
	rec := &statusRecorder{}
	stream.Subscribe(rec.handlers())

	for _, id := range []string{"t1", "t2", "t3"} {
		assert.True(t, stream.Write(obs.schema.NewSpan(id, tracepb.Attributes{"name": id}, nil, nil), nil))
	}

	assert.Eventually(t, func() bool { return len(obs.Spans()) == 3 }, 5*time.Second, 5*time.Millisecond)
	spans := obs.Spans()
	assert.Equal(t, "t1", spans[0].TraceID)
	assert.Equal(t, "t3", spans[2].TraceID)

	obs.mu.Lock()
	md := obs.metadata[0]
	obs.mu.Unlock()
	assert.Equal(t, []string{"license"}, md.Get("license_key"))
	assert.Equal(t, []string{"run-7"}, md.Get("agent_run_token"))
	assert.Equal(t, []string{"a"}, md.Get("tenant"))

	stream.End()
	stream.(*grpcStream).Wait()
	assert.Empty(t, rec.Errors())
}

func TestGRPCStreamSendsBatches(t *testing.T) {
	obs := &fakeObserver{}
	lis := startFakeObserver(t, obs)
	dialer := newBufconnDialer(lis, true)

	stream, err := dialer.Open(buildMetadata("license", "run", nil))
	require.NoError(t, err)
	stream.Subscribe(StreamHandlers{})

	batch := obs.schema.NewSpanBatch([]*dynamicpb.Message{
		obs.schema.NewSpan("a", nil, nil, nil),
		obs.schema.NewSpan("b", nil, nil, nil),
	})
	stream.Write(batch, nil)

	assert.Eventually(t, func() bool { return len(obs.Spans()) == 2 }, 5*time.Second, 5*time.Millisecond)
	stream.End()
}

func TestGRPCStreamBackpressure(t *testing.T) {
	obs := &fakeObserver{}
	lis := startFakeObserver(t, obs)
	dialer := newBufconnDialer(lis, false)

	stream, err := dialer.Open(buildMetadata("license", "run", nil))
	require.NoError(t, err)
	defer stream.End()

	// nothing is sent until the stream is subscribed
	drained := make(chan struct{})
	for i := 0; i < DefaultHighWaterMark-1; i++ {
		require.True(t, stream.Write(obs.schema.NewSpan("x", nil, nil, nil), nil))
	}
	assert.False(t, stream.Write(obs.schema.NewSpan("x", nil, nil, nil), func() { close(drained) }))

	stream.Subscribe(StreamHandlers{})
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never drained")
	}
	assert.Eventually(t, func() bool { return len(obs.Spans()) == DefaultHighWaterMark }, 5*time.Second, 5*time.Millisecond)
}

func TestGRPCStreamReportsStatus(t *testing.T) {
	obs := &fakeObserver{fail: status.New(codes.Unimplemented, "no such method")}
	lis := startFakeObserver(t, obs)
	dialer := newBufconnDialer(lis, false)

	stream, err := dialer.Open(buildMetadata("license", "run", nil))
	require.NoError(t, err)
	rec := &statusRecorder{}
	stream.Subscribe(rec.handlers())

	assert.Eventually(t, func() bool { return len(rec.Statuses()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, codes.Unimplemented, rec.Statuses()[0].Code())
	assert.Len(t, rec.Errors(), 1)

	// writes after the stream broke are discarded
	assert.True(t, stream.Write(obs.schema.NewSpan("late", nil, nil, nil), nil))
	stream.End()
	stream.(*grpcStream).Wait()
}

func TestConnectionOverGRPC(t *testing.T) {
	obs := &fakeObserver{fail: status.New(codes.Unimplemented, "gone")}
	lis := startFakeObserver(t, obs)

	mm := &metrics.MockMetrics{}
	mm.Start()
	dialer := newBufconnDialer(lis, true)
	conn := &Connection{
		Config:  dialer.Config,
		Logger:  &logger.NullLogger{},
		Metrics: mm,
		Clock:   clockwork.NewFakeClock(),
		Dialer:  dialer,
	}
	require.NoError(t, conn.Start())
	defer conn.Close()
	conn.SetConnectionDetails("license", "run", nil)

	conn.ConnectSpans()
	assert.Equal(t, Connected, conn.State())

	assert.Eventually(t, func() bool { return conn.State() == Disconnected }, 5*time.Second, 5*time.Millisecond)
	v, _ := mm.Get("Supportability/InfiniteTracing/Span/gRPC/UNIMPLEMENTED")
	assert.Equal(t, 1.0, v)
	assert.Equal(t, 0, conn.pendingReconnects())
	assert.Equal(t, 1, obs.Streams())
}

func TestTransportCredentials(t *testing.T) {
	creds, err := transportCredentials(config.TraceObserverConfig{Insecure: true})
	require.NoError(t, err)
	assert.Equal(t, "insecure", creds.Info().SecurityProtocol)

	creds, err = transportCredentials(config.TraceObserverConfig{})
	require.NoError(t, err)
	assert.Equal(t, "tls", creds.Info().SecurityProtocol)

	_, err = transportCredentials(config.TraceObserverConfig{RootCertificates: "not a certificate"})
	assert.Error(t, err)

	t.Setenv(TestCertificateEnv, "still not a certificate")
	_, err = transportCredentials(config.TraceObserverConfig{})
	assert.Error(t, err)
}
