package traceobserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/internal/tracepb"
	"github.com/spanwire/agentcore/logger"
)

// TestCertificateEnv names an environment variable holding PEM root
// certificates, used when no certificates are configured.
const TestCertificateEnv = "NEWRELIC_GRPCCONNECTION_CA"

// Dialer opens a stream to the trace observer.
type Dialer interface {
	Open(md metadata.MD) (DuplexStream, error)
}

// GRPCDialer opens streams over gRPC using the infinite tracing config.
type GRPCDialer struct {
	Config config.Config `inject:""`
	Logger logger.Logger `inject:""`

	// ContextDialer replaces the network dialer, for in-process servers.
	ContextDialer func(ctx context.Context, addr string) (net.Conn, error)
}

var _ Dialer = (*GRPCDialer)(nil)

func (d *GRPCDialer) Open(md metadata.MD) (DuplexStream, error) {
	schema, err := tracepb.Load()
	if err != nil {
		return nil, errors.Wrap(err, "loading trace observer schema")
	}

	cfg := d.Config.GetInfiniteTracingConfig()
	creds, err := transportCredentials(cfg.TraceObserver)
	if err != nil {
		return nil, err
	}

	target := net.JoinHostPort(cfg.TraceObserver.Host, strconv.Itoa(cfg.TraceObserver.Port))
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if d.ContextDialer != nil {
		target = "passthrough:///" + target
		opts = append(opts, grpc.WithContextDialer(d.ContextDialer))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "creating trace observer client for %s", target)
	}

	method := tracepb.RecordSpanMethod
	if cfg.Batching.Get() {
		method = tracepb.RecordSpanBatchMethod
	}
	var callOpts []grpc.CallOption
	if cfg.Compression.Get() {
		callOpts = append(callOpts, grpc.UseCompressor(gzip.Name))
	}

	d.Logger.Debug().WithFields(map[string]interface{}{
		"target":      target,
		"method":      method,
		"compression": cfg.Compression.Get(),
	}).Logf("opening trace observer stream")

	newReply := func() proto.Message { return dynamicpb.NewMessage(schema.RecordStatus) }
	return newGRPCStream(conn, tracepb.StreamDesc(method), method, md, newReply, callOpts...), nil
}

func transportCredentials(cfg config.TraceObserverConfig) (credentials.TransportCredentials, error) {
	if cfg.Insecure {
		return insecure.NewCredentials(), nil
	}

	certs := cfg.RootCertificates
	if certs == "" {
		certs = os.Getenv(TestCertificateEnv)
	}
	if certs == "" {
		return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}), nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(certs)) {
		return nil, errors.New("no usable PEM certificates in trace observer root certificates")
	}
	return credentials.NewClientTLSFromCert(pool, ""), nil
}
