package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"camlink-agent/internal/model"
)

// GRPCTransport pushes frames over a bidirectional gRPC stream encoded with msgpack.
type GRPCTransport struct {
	logger    *slog.Logger
	addr      string
	tlsConfig *tls.Config
	method    string
}

func NewGRPCTransport(addr string, tlsCfg *tls.Config, method string, logger *slog.Logger) *GRPCTransport {
	encoding.RegisterCodec(msgpackCodec{})
	return &GRPCTransport{
		logger:    logger,
		addr:      addr,
		tlsConfig: tlsCfg,
		method:    method,
	}
}

func (t *GRPCTransport) Dial(ctx context.Context, target Target, emit EventFunc) (Session, error) {
	var creds credentials.TransportCredentials
	if t.tlsConfig != nil {
		creds = credentials.NewTLS(t.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.DialContext(
		ctx,
		t.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(msgpackCodec{}), grpc.CallContentSubtype("msgpack")),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", t.addr, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	md := []string{"x-device-id", target.DeviceID}
	if target.APIKey != "" {
		md = append(md, "x-api-key", target.APIKey)
	}
	sctx = metadata.AppendToOutgoingContext(sctx, md...)
	cs, err := conn.NewStream(sctx, &grpc.StreamDesc{ClientStreams: true, ServerStreams: true}, t.method)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("open frame stream: %w", err)
	}

	s := &grpcSession{conn: conn, stream: cs, cancel: cancel, deviceID: target.DeviceID}
	go s.recvLoop(sctx, emit)
	t.logger.Debug("grpc frame stream opened", "addr", t.addr, "method", t.method)
	return s, nil
}

type grpcSession struct {
	conn      *grpc.ClientConn
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	deviceID  string
	closeOnce sync.Once
}

func (s *grpcSession) WriteFrame(ctx context.Context, f *model.Frame) error {
	msg := NewFrameMessage(s.deviceID, f)
	done := make(chan error, 1)
	go func() {
		done <- s.stream.SendMsg(msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("send frame: %w", ctx.Err())
	}
}

func (s *grpcSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.stream.CloseSend()
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

func (s *grpcSession) recvLoop(ctx context.Context, emit EventFunc) {
	for {
		var ack FrameAck
		if err := s.stream.RecvMsg(&ack); err != nil {
			if ctx.Err() == nil {
				emit(Event{Kind: EventDisconnected, Err: err})
			}
			return
		}
		emit(Event{Kind: EventText, Payload: []byte(fmt.Sprintf("ack seq=%d %s", ack.Seq, ack.Message))})
	}
}
