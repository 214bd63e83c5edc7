package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/services"
	"edgefleet.c2/internal/protocol"
)

const (
	ServiceName = "c2.v0.C2"

	HeartbeatMethod         = "/" + ServiceName + "/Heartbeat"
	HeartbeatDocumentMethod = "/" + ServiceName + "/HeartbeatDocument"
	AcknowledgeMethod       = "/" + ServiceName + "/Acknowledge"

	requestIDHeader = "x-request-id"
	transportName   = "grpc"
)

// C2Server carries protocol datagrams as opaque bytes. The payload layout
// is owned by the protocol package, not by protobuf. HeartbeatDocument
// carries the JSON heartbeat and JSON response instead.
type C2Server interface {
	Heartbeat(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	HeartbeatDocument(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Acknowledge(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*C2Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
		{MethodName: "HeartbeatDocument", Handler: heartbeatDocumentHandler},
		{MethodName: "Acknowledge", Handler: acknowledgeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "c2/v0/c2.proto",
}

func RegisterC2Server(s grpc.ServiceRegistrar, srv C2Server) {
	s.RegisterService(&ServiceDesc, srv)
}

func heartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(C2Server).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HeartbeatMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(C2Server).Heartbeat(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func heartbeatDocumentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(C2Server).HeartbeatDocument(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HeartbeatDocumentMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(C2Server).HeartbeatDocument(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func acknowledgeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(C2Server).Acknowledge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AcknowledgeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(C2Server).Acknowledge(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

type Server struct {
	endpoint *services.C2Endpoint
}

func NewServer(endpoint *services.C2Endpoint) *Server {
	return &Server{endpoint: endpoint}
}

func (s *Server) Heartbeat(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	resp, err := s.endpoint.HandleHeartbeat(services.WithTransport(ctx, transportName), in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(resp), nil
}

func (s *Server) HeartbeatDocument(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	resp, err := s.endpoint.HandleHeartbeatDocument(services.WithTransport(ctx, transportName), in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return wrapperspb.Bytes(out), nil
}

func (s *Server) Acknowledge(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if _, err := s.endpoint.HandleAcknowledge(services.WithTransport(ctx, transportName), in.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func toStatus(err error) error {
	switch {
	case protocol.IsProtocolError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// UnaryInterceptor tags the request id, logs each call and turns panics
// into Internal errors.
func UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	requestID := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(requestIDHeader); len(ids) > 0 {
			requestID = ids[0]
		}
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = logger.WithRequestID(ctx, requestID)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "gRPC handler panic", "method", info.FullMethod, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = status.Error(codes.Internal, "internal error")
		}
		logger.DebugContext(ctx, "gRPC request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
	}()

	return handler(ctx, req)
}
