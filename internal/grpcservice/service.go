// Package grpcservice serves the history on the TCP listener: gRPC for the
// CLI and an HTTP/JSON gateway for everything else, multiplexed on one TLS
// port.
package grpcservice

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/server"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clipstash.v1.History"

// sourceKey is the metadata key (and HTTP header) naming the caller.
const sourceKey = "x-clipstash-source"

// methods maps the unary gRPC methods to the requests they carry.
var methods = []struct {
	name string
	typ  message.Type
}{
	{"Add", message.TypeAdd},
	{"List", message.TypeList},
	{"Get", message.TypeGet},
	{"Pin", message.TypePin},
	{"Delete", message.TypeDelete},
	{"Clear", message.TypeClear},
	{"Restore", message.TypeRestore},
	{"Status", message.TypeStatus},
}

// methodFor returns the unary method name for t.
func methodFor(t message.Type) (string, bool) {
	for _, m := range methods {
		if m.typ == t {
			return m.name, true
		}
	}
	return "", false
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// historyServer is the handler type of serviceDesc.
type historyServer interface {
	Call(context.Context, *message.Message) (*message.Message, error)
	Watch(*message.Message, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*historyServer)(nil),
	Methods:     unaryMethods(),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "clipstash/v1/history",
}

func unaryMethods() []grpc.MethodDesc {
	out := make([]grpc.MethodDesc, len(methods))
	for i, m := range methods {
		out[i] = grpc.MethodDesc{MethodName: m.name, Handler: unaryHandler(m.name, m.typ)}
	}
	return out
}

func unaryHandler(name string, typ message.Type) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(message.Message)
		if err := dec(req); err != nil {
			return nil, err
		}
		// The method decides the request type, not the body.
		req.Type = typ
		if interceptor == nil {
			return srv.(historyServer).Call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
			return srv.(historyServer).Call(ctx, req.(*message.Message))
		})
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(message.Message)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	req.Type = message.TypeWatch
	return srv.(historyServer).Watch(req, stream)
}

// Service answers gRPC and gateway requests with a server.Server.
type Service struct {
	srv   *server.Server
	token string // empty = no auth
}

// New returns a Service backed by srv. token may be empty to disable auth.
func New(srv *server.Server, token string) *Service {
	return &Service{srv: srv, token: token}
}

// Call answers one unary request.
func (s *Service) Call(ctx context.Context, req *message.Message) (*message.Message, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	req.Source = sourceFromCtx(ctx, req.Source)
	resp, err := s.srv.Dispatch(ctx, req)
	if err != nil {
		slog.Debug("request failed", "type", req.Type, "source", req.Source, "err", err)
		return nil, toStatus(err)
	}
	return resp, nil
}

// Watch streams changes until the client goes away. The first message is an
// OK sent once the subscription is registered.
func (s *Service) Watch(req *message.Message, stream grpc.ServerStream) error {
	ctx := stream.Context()
	if err := s.auth(ctx); err != nil {
		return err
	}

	sub, cancel := s.srv.Subscribe(sourceFromCtx(ctx, req.Source), addrFromCtx(ctx), req.Ops)
	defer cancel()

	slog.Info("watch started", "watcher", sub.ID(), "addr", addrFromCtx(ctx), "ops", req.Ops)
	if err := stream.SendMsg(&message.Message{Type: message.TypeOK}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-sub.C():
			if err := stream.SendMsg(&message.Message{Type: message.TypeEvent, Change: &c}); err != nil {
				return err
			}
		}
	}
}

// auth validates the bearer token in ctx metadata. Skipped when s.token is empty.
func (s *Service) auth(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	tok := strings.TrimPrefix(vals[0], "Bearer ")
	if subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

// toStatus maps server errors to gRPC status codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, history.ErrNotFound), errors.Is(err, server.ErrEmpty):
		code = codes.NotFound
	case errors.Is(err, history.ErrAmbiguous), errors.Is(err, server.ErrBadRequest):
		code = codes.InvalidArgument
	case errors.Is(err, server.ErrCaptureDisabled):
		code = codes.FailedPrecondition
	}
	return status.Error(code, err.Error())
}

func sourceFromCtx(ctx context.Context, fallback string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(sourceKey); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	if fallback != "" {
		return fallback
	}
	return addrFromCtx(ctx)
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	// gateway requests carry the client address as metadata
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			return vals[0]
		}
	}
	return "unknown"
}
