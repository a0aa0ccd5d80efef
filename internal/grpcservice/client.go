package grpcservice

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/server"
	"go.klb.dev/clipstash/internal/tlsconf"
	"go.klb.dev/clipstash/internal/wire"
)

// Client talks to a remote daemon over gRPC. It has the same methods as the
// IPC server.Client.
type Client struct {
	conn *grpc.ClientConn
}

// Dial returns a Client for addr. token is used for both TLS key derivation
// and per-RPC auth. The connection is established lazily.
func Dial(addr, token, source string) (*Client, error) {
	creds, err := tlsconf.ClientCredentials(tlsconf.Passphrase(token))
	if err != nil {
		return nil, fmt.Errorf("tls credentials: %w", err)
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(wire.MaxMessageSize),
			grpc.MaxCallSendMsgSize(wire.MaxMessageSize),
		),
	}
	if token != "" || source != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&clientCreds{token: token, source: source}))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Do sends req and returns the response. Errors reported by the daemon wrap
// server.ErrRemote.
func (c *Client) Do(ctx context.Context, req *message.Message) (*message.Message, error) {
	name, ok := methodFor(req.Type)
	if !ok {
		return nil, fmt.Errorf("no method for %s", req.Type)
	}
	resp := new(message.Message)
	if err := c.conn.Invoke(ctx, fullMethod(name), req, resp); err != nil {
		return nil, remoteErr(req.Type, err)
	}
	return resp, nil
}

// Watch subscribes to ops (all when empty) and calls fn for every change
// until ctx is done, the stream ends, or fn returns an error.
func (c *Client) Watch(ctx context.Context, ops []history.Op, fn func(history.Change) error) error {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("Watch"))
	if err != nil {
		return remoteErr(message.TypeWatch, err)
	}
	if err := stream.SendMsg(&message.Message{Type: message.TypeWatch, Ops: ops}); err != nil {
		return remoteErr(message.TypeWatch, err)
	}
	if err := stream.CloseSend(); err != nil {
		return remoteErr(message.TypeWatch, err)
	}
	for {
		msg := new(message.Message)
		if err := stream.RecvMsg(msg); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return remoteErr(message.TypeWatch, err)
		}
		if msg.Type != message.TypeEvent || msg.Change == nil {
			continue
		}
		if err := fn(*msg.Change); err != nil {
			return err
		}
	}
}

// remoteErr wraps errors the daemon answered with in server.ErrRemote.
// Transport failures are returned as they are.
func remoteErr(t message.Type, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", t, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.Canceled, codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", t, err)
	}
	return fmt.Errorf("%w: %s", server.ErrRemote, st.Message())
}

type clientCreds struct {
	token  string
	source string
}

func (c *clientCreds) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	md := make(map[string]string, 2)
	if c.token != "" {
		md["authorization"] = "Bearer " + c.token
	}
	if c.source != "" {
		md[sourceKey] = c.source
	}
	return md, nil
}

func (c *clientCreds) RequireTransportSecurity() bool { return true }
