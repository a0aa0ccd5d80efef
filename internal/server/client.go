package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/ipc"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/wire"
)

// ErrRemote wraps ERROR responses.
var ErrRemote = errors.New("daemon error")

// Client talks to a running daemon over the IPC socket.
type Client struct {
	// Socket is the IPC socket path; empty means ipc.SocketPath().
	Socket string
	Source string

	dial func(ctx context.Context) (net.Conn, error)
}

func (c *Client) connect(ctx context.Context) (*wire.Conn, error) {
	dial := c.dial
	if dial == nil {
		dial = c.defaultDial
	}
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return wire.New(conn), nil
}

func (c *Client) defaultDial(ctx context.Context) (net.Conn, error) {
	path := c.Socket
	if path == "" {
		path = ipc.SocketPath()
	}
	conn, err := ipc.Dial(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s (is `clipstash daemon` running?): %w", path, err)
	}
	return conn, nil
}

// Close is a no-op; every request uses its own connection.
func (c *Client) Close() error { return nil }

// Do sends req and returns the response. ERROR responses become errors
// wrapping ErrRemote.
func (c *Client) Do(ctx context.Context, req *message.Message) (*message.Message, error) {
	wc, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer wc.Close()
	stop := context.AfterFunc(ctx, func() { _ = wc.Close() })
	defer stop()

	if req.Source == "" {
		req.Source = c.Source
	}
	if err := wc.WriteMsg(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Type, err)
	}
	resp, err := wc.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Type, err)
	}
	if resp.Type == message.TypeError {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}

// Watch subscribes to ops (all when empty) and calls fn for every change
// until ctx is done, the connection drops, or fn returns an error.
func (c *Client) Watch(ctx context.Context, ops []history.Op, fn func(history.Change) error) error {
	wc, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer wc.Close()
	stop := context.AfterFunc(ctx, func() { _ = wc.Close() })
	defer stop()

	if err := wc.WriteMsg(&message.Message{Type: message.TypeWatch, Source: c.Source, Ops: ops}); err != nil {
		return fmt.Errorf("send WATCH: %w", err)
	}
	for {
		msg, err := wc.ReadMsg()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
		switch msg.Type {
		case message.TypeOK:
		case message.TypeError:
			return fmt.Errorf("%w: %s", ErrRemote, msg.Error)
		case message.TypeEvent:
			if msg.Change == nil {
				continue
			}
			if err := fn(*msg.Change); err != nil {
				return err
			}
		}
	}
}
