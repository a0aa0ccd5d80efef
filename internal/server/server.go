// Package server answers control requests against a history.Store.
//
// Dispatch is transport-agnostic; the grpcservice package calls it for the
// TCP listener. This package itself serves the local IPC socket, which is
// owner-only and therefore trusted: each connection carries one
// newline-delimited JSON request and its response, except WATCH, which
// streams EVENT messages until the peer disconnects.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/wire"
)

const (
	requestTimeout = 30 * time.Second
	watchBuffer    = 64
)

var (
	// ErrBadRequest is returned for malformed or unknown requests.
	ErrBadRequest = errors.New("bad request")
	// ErrCaptureDisabled is returned by RESTORE when the daemon does not
	// own the system clipboard.
	ErrCaptureDisabled = errors.New("clipboard capture is disabled")
	// ErrEmpty is returned by GET and RESTORE without an id on an empty
	// history.
	ErrEmpty = errors.New("history is empty")
)

// Restorer writes an entry back to the system clipboard.
type Restorer interface {
	Name() string
	Restore(history.Entry) error
}

// Config wires a Server to the rest of the daemon.
type Config struct {
	Store *history.Store
	Hub   *hub.Hub
	// Capture is nil when clipboard capture is disabled; RESTORE then fails.
	Capture Restorer

	Version     string
	Persistence string
}

// Server answers control requests.
type Server struct {
	cfg       Config
	startedAt time.Time
	nextID    atomic.Uint64
	wg        sync.WaitGroup
}

// New returns a Server for cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Hub == nil {
		return nil, errors.New("server: store and hub are required")
	}
	return &Server{cfg: cfg, startedAt: time.Now()}, nil
}

// ServeIPC accepts trusted local connections on ln until ctx is done.
func (s *Server) ServeIPC(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Error("accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Wait blocks until every IPC connection handler has returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	wc := wire.New(conn)
	log := slog.With("conn", "ipc")

	wc.SetReadDeadline(requestTimeout)
	msg, err := wc.ReadMsg()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Warn("request read failed", "err", err)
		}
		return
	}
	wc.SetReadDeadline(0)

	if msg.Type == message.TypeWatch {
		s.watch(ctx, wc, msg)
		return
	}

	resp := s.Handle(ctx, msg)
	log.Debug("request handled", "type", msg.Type, "response", resp.Type, "source", msg.Source)
	err = wc.WriteMsg(resp)
	if errors.Is(err, wire.ErrTooLarge) {
		log.Warn("response too large", "type", msg.Type, "err", err)
		err = wc.WriteMsg(message.Errorf("%s: %v", msg.Type, err))
	}
	if err != nil {
		log.Warn("response write failed", "err", err)
	}
}

// Handle answers a single request. Errors become ERROR responses; it never
// returns nil.
func (s *Server) Handle(ctx context.Context, msg *message.Message) *message.Message {
	resp, err := s.Dispatch(ctx, msg)
	if err != nil {
		return message.Errorf("%v", err)
	}
	return resp
}

// Dispatch answers every request type except WATCH, which needs a stream;
// see Subscribe.
func (s *Server) Dispatch(ctx context.Context, msg *message.Message) (*message.Message, error) {
	store := s.cfg.Store
	switch msg.Type {
	case message.TypeAdd:
		if msg.Entry == nil {
			return nil, fmt.Errorf("%w: add: missing entry", ErrBadRequest)
		}
		stored, added := store.Insert(ctx, *msg.Entry)
		if stored.ID() == "" {
			return nil, fmt.Errorf("%w: add: invalid entry", ErrBadRequest)
		}
		return &message.Message{Type: message.TypeOK, Changed: added, Entry: &stored}, nil

	case message.TypeList:
		var f message.Filter
		if msg.Filter != nil {
			f = *msg.Filter
		}
		return &message.Message{
			Type:      message.TypeEntries,
			Summaries: message.Summarize(f.Apply(store.Entries())),
		}, nil

	case message.TypeGet:
		e, err := s.lookup(msg.ID)
		if err != nil {
			return nil, err
		}
		return &message.Message{Type: message.TypeOK, Entry: &e}, nil

	case message.TypePin:
		e, err := store.Lookup(msg.ID)
		if err != nil {
			return nil, err
		}
		flipped, ok := store.TogglePin(ctx, e.ID())
		if !ok {
			return nil, fmt.Errorf("pin %s: %w", e.ID().Short(), history.ErrNotFound)
		}
		return &message.Message{Type: message.TypeOK, Changed: true, Entry: &flipped}, nil

	case message.TypeDelete:
		e, err := store.Lookup(msg.ID)
		if err != nil {
			return nil, err
		}
		return &message.Message{Type: message.TypeOK, Changed: store.Delete(ctx, e.ID())}, nil

	case message.TypeClear:
		n := store.Clear(ctx)
		return &message.Message{Type: message.TypeOK, Changed: true, Count: n}, nil

	case message.TypeRestore:
		return s.restore(msg.ID)

	case message.TypeStatus:
		return &message.Message{Type: message.TypeStatusResponse, Status: s.status()}, nil

	default:
		return nil, fmt.Errorf("%w: unexpected message type %q", ErrBadRequest, msg.Type)
	}
}

// lookup resolves id, or the first entry when id is empty.
func (s *Server) lookup(id string) (history.Entry, error) {
	if id != "" {
		return s.cfg.Store.Lookup(id)
	}
	entries := s.cfg.Store.Entries()
	if len(entries) == 0 {
		return history.Entry{}, ErrEmpty
	}
	return entries[0], nil
}

// restore writes the entry for id, or the first entry when id is empty, to
// the system clipboard.
func (s *Server) restore(id string) (*message.Message, error) {
	if s.cfg.Capture == nil {
		return nil, fmt.Errorf("restore: %w", ErrCaptureDisabled)
	}
	e, err := s.lookup(id)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if err := s.cfg.Capture.Restore(e); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return &message.Message{Type: message.TypeOK, Entry: &e}, nil
}

func (s *Server) status() *message.StatusInfo {
	store := s.cfg.Store
	entries := store.Entries()
	st := &message.StatusInfo{
		Version:     s.cfg.Version,
		Persistence: s.cfg.Persistence,
		StartedAt:   s.startedAt,
		Len:         len(entries),
		Limit:       store.Limit(),
		Watchers:    s.cfg.Hub.Watchers(),
	}
	for _, e := range entries {
		if e.Pinned() {
			st.Pinned++
		}
	}
	if s.cfg.Capture != nil {
		st.Capture = s.cfg.Capture.Name()
	}
	st.LastInserted, _ = store.LastInserted()
	st.ScrollTarget, _ = store.ScrollTarget()
	return st
}

// Subscribe registers a watcher for ops (all when empty). The caller drains
// sub.C() and calls cancel when the peer goes away.
func (s *Server) Subscribe(source, addr string, ops []history.Op) (sub *hub.Subscription, cancel func()) {
	id := fmt.Sprintf("watch-%d", s.nextID.Add(1))
	sub = hub.NewSubscription(id, source, addr, ops, watchBuffer)
	s.cfg.Hub.Register(sub)
	return sub, func() { s.cfg.Hub.Unregister(sub) }
}

// watch streams changes to the peer until it disconnects or ctx is done.
func (s *Server) watch(ctx context.Context, wc *wire.Conn, msg *message.Message) {
	if err := wc.WriteMsg(&message.Message{Type: message.TypeOK}); err != nil {
		return
	}

	sub, cancel := s.Subscribe(msg.Source, "ipc", msg.Ops)
	defer cancel()

	// The peer sends nothing after WATCH; a read returning means it left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, err := wc.ReadMsg(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case c := <-sub.C():
			if err := wc.WriteMsg(&message.Message{Type: message.TypeEvent, Change: &c}); err != nil {
				slog.Debug("watch write failed", "watcher", sub.ID(), "err", err)
				return
			}
		}
	}
}
