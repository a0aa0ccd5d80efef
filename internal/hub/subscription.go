package hub

import (
	"log/slog"
	"sync/atomic"
	"time"

	"go.klb.dev/clipstash/internal/history"
)

// Subscription is a channel-backed Watcher. Changes that arrive while the
// buffer is full are dropped and counted.
type Subscription struct {
	id          string
	source      string
	addr        string
	ops         []history.Op
	ch          chan history.Change
	connectedAt time.Time
	lastSent    atomic.Int64 // UnixNano
	dropped     atomic.Int64
}

// NewSubscription returns a Subscription that accepts ops (all when empty)
// and buffers up to buf changes.
func NewSubscription(id, source, addr string, ops []history.Op, buf int) *Subscription {
	if buf < 1 {
		buf = 16
	}
	return &Subscription{
		id:          id,
		source:      source,
		addr:        addr,
		ops:         ops,
		ch:          make(chan history.Change, buf),
		connectedAt: time.Now(),
	}
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Info() WatcherInfo {
	info := WatcherInfo{
		ID:          s.id,
		Source:      s.source,
		Addr:        s.addr,
		Ops:         s.ops,
		ConnectedAt: s.connectedAt,
		Dropped:     s.dropped.Load(),
	}
	if ls := s.lastSent.Load(); ls > 0 {
		info.LastSent = time.Unix(0, ls)
	}
	return info
}

func (s *Subscription) Send(c history.Change) {
	select {
	case s.ch <- c:
		s.lastSent.Store(time.Now().UnixNano())
	default:
		s.dropped.Add(1)
		slog.Warn("watcher channel full, dropping", "watcher", s.id, "op", c.Op)
	}
}

// C returns the channel changes are delivered on.
func (s *Subscription) C() <-chan history.Change { return s.ch }
