// Package hub fans history changes out to watchers. It is transport-agnostic:
// watchers register, receive changes through Send, and unregister when their
// connection goes away. The Hub implements history.Notifier.
package hub

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.klb.dev/clipstash/internal/history"
)

// WatcherInfo carries metadata about a registered watcher, reported by
// STATUS requests.
type WatcherInfo struct {
	ID          string       `json:"id"`
	Source      string       `json:"source"`
	Addr        string       `json:"addr"`
	Ops         []history.Op `json:"ops,omitempty"`
	ConnectedAt time.Time    `json:"connected_at"`
	LastSent    time.Time    `json:"last_sent,omitzero"`
	Dropped     int64        `json:"dropped,omitempty"`
}

// Watcher is anything that can receive history changes from the hub.
type Watcher interface {
	ID() string
	Info() WatcherInfo
	// Send delivers a change to the watcher. Must be non-blocking.
	Send(history.Change)
}

// Hub routes history changes to all registered watchers.
type Hub struct {
	mu       sync.RWMutex
	watchers map[string]Watcher
	latest   *history.Change
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{watchers: make(map[string]Watcher)}
}

// Register adds a watcher and immediately delivers the latest change, if any
// and if the watcher accepts it, so a new watcher learns the current size and
// hints without waiting for the next mutation. The replay happens under the
// lock so it can not overtake a concurrent Notify.
func (h *Hub) Register(w Watcher) {
	info := w.Info()

	h.mu.Lock()
	h.watchers[w.ID()] = w
	if h.latest != nil && accepts(info.Ops, h.latest.Op) {
		w.Send(*h.latest)
	}
	total := len(h.watchers)
	h.mu.Unlock()

	slog.Info("watcher registered",
		"watcher", w.ID(),
		"source", info.Source,
		"total", total,
	)
}

// Unregister removes a watcher from the hub.
func (h *Hub) Unregister(w Watcher) {
	h.mu.Lock()
	delete(h.watchers, w.ID())
	total := len(h.watchers)
	h.mu.Unlock()

	slog.Info("watcher unregistered",
		"watcher", w.ID(),
		"source", w.Info().Source,
		"total", total,
	)
}

// Notify records c as the latest change and fans it out to every watcher
// that accepts its op. Watchers never block, so delivery happens under the
// lock and every watcher sees changes in order.
func (h *Hub) Notify(c history.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &c
	for _, w := range h.watchers {
		if accepts(w.Info().Ops, c.Op) {
			w.Send(c)
		}
	}
}

// Latest returns the most recent change.
func (h *Hub) Latest() (history.Change, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return history.Change{}, false
	}
	return *h.latest, true
}

// Watchers returns a snapshot of all watcher metadata, ordered by id.
func (h *Hub) Watchers() []WatcherInfo {
	h.mu.RLock()
	out := make([]WatcherInfo, 0, len(h.watchers))
	for _, w := range h.watchers {
		out = append(out, w.Info())
	}
	h.mu.RUnlock()
	slices.SortFunc(out, func(a, b WatcherInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// accepts reports whether op is in ops. An empty ops accepts everything.
func accepts(ops []history.Op, op history.Op) bool {
	return len(ops) == 0 || slices.Contains(ops, op)
}
