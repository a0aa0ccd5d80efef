package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Lookup when no entry matches.
	ErrNotFound = errors.New("entry not found")
	// ErrAmbiguous is returned by Lookup when a prefix matches several entries.
	ErrAmbiguous = errors.New("ambiguous entry id")
)

// Options configures a Store.
type Options struct {
	// Limit returns the retention limit for unpinned entries. It is consulted
	// on every mutation, so the limit can change at runtime. Nil or values
	// below one mean DefaultLimit.
	Limit func() int

	// Notifier, when set, receives every change.
	Notifier Notifier
}

// Store is the synchronised owner of the clipboard history. Mutations run
// under a single write lock; the resulting collection is then copied and
// handed to the Persister outside that lock, so readers are never blocked by
// disk I/O. Persistence is best effort: failures are logged, never returned.
type Store struct {
	mu   sync.RWMutex
	list *List
	gen  uint64 // bumped on every mutation

	saveMu sync.Mutex
	saved  uint64 // generation of the last snapshot handed to the persister

	persister Persister
	limit     func() int
	notifier  Notifier
}

// Open loads the history from p and returns a ready Store. A failed load is
// logged and the store starts empty. p may be nil for a purely in-memory
// history.
func Open(ctx context.Context, p Persister, opts Options) *Store {
	s := &Store{
		persister: p,
		limit:     opts.Limit,
		notifier:  opts.Notifier,
	}

	var loaded []Entry
	if p != nil {
		entries, err := p.Load(ctx)
		if err != nil {
			slog.Warn("history load failed, starting empty", "err", err)
		} else {
			loaded = entries
		}
	}

	s.mu.Lock()
	s.list = NewList(loaded, s.currentLimit())
	c := s.changeLocked(Change{Op: OpLoad})
	s.mu.Unlock()

	slog.Info("history loaded", "entries", c.Len, "limit", s.Limit())
	return s
}

// Limit returns the retention limit currently in effect.
func (s *Store) Limit() int {
	return s.currentLimit()
}

// Add inserts a freshly captured entry. It reports false when the entry
// duplicates the current head of the history, or is invalid, and nothing
// changed.
func (s *Store) Add(ctx context.Context, e Entry) bool {
	_, ok := s.Insert(ctx, e)
	return ok
}

// Insert is Add, also returning the entry as stored: its id differs from e's
// when e reused the id of a pinned entry. When e duplicates the head, the
// head is returned with ok false. An invalid e returns a zero Entry.
func (s *Store) Insert(ctx context.Context, e Entry) (Entry, bool) {
	if err := e.check(); err != nil {
		slog.Warn("history add rejected", "err", err)
		return Entry{}, false
	}

	s.mu.Lock()
	stored, evicted, ok := s.list.add(e, s.currentLimit())
	if !ok {
		s.mu.Unlock()
		slog.Debug("history add skipped, same as head", "kind", e.Kind())
		return stored, false
	}
	s.changeLocked(Change{Op: OpAdd, ID: stored.id, Evicted: evicted})
	snap, gen := s.list.Entries(), s.gen
	s.mu.Unlock()

	if stored.id != e.id {
		slog.Info("history add kept pinned entry, new id assigned", "id", e.id.Short(), "new_id", stored.id.Short())
	}
	logEntry("history entry added", stored)
	if evicted > 0 {
		slog.Debug("history trimmed", "evicted", evicted, "limit", s.Limit())
	}
	s.save(ctx, snap, gen)
	return stored, true
}

// TogglePin flips the pin flag of the entry with the given id. Unknown ids
// are ignored and reported as false.
func (s *Store) TogglePin(ctx context.Context, id ID) (Entry, bool) {
	s.mu.Lock()
	e, evicted, ok := s.list.TogglePin(id, s.currentLimit())
	if !ok {
		s.mu.Unlock()
		slog.Debug("history pin ignored, unknown id", "id", id)
		return Entry{}, false
	}
	op, msg := OpUnpin, "history entry unpinned"
	if e.pinned {
		op, msg = OpPin, "history entry pinned"
	}
	s.changeLocked(Change{Op: op, ID: id, Evicted: evicted})
	snap, gen := s.list.Entries(), s.gen
	s.mu.Unlock()

	slog.Info(msg, "id", id.Short())
	s.save(ctx, snap, gen)
	return e, true
}

// Delete removes the entry with the given id. Unknown ids are ignored and
// reported as false.
func (s *Store) Delete(ctx context.Context, id ID) bool {
	s.mu.Lock()
	if _, ok := s.list.Delete(id); !ok {
		s.mu.Unlock()
		slog.Debug("history delete ignored, unknown id", "id", id)
		return false
	}
	s.changeLocked(Change{Op: OpDelete, ID: id})
	snap, gen := s.list.Entries(), s.gen
	s.mu.Unlock()

	slog.Info("history entry deleted", "id", id.Short())
	s.save(ctx, snap, gen)
	return true
}

// Clear removes every entry, pinned ones included, and persists the empty
// history. It returns the number of entries removed.
func (s *Store) Clear(ctx context.Context) int {
	s.mu.Lock()
	n := s.list.Clear()
	s.changeLocked(Change{Op: OpClear, Evicted: n})
	snap, gen := s.list.Entries(), s.gen
	s.mu.Unlock()

	slog.Info("history cleared", "removed", n)
	s.save(ctx, snap, gen)
	return n
}

// Entries returns a copy of the history in display order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.Entries()
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.Len()
}

// Get returns the entry with the given id.
func (s *Store) Get(id ID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.Get(id)
}

// Lookup resolves a full id or a unique id prefix.
func (s *Store) Lookup(prefix string) (Entry, error) {
	if prefix == "" {
		return Entry{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.list.Get(ID(prefix)); ok {
		return e, nil
	}
	var (
		found Entry
		n     int
	)
	for _, e := range s.list.entries {
		if strings.HasPrefix(string(e.id), prefix) {
			found = e
			n++
		}
	}
	switch n {
	case 0:
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return found, nil
	default:
		return Entry{}, fmt.Errorf("%w: %s matches %d entries", ErrAmbiguous, prefix, n)
	}
}

// LastInserted returns the id of the newest added entry, if still present.
func (s *Store) LastInserted() (ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.LastInserted()
}

// ScrollTarget returns the id of the entry most recently pinned or unpinned,
// if still present.
func (s *Store) ScrollTarget() (ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.ScrollTarget()
}

func (s *Store) currentLimit() int {
	if s.limit == nil {
		return DefaultLimit
	}
	return EffectiveLimit(s.limit())
}

// changeLocked bumps the generation, completes c and notifies. Must be
// called with s.mu held for writing.
func (s *Store) changeLocked(c Change) Change {
	s.gen++
	c.Len = s.list.Len()
	c.LastInserted, _ = s.list.LastInserted()
	c.ScrollTarget, _ = s.list.ScrollTarget()
	c.At = time.Now()
	if s.notifier != nil {
		s.notifier.Notify(c)
	}
	return c
}

// save hands snap to the persister unless a newer generation was already
// saved.
func (s *Store) save(ctx context.Context, snap []Entry, gen uint64) {
	if s.persister == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if gen <= s.saved {
		return
	}
	s.saved = gen
	if err := s.persister.Save(ctx, snap); err != nil {
		slog.Error("history save failed", "err", err, "entries", len(snap))
	}
}
