package history

import (
	"slices"
)

// DefaultLimit is the number of unpinned entries kept when no valid limit is
// configured.
const DefaultLimit = 50

// List is the ordered history collection and the rules that maintain it:
//
//   - pinned entries precede unpinned entries;
//   - each partition is ordered by capture time, newest first (stable);
//   - at most limit unpinned entries are kept, pinned entries are exempt;
//   - no two unpinned entries are duplicates;
//   - ids are unique.
//
// A List performs no I/O and is not safe for concurrent use. Store wraps it
// with locking and persistence.
type List struct {
	entries      []Entry
	lastInserted ID
	scrollTarget ID
}

// NewList builds a List from previously persisted entries, re-establishing
// every ordering and retention rule. Later duplicates of an id are dropped.
func NewList(entries []Entry, limit int) *List {
	l := &List{entries: make([]Entry, 0, len(entries))}
	seen := make(map[ID]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.id]; dup {
			continue
		}
		seen[e.id] = struct{}{}
		l.entries = append(l.entries, e)
	}
	l.sort()

	kept := l.entries[:0]
	for i, e := range l.entries {
		if !e.pinned && slices.ContainsFunc(kept, func(k Entry) bool {
			return !k.pinned && Duplicates(k, e)
		}) {
			continue
		}
		kept = append(kept, l.entries[i])
	}
	clear(l.entries[len(kept):])
	l.entries = kept
	l.trim(limit)
	return l
}

// Add inserts e, unpinned, at the front of the history.
//
// If e is not a valid entry, or the current head is an unpinned duplicate of
// e, nothing happens and ok is false. Otherwise an older unpinned duplicate is
// removed, e is inserted, the collection is re-sorted and trimmed to limit
// unpinned entries. evicted is the number of entries dropped by the trim.
//
// An unpinned entry with the same id is replaced. A pinned one is kept and e
// is inserted under a fresh id.
func (l *List) Add(e Entry, limit int) (evicted int, ok bool) {
	_, evicted, ok = l.add(e, limit)
	return evicted, ok
}

// add is Add, also returning the entry as stored.
func (l *List) add(e Entry, limit int) (Entry, int, bool) {
	if e.check() != nil {
		return Entry{}, 0, false
	}
	e.pinned = false
	if len(l.entries) > 0 {
		if head := l.entries[0]; !head.pinned && Duplicates(head, e) {
			return head, 0, false
		}
	}

	if i := l.index(e.id); i >= 0 {
		if l.entries[i].pinned {
			e.id = NewID()
		} else {
			l.removeAt(i)
		}
	}
	if i := slices.IndexFunc(l.entries, func(x Entry) bool {
		return !x.pinned && Duplicates(x, e)
	}); i >= 0 {
		l.removeAt(i)
	}

	l.entries = slices.Insert(l.entries, 0, e)
	l.sort()
	l.lastInserted = e.id
	return e, l.trim(limit), true
}

// TogglePin flips the pin flag of the entry with the given id and returns the
// updated entry. The size bound is re-applied immediately, so unpinning an
// entry older than every retained unpinned entry evicts it when the history is
// full. ok is false when no entry has that id.
func (l *List) TogglePin(id ID, limit int) (e Entry, evicted int, ok bool) {
	i := l.index(id)
	if i < 0 {
		return Entry{}, 0, false
	}
	l.entries[i].pinned = !l.entries[i].pinned
	e = l.entries[i]
	l.sort()
	l.scrollTarget = id
	return e, l.trim(limit), true
}

// Delete removes the entry with the given id.
func (l *List) Delete(id ID) (Entry, bool) {
	i := l.index(id)
	if i < 0 {
		return Entry{}, false
	}
	e := l.entries[i]
	l.removeAt(i)
	return e, true
}

// Clear removes every entry, pinned or not, and returns how many there were.
func (l *List) Clear() int {
	n := len(l.entries)
	clear(l.entries)
	l.entries = l.entries[:0]
	l.lastInserted = ""
	l.scrollTarget = ""
	return n
}

// Entries returns a copy of the collection in display order.
func (l *List) Entries() []Entry { return slices.Clone(l.entries) }

// Len returns the number of entries.
func (l *List) Len() int { return len(l.entries) }

// Get returns the entry with the given id.
func (l *List) Get(id ID) (Entry, bool) {
	if i := l.index(id); i >= 0 {
		return l.entries[i], true
	}
	return Entry{}, false
}

// LastInserted returns the id of the most recently added entry while it is
// still part of the history.
func (l *List) LastInserted() (ID, bool) { return l.lastInserted, l.lastInserted != "" }

// ScrollTarget returns the id of the most recently pinned or unpinned entry
// while it is still part of the history.
func (l *List) ScrollTarget() (ID, bool) { return l.scrollTarget, l.scrollTarget != "" }

func (l *List) index(id ID) int {
	return slices.IndexFunc(l.entries, func(e Entry) bool { return e.id == id })
}

func (l *List) removeAt(i int) {
	l.forget(l.entries[i].id)
	l.entries = slices.Delete(l.entries, i, i+1)
}

// forget clears any hint that points at id.
func (l *List) forget(id ID) {
	if l.lastInserted == id {
		l.lastInserted = ""
	}
	if l.scrollTarget == id {
		l.scrollTarget = ""
	}
}

func (l *List) sort() {
	slices.SortStableFunc(l.entries, compareEntries)
}

// compareEntries orders pinned before unpinned, then newest first.
func compareEntries(a, b Entry) int {
	if a.pinned != b.pinned {
		if a.pinned {
			return -1
		}
		return 1
	}
	return b.capturedAt.Compare(a.capturedAt)
}

// trim keeps every pinned entry and the first limit unpinned entries. It must
// run on a sorted collection.
func (l *List) trim(limit int) int {
	limit = EffectiveLimit(limit)
	unpinned := 0
	kept := l.entries[:0]
	evicted := 0
	for _, e := range l.entries {
		if !e.pinned {
			unpinned++
			if unpinned > limit {
				l.forget(e.id)
				evicted++
				continue
			}
		}
		kept = append(kept, e)
	}
	clear(l.entries[len(kept):])
	l.entries = kept
	return evicted
}

// EffectiveLimit maps a configured retention limit to the one applied:
// values below one fall back to DefaultLimit.
func EffectiveLimit(limit int) int {
	if limit < 1 {
		return DefaultLimit
	}
	return limit
}
