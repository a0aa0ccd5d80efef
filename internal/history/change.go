package history

import (
	"context"
	"time"
)

// Op identifies the kind of change applied to the history.
type Op string

const (
	OpLoad   Op = "load"
	OpAdd    Op = "add"
	OpPin    Op = "pin"
	OpUnpin  Op = "unpin"
	OpDelete Op = "delete"
	OpClear  Op = "clear"
)

// Change describes one state change of a Store. LastInserted and ScrollTarget
// carry the display hints as they stood right after the change.
type Change struct {
	Op           Op        `json:"op"`
	ID           ID        `json:"id,omitempty"`
	Len          int       `json:"len"`
	Evicted      int       `json:"evicted,omitempty"`
	LastInserted ID        `json:"last_inserted,omitempty"`
	ScrollTarget ID        `json:"scroll_target,omitempty"`
	At           time.Time `json:"at"`
}

// Notifier receives every Change applied to a Store. Notify must not block
// and must not call back into the Store.
type Notifier interface {
	Notify(Change)
}

// Persister mirrors the history to durable storage.
//
// Load returns the previously saved collection in display order, or an empty
// slice when nothing was saved yet. Save receives the complete collection
// after every mutation.
type Persister interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}
