// Package history implements the clipboard history: the entry model, the
// ordering and retention rules that govern the collection, and a synchronised
// Store that persists the collection after every mutation.
package history

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

var (
	// ErrNoPayload is returned when an entry is built without a payload.
	ErrNoPayload = errors.New("entry has no payload")
	// ErrEmptyPayload is returned when the payload carries no content.
	ErrEmptyPayload = errors.New("entry payload is empty")
	// ErrNoID is returned when a persisted entry is restored without an id.
	ErrNoID = errors.New("entry has no id")
)

// ID identifies an entry for its whole lifetime.
type ID string

// NewID returns a fresh random ID.
func NewID() ID { return ID(uuid.NewString()) }

// Short returns the first eight characters of the id, enough for display
// and for unique-prefix lookups in small collections.
func (id ID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// Kind names the active payload variant.
type Kind string

const (
	KindText      Kind = "text"
	KindImage     Kind = "image"
	KindFile      Kind = "file"
	KindFileGroup Kind = "file_group"
)

// ParseKind converts s into a Kind. ok is false for unknown names.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindText, KindImage, KindFile, KindFileGroup:
		return k, true
	}
	return "", false
}

// Payload is the content of an entry. It is implemented only by Text, Image,
// File and FileGroup.
type Payload interface {
	Kind() Kind
	isPayload()
}

// Text is a plain-text clipboard payload.
type Text string

// Image is an opaque encoded image (PNG as delivered by the clipboard).
type Image []byte

// File is a single file path.
type File string

// FileGroup is an ordered list of file paths.
type FileGroup []string

func (Text) Kind() Kind      { return KindText }
func (Image) Kind() Kind     { return KindImage }
func (File) Kind() Kind      { return KindFile }
func (FileGroup) Kind() Kind { return KindFileGroup }

func (Text) isPayload()      {}
func (Image) isPayload()     {}
func (File) isPayload()      {}
func (FileGroup) isPayload() {}

// Size returns the payload size in bytes (sum of path lengths for groups).
func Size(p Payload) int {
	switch v := p.(type) {
	case Text:
		return len(v)
	case Image:
		return len(v)
	case File:
		return len(v)
	case FileGroup:
		n := 0
		for _, path := range v {
			n += len(path)
		}
		return n
	}
	return 0
}

func validate(p Payload) error {
	switch v := p.(type) {
	case nil:
		return ErrNoPayload
	case Text:
		if v == "" {
			return ErrEmptyPayload
		}
	case Image:
		if len(v) == 0 {
			return ErrEmptyPayload
		}
	case File:
		if v == "" {
			return ErrEmptyPayload
		}
	case FileGroup:
		if len(v) == 0 || slices.Contains(v, "") {
			return ErrEmptyPayload
		}
	default:
		return ErrNoPayload
	}
	return nil
}

// Entry is one captured clipboard item. The payload, id and capture time are
// fixed at creation; the pin flag changes only through a Store or List.
type Entry struct {
	id         ID
	payload    Payload
	pinned     bool
	capturedAt time.Time
}

// NewEntry returns an unpinned entry with a fresh id.
func NewEntry(p Payload, capturedAt time.Time) (Entry, error) {
	if err := validate(p); err != nil {
		return Entry{}, err
	}
	return Entry{id: NewID(), payload: p, capturedAt: capturedAt}, nil
}

// Restore rebuilds a previously persisted entry.
func Restore(id ID, p Payload, pinned bool, capturedAt time.Time) (Entry, error) {
	if id == "" {
		return Entry{}, ErrNoID
	}
	if err := validate(p); err != nil {
		return Entry{}, err
	}
	return Entry{id: id, payload: p, pinned: pinned, capturedAt: capturedAt}, nil
}

// check reports why e can not be stored, for example a zero Entry.
func (e Entry) check() error {
	if e.id == "" {
		return ErrNoID
	}
	return validate(e.payload)
}

func (e Entry) ID() ID                { return e.id }
func (e Entry) Payload() Payload      { return e.payload }
func (e Entry) Kind() Kind            { return e.payload.Kind() }
func (e Entry) Pinned() bool          { return e.pinned }
func (e Entry) CapturedAt() time.Time { return e.capturedAt }

// Duplicates reports whether a and b carry the same kind and equal content.
// Identity, pin state and capture time are ignored.
func Duplicates(a, b Entry) bool {
	return samePayload(a.payload, b.payload)
}

func samePayload(a, b Payload) bool {
	switch x := a.(type) {
	case Text:
		y, ok := b.(Text)
		return ok && x == y
	case Image:
		y, ok := b.(Image)
		return ok && bytes.Equal(x, y)
	case File:
		y, ok := b.(File)
		return ok && x == y
	case FileGroup:
		y, ok := b.(FileGroup)
		return ok && slices.Equal(x, y)
	}
	return false
}

// Preview returns a short human-readable description of the payload.
func Preview(p Payload, n int) string {
	var s string
	switch v := p.(type) {
	case Text:
		s = string(v)
	case Image:
		return "[image " + humanize.Bytes(uint64(len(v))) + "]"
	case File:
		s = string(v)
	case FileGroup:
		if len(v) == 1 {
			s = v[0]
		} else {
			s = fmt.Sprintf("%s (+%d more)", v[0], len(v)-1)
		}
	}
	r := []rune(s)
	if n > 0 && len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
