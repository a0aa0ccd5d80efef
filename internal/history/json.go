package history

import (
	"encoding/json"
	"fmt"
	"time"
)

// entryJSON is the JSON form of an Entry shared by the persisters and the
// control protocol. Exactly one of Text, Image, Path, Paths is set, as named
// by Kind. Image bytes are base64-encoded by encoding/json.
type entryJSON struct {
	ID         ID        `json:"id"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Image      []byte    `json:"image,omitempty"`
	Path       string    `json:"path,omitempty"`
	Paths      []string  `json:"paths,omitempty"`
	Pinned     bool      `json:"pinned,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	j := entryJSON{ID: e.id, Pinned: e.pinned, CapturedAt: e.capturedAt}
	switch p := e.payload.(type) {
	case Text:
		j.Kind, j.Text = KindText, string(p)
	case Image:
		j.Kind, j.Image = KindImage, p
	case File:
		j.Kind, j.Path = KindFile, string(p)
	case FileGroup:
		j.Kind, j.Paths = KindFileGroup, p
	default:
		return nil, fmt.Errorf("marshal entry %q: %w", e.id, ErrNoPayload)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded entry is validated
// like any restored entry.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var j entryJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	var p Payload
	switch j.Kind {
	case KindText:
		p = Text(j.Text)
	case KindImage:
		p = Image(j.Image)
	case KindFile:
		p = File(j.Path)
	case KindFileGroup:
		p = FileGroup(j.Paths)
	default:
		return fmt.Errorf("unmarshal entry %q: unknown kind %q", j.ID, j.Kind)
	}
	restored, err := Restore(j.ID, p, j.Pinned, j.CapturedAt)
	if err != nil {
		return fmt.Errorf("unmarshal entry %q: %w", j.ID, err)
	}
	*e = restored
	return nil
}
