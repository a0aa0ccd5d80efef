// Package message defines the clipstash control protocol.
//
// On the IPC socket every message is one line of JSON; entry payloads carry
// binary image data as base64 through encoding/json. The same messages are
// the request and response bodies of the gRPC service on the TCP listener.
//
// A client sends one request and reads one response. WATCH is the exception:
// the server keeps the connection open and streams EVENT messages until the
// client goes away. LIST answers with summaries only; GET fetches the content
// of a single entry.
package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/hub"
)

// Type identifies the kind of message.
type Type string

// Requests.
const (
	TypeAdd     Type = "ADD"
	TypeList    Type = "LIST"
	TypeGet     Type = "GET"
	TypePin     Type = "PIN"
	TypeDelete  Type = "DELETE"
	TypeClear   Type = "CLEAR"
	TypeRestore Type = "RESTORE"
	TypeStatus  Type = "STATUS"
	TypeWatch   Type = "WATCH"
)

// Responses.
const (
	TypeOK             Type = "OK"
	TypeEntries        Type = "ENTRIES"
	TypeStatusResponse Type = "STATUS_RESPONSE"
	TypeEvent          Type = "EVENT"
	TypeError          Type = "ERROR"
)

// Filter narrows a LIST request. The zero value matches everything.
type Filter struct {
	Kind  history.Kind `json:"kind,omitempty"`
	Query string       `json:"query,omitempty"`
	// Limit caps the number of returned entries; 0 means no cap.
	Limit  int  `json:"limit,omitempty"`
	Pinned bool `json:"pinned,omitempty"`
}

// Match reports whether e passes the kind, pinned and query filters. Query is
// a case-insensitive substring match against text and paths; images never
// match a non-empty query.
func (f Filter) Match(e history.Entry) bool {
	if f.Kind != "" && e.Kind() != f.Kind {
		return false
	}
	if f.Pinned && !e.Pinned() {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	switch p := e.Payload().(type) {
	case history.Text:
		return strings.Contains(strings.ToLower(string(p)), q)
	case history.File:
		return strings.Contains(strings.ToLower(string(p)), q)
	case history.FileGroup:
		for _, path := range p {
			if strings.Contains(strings.ToLower(path), q) {
				return true
			}
		}
	}
	return false
}

// Apply returns the entries that match f, in order, capped at f.Limit.
func (f Filter) Apply(entries []history.Entry) []history.Entry {
	out := make([]history.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// previewLen is the length of Summary.Preview in runes.
const previewLen = 80

// Summary describes an entry without its content.
type Summary struct {
	ID         history.ID   `json:"id"`
	Kind       history.Kind `json:"kind"`
	Pinned     bool         `json:"pinned,omitempty"`
	CapturedAt time.Time    `json:"captured_at"`
	Size       int          `json:"size"`
	Preview    string       `json:"preview"`
}

// Summarize returns the summaries of entries, in order.
func Summarize(entries []history.Entry) []Summary {
	out := make([]Summary, len(entries))
	for i, e := range entries {
		out[i] = Summary{
			ID:         e.ID(),
			Kind:       e.Kind(),
			Pinned:     e.Pinned(),
			CapturedAt: e.CapturedAt(),
			Size:       history.Size(e.Payload()),
			Preview:    history.Preview(e.Payload(), previewLen),
		}
	}
	return out
}

// StatusInfo is the body of a STATUS_RESPONSE.
type StatusInfo struct {
	Version      string            `json:"version"`
	Persistence  string            `json:"persistence"`
	Capture      string            `json:"capture,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	Len          int               `json:"len"`
	Pinned       int               `json:"pinned"`
	Limit        int               `json:"limit"`
	LastInserted history.ID        `json:"last_inserted,omitempty"`
	ScrollTarget history.ID        `json:"scroll_target,omitempty"`
	Watchers     []hub.WatcherInfo `json:"watchers,omitempty"`
}

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type   Type   `json:"type"`
	Source string `json:"source,omitempty"`

	// GET, PIN, DELETE, RESTORE: full id or unique prefix. GET and RESTORE
	// use the first entry when it is empty.
	ID string `json:"id,omitempty"`

	// ADD request; OK response to ADD, GET, PIN and RESTORE.
	Entry *history.Entry `json:"entry,omitempty"`

	// LIST
	Filter *Filter `json:"filter,omitempty"`

	// WATCH: ops to receive, empty means all.
	Ops []history.Op `json:"ops,omitempty"`

	// OK: whether the request changed the history, and how many entries a
	// CLEAR removed.
	Changed bool `json:"changed,omitempty"`
	Count   int  `json:"count,omitempty"`

	// ENTRIES
	Summaries []Summary `json:"summaries,omitempty"`

	// EVENT
	Change *history.Change `json:"change,omitempty"`

	// STATUS_RESPONSE
	Status *StatusInfo `json:"status,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	return &m, nil
}

// Errorf builds an ERROR response.
func Errorf(format string, args ...any) *Message {
	return &Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}

// IsRequest reports whether t is a request type a server dispatches.
func (t Type) IsRequest() bool {
	switch t {
	case TypeAdd, TypeList, TypeGet, TypePin, TypeDelete,
		TypeClear, TypeRestore, TypeStatus, TypeWatch:
		return true
	}
	return false
}
