// Package persist implements the durable backends behind history.Persister:
// a JSON file (optionally sealed with a secretbox key), a Badger key/value
// store and an in-memory mirror for tests and ephemeral daemons.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.klb.dev/clipstash/internal/crypto"
	"go.klb.dev/clipstash/internal/history"
)

// formatVersion is the version written into the file envelope.
const formatVersion = 1

// ErrCorrupt is returned when stored data can not be decoded.
var ErrCorrupt = errors.New("corrupt history data")

// Backend names a persistence backend.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
)

// Persister is a history.Persister that owns resources.
type Persister interface {
	history.Persister
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend Backend
	// Dir is the data directory; the file backend writes history.json in it,
	// the badger backend uses a badger/ subdirectory.
	Dir string
	// Key, when set, seals the file backend's contents.
	Key *crypto.Key
}

// New opens the configured backend.
func New(cfg Config) (Persister, error) {
	switch cfg.Backend {
	case BackendFile, "":
		slog.Info("using file history storage", "path", filepath.Join(cfg.Dir, fileName), "encrypted", cfg.Key != nil)
		return NewFile(filepath.Join(cfg.Dir, fileName), cfg.Key), nil
	case BackendBadger:
		if cfg.Key != nil {
			slog.Warn("passphrase ignored by badger storage")
		}
		slog.Info("using badger history storage", "dir", filepath.Join(cfg.Dir, "badger"))
		return OpenBadger(filepath.Join(cfg.Dir, "badger"))
	case BackendMemory:
		slog.Warn("using in-memory history storage, history is lost on exit")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, badger, memory)", cfg.Backend)
	}
}

// envelope is the top-level document of the file backend. Entries are
// decoded one by one so a single unreadable entry does not cost the rest.
type envelope struct {
	Version int               `json:"version"`
	Entries []json.RawMessage `json:"entries"`
}

func encodeEnvelope(entries []history.Entry) ([]byte, error) {
	raw := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", e.ID(), err)
		}
		raw[i] = b
	}
	return json.Marshal(envelope{Version: formatVersion, Entries: raw})
}

func decodeEnvelope(b []byte) ([]history.Entry, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if env.Version > formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, env.Version)
	}
	entries := make([]history.Entry, 0, len(env.Entries))
	for i, raw := range env.Entries {
		e, ok := decodeEntry(raw, i)
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// decodeEntry decodes one stored entry. Entries that can not be decoded, for
// example of a kind written by a newer version, are logged and skipped.
func decodeEntry(raw []byte, pos int) (history.Entry, bool) {
	var e history.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.Warn("skipping unreadable history entry", "position", pos, "err", err)
		return history.Entry{}, false
	}
	return e, true
}
