package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.klb.dev/clipstash/internal/crypto"
	"go.klb.dev/clipstash/internal/history"
)

const fileName = "history.json"

// File stores the history as a single JSON document. Writes go to a
// temporary file in the same directory which is then renamed over the old one,
// so a crash never leaves a half-written history behind.
//
// With a key the document is sealed with secretbox. A plain JSON file found at
// startup is still read, and is sealed on the next save.
type File struct {
	path string
	key  *crypto.Key
	mu   sync.Mutex
}

// NewFile returns a File persister writing to path. key may be nil.
func NewFile(path string, key *crypto.Key) *File {
	return &File{path: path, key: key}
}

// Path returns the history file path.
func (f *File) Path() string { return f.path }

// Load reads the history file. A missing file is an empty history.
func (f *File) Load(_ context.Context) ([]history.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	entries, err := f.decode(data)
	if err != nil {
		// The store starts empty and the next save replaces the file, so keep
		// a copy of what could not be read.
		f.preserve(data)
		return nil, err
	}
	return entries, nil
}

func (f *File) decode(data []byte) ([]history.Entry, error) {
	if f.key == nil {
		return decodeEnvelope(data)
	}
	plain, openErr := crypto.Open(data, f.key)
	if openErr == nil {
		return decodeEnvelope(plain)
	}
	if looksLikeJSON(data) {
		if entries, err := decodeEnvelope(data); err == nil {
			return entries, nil
		}
	}
	return nil, fmt.Errorf("open history file: %w", openErr)
}

// preserve copies unreadable history data next to the history file.
func (f *File) preserve(data []byte) {
	backup := f.path + ".unreadable-" + time.Now().Format("20060102T150405")
	if err := writeAtomic(backup, data); err != nil {
		slog.Error("could not preserve unreadable history file", "path", f.path, "err", err)
		return
	}
	slog.Warn("unreadable history file preserved", "path", f.path, "backup", backup)
}

// Save replaces the history file with entries.
func (f *File) Save(_ context.Context, entries []history.Entry) error {
	data, err := encodeEnvelope(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if f.key != nil {
		if data, err = crypto.Seal(data, f.key); err != nil {
			return fmt.Errorf("seal history: %w", err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(f.path, data)
}

func (f *File) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}
	return nil
}

func looksLikeJSON(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}
