// Package capture feeds the system clipboard into the history. It watches a
// clip.Backend, turns each new clipboard state into a history entry, and can
// write a stored entry back to the clipboard.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/history"
)

// DefaultMaxItemSize is the largest payload captured when Options.MaxItemSize
// is zero.
const DefaultMaxItemSize = 8 * 1024 * 1024

// ErrTooLarge is returned for clipboard contents above the size limit.
var ErrTooLarge = errors.New("clipboard item too large")

// Adder is the part of history.Store the capturer needs.
type Adder interface {
	Add(ctx context.Context, e history.Entry) bool
}

// Options configures a Capturer.
type Options struct {
	// MaxItemSize caps the payload size in bytes; 0 means DefaultMaxItemSize
	// and negative disables the check.
	MaxItemSize int64
	// Now stamps captured entries; nil means time.Now.
	Now func() time.Time
}

// Capturer owns the system clipboard on behalf of the history.
type Capturer struct {
	store   Adder
	backend clip.Backend
	maxSize int64
	now     func() time.Time

	mu        sync.Mutex
	lastItems []clip.Item
}

// New creates a capturer but does not start it.
func New(store Adder, backend clip.Backend, opts Options) *Capturer {
	c := &Capturer{
		store:   store,
		backend: backend,
		maxSize: opts.MaxItemSize,
		now:     opts.Now,
	}
	if c.maxSize == 0 {
		c.maxSize = DefaultMaxItemSize
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Name returns the backend name.
func (c *Capturer) Name() string { return c.backend.Name() }

// Run captures every clipboard change until ctx is done.
func (c *Capturer) Run(ctx context.Context) {
	slog.Info("clipboard capture started", "backend", c.backend.Name())
	defer slog.Info("clipboard capture stopped")

	watch := c.backend.Watch()
	for {
		select {
		case <-ctx.Done():
			return
		case <-watch:
			if _, _, err := c.Capture(ctx); err != nil {
				slog.Warn("clipboard capture skipped", "err", err)
			}
		}
	}
}

// Capture reads the clipboard once and adds its contents to the history. It
// reports the entry and whether the history changed. Contents identical to
// the previous read or to the last Restore are ignored.
func (c *Capturer) Capture(ctx context.Context) (history.Entry, bool, error) {
	items, err := c.backend.Read()
	if err != nil {
		return history.Entry{}, false, fmt.Errorf("clipboard read: %w", err)
	}
	if len(items) == 0 {
		return history.Entry{}, false, nil
	}

	c.mu.Lock()
	if sameItems(items, c.lastItems) {
		c.mu.Unlock()
		return history.Entry{}, false, nil
	}
	c.lastItems = items
	c.mu.Unlock()

	p, ok := PayloadFromItems(items)
	if !ok {
		slog.Debug("clipboard contents not capturable", "items", len(items))
		return history.Entry{}, false, nil
	}
	if size := int64(history.Size(p)); c.maxSize > 0 && size > c.maxSize {
		return history.Entry{}, false, fmt.Errorf("%w: %s > %s", ErrTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(c.maxSize)))
	}

	e, err := history.NewEntry(p, c.now())
	if err != nil {
		return history.Entry{}, false, err
	}
	return e, c.store.Add(ctx, e), nil
}

// Restore writes e back to the system clipboard. The resulting clipboard
// change is not captured again.
func (c *Capturer) Restore(e history.Entry) error {
	items := ItemsFromPayload(e.Payload())
	c.mu.Lock()
	c.lastItems = items
	c.mu.Unlock()

	if err := c.backend.Write(items); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	slog.Debug("clipboard restored", "id", e.ID().Short(), "kind", e.Kind())
	return nil
}

// PayloadFromItems converts clipboard items to a history payload. An image
// wins over text; text made up solely of file:// URIs becomes a File or
// FileGroup. Blank text is not capturable.
func PayloadFromItems(items []clip.Item) (history.Payload, bool) {
	var text []byte
	for _, it := range items {
		if it.IsImage() && len(it.Data) > 0 {
			return history.Image(bytes.Clone(it.Data)), true
		}
		if it.MIME == clip.MIMEText && text == nil {
			text = it.Data
		}
	}
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, false
	}
	if paths, ok := parseFileURIs(string(text)); ok {
		if len(paths) == 1 {
			return history.File(paths[0]), true
		}
		return history.FileGroup(paths), true
	}
	return history.Text(text), true
}

// ItemsFromPayload is the inverse of PayloadFromItems. Paths are written as
// file:// URIs, one per line.
func ItemsFromPayload(p history.Payload) []clip.Item {
	switch p := p.(type) {
	case history.Text:
		return []clip.Item{{MIME: clip.MIMEText, Data: []byte(p)}}
	case history.Image:
		return []clip.Item{{MIME: clip.MIMEPNG, Data: []byte(p)}}
	case history.File:
		return []clip.Item{{MIME: clip.MIMEText, Data: []byte(fileURI(string(p)))}}
	case history.FileGroup:
		uris := make([]string, len(p))
		for i, path := range p {
			uris[i] = fileURI(path)
		}
		return []clip.Item{{MIME: clip.MIMEText, Data: []byte(strings.Join(uris, "\n"))}}
	}
	return nil
}

// parseFileURIs accepts text/uri-list style text: one URI per line, blank
// lines and # comments ignored. Every URI must use the file scheme.
func parseFileURIs(s string) ([]string, bool) {
	var paths []string
	for line := range strings.Lines(s) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := url.Parse(line)
		if err != nil || u.Scheme != "file" || u.Path == "" {
			return nil, false
		}
		paths = append(paths, u.Path)
	}
	return paths, len(paths) > 0
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

func sameItems(a, b []clip.Item) bool {
	return slices.EqualFunc(a, b, func(x, y clip.Item) bool {
		return x.MIME == y.MIME && bytes.Equal(x.Data, y.Data)
	})
}
