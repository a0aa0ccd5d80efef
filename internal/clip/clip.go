// Package clip provides a unified interface to the system clipboard across
// platforms. Build constraints select the implementation:
//
//	clip_linux.go   Linux via golang.design/x/clipboard, polling
//	clip_native.go  macOS and Windows via clipboard.Watch
//	clip_other.go   headless stub everywhere else
package clip

import (
	"fmt"
	"strings"
)

// MIME types the backends understand.
const (
	MIMEText = "text/plain"
	MIMEPNG  = "image/png"
)

// Item is a single clipboard representation with a MIME type.
type Item struct {
	MIME string
	Data []byte
}

func (it Item) String() string {
	return fmt.Sprintf("%s (%d bytes)", it.MIME, len(it.Data))
}

// IsImage reports whether the item holds image data.
func (it Item) IsImage() bool { return strings.HasPrefix(it.MIME, "image/") }

// Backend is the interface that all platform clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard contents as a slice of typed items.
	// Returns nil, nil if the clipboard is empty or contains only unsupported types.
	Read() ([]Item, error)

	// Write sets the clipboard contents to the provided items.
	Write(items []Item) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is never closed. The caller should call Read when
	// it receives from the channel.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}

// signal performs a non-blocking send; one pending signal is enough for the
// reader to pick up the newest contents.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
