//go:build linux

package clip

import (
	"bytes"
	"log/slog"
	"time"

	"golang.design/x/clipboard"
)

const linuxPollInterval = 250 * time.Millisecond

type linuxBackend struct {
	watchCh  chan struct{}
	done     chan struct{}
	lastText []byte
	lastImg  []byte
}

// New returns the Linux clipboard backend, or a headless backend if the
// display environment is unavailable (no X11 or Wayland). clipboard.Init is
// called here rather than in init() so that client sub-commands never touch
// the display.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return NewHeadless()
	}
	b := &linuxBackend{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
		// Seed with the current contents so whatever sat on the clipboard
		// before the daemon started is not captured as new.
		lastText: clipboard.Read(clipboard.FmtText),
		lastImg:  clipboard.Read(clipboard.FmtImage),
	}
	go b.poll()
	return b
}

func (b *linuxBackend) Name() string { return "Linux clipboard (poll)" }

func (b *linuxBackend) poll() {
	t := time.NewTicker(linuxPollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			text := clipboard.Read(clipboard.FmtText)
			img := clipboard.Read(clipboard.FmtImage)
			if !bytes.Equal(text, b.lastText) || !bytes.Equal(img, b.lastImg) {
				b.lastText = text
				b.lastImg = img
				signal(b.watchCh)
			}
		}
	}
}

func (b *linuxBackend) Read() ([]Item, error)    { return readSystem(), nil }
func (b *linuxBackend) Write(items []Item) error { return writeSystem(items) }
func (b *linuxBackend) Watch() <-chan struct{}   { return b.watchCh }
func (b *linuxBackend) Close()                   { close(b.done) }
