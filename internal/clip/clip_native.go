//go:build darwin || windows

package clip

import (
	"context"
	"log/slog"

	"golang.design/x/clipboard"
)

// nativeBackend relies on the change notification built into
// golang.design/x/clipboard (NSPasteboard changeCount on macOS, the
// clipboard sequence number on Windows).
type nativeBackend struct {
	watchCh chan struct{}
	cancel  context.CancelFunc
}

// New returns the native clipboard backend, or a headless backend when the
// clipboard cannot be initialised.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return NewHeadless()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &nativeBackend{
		watchCh: make(chan struct{}, 1),
		cancel:  cancel,
	}
	go b.forward(ctx, clipboard.Watch(ctx, clipboard.FmtText))
	go b.forward(ctx, clipboard.Watch(ctx, clipboard.FmtImage))
	return b
}

func (b *nativeBackend) Name() string { return "native clipboard (watch)" }

func (b *nativeBackend) forward(ctx context.Context, ch <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			signal(b.watchCh)
		}
	}
}

func (b *nativeBackend) Read() ([]Item, error)    { return readSystem(), nil }
func (b *nativeBackend) Write(items []Item) error { return writeSystem(items) }
func (b *nativeBackend) Watch() <-chan struct{}   { return b.watchCh }
func (b *nativeBackend) Close()                   { b.cancel() }
