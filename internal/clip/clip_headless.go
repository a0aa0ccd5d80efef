package clip

import "sync"

// Headless is a clipboard backend for environments without a display server
// (servers, containers, CI). It never produces Watch events on its own and
// keeps the last written items in memory so they can be read back.
type Headless struct {
	watchCh chan struct{}

	mu    sync.Mutex
	items []Item
}

// NewHeadless returns an empty headless backend.
func NewHeadless() *Headless {
	return &Headless{watchCh: make(chan struct{}, 1)}
}

func (b *Headless) Name() string { return "headless" }

func (b *Headless) Read() ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items, nil
}

func (b *Headless) Write(items []Item) error {
	b.mu.Lock()
	b.items = items
	b.mu.Unlock()
	return nil
}

func (b *Headless) Watch() <-chan struct{} { return b.watchCh }
func (b *Headless) Close()                 {}

// Set replaces the contents as if another program had copied items, and
// signals watchers.
func (b *Headless) Set(items ...Item) {
	b.mu.Lock()
	b.items = items
	b.mu.Unlock()
	signal(b.watchCh)
}
