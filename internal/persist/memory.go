package persist

import (
	"context"
	"slices"
	"sync"

	"go.klb.dev/clipstash/internal/history"
)

// Memory keeps the last saved collection in memory. It also counts saves and
// can be told to fail, which makes it the persister of choice in tests.
type Memory struct {
	mu      sync.Mutex
	entries []history.Entry
	saves   int
	loadErr error
	saveErr error
}

// NewMemory returns a Memory preloaded with entries.
func NewMemory(entries ...history.Entry) *Memory {
	return &Memory{entries: slices.Clone(entries)}
}

// FailLoad makes subsequent Load calls return err.
func (m *Memory) FailLoad(err error) {
	m.mu.Lock()
	m.loadErr = err
	m.mu.Unlock()
}

// FailSave makes subsequent Save calls return err.
func (m *Memory) FailSave(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

func (m *Memory) Load(_ context.Context) ([]history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return slices.Clone(m.entries), nil
}

func (m *Memory) Save(_ context.Context, entries []history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries = slices.Clone(entries)
	return nil
}

// Saved returns the last successfully saved collection, or nil if nothing was
// saved or preloaded.
func (m *Memory) Saved() []history.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// Saves returns the number of Save calls, failed ones included.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
