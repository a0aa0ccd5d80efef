package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/message"
)

func TestPayloadFromArgs(t *testing.T) {
	p, err := payloadFromArgs(strings.NewReader("hello\n"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, history.Text("hello\n"), p)

	_, err = payloadFromArgs(strings.NewReader("  \n"), "", nil)
	require.Error(t, err)

	p, err = payloadFromArgs(nil, "", []string{"/tmp/a"})
	require.NoError(t, err)
	assert.Equal(t, history.File("/tmp/a"), p)

	p, err = payloadFromArgs(nil, "", []string{"/tmp/a", "/tmp/b"})
	require.NoError(t, err)
	assert.Equal(t, history.FileGroup{"/tmp/a", "/tmp/b"}, p)

	_, err = payloadFromArgs(nil, "x.png", []string{"/tmp/a"})
	require.Error(t, err)
}

func TestWritePayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePayload(&buf, history.Text("raw")))
	assert.Equal(t, "raw", buf.String())

	buf.Reset()
	require.NoError(t, writePayload(&buf, history.FileGroup{"/a", "/b"}))
	assert.Equal(t, "/a\n/b\n", buf.String())

	buf.Reset()
	require.NoError(t, writePayload(&buf, history.Image{1, 2}))
	assert.Equal(t, []byte{1, 2}, buf.Bytes())
}

func TestPrintSummaries(t *testing.T) {
	var buf bytes.Buffer
	printSummaries(&buf, nil)
	assert.Contains(t, buf.String(), "empty")

	e, err := history.Restore("0123456789abcdef", history.Text("multi\nline"), true, time.Now())
	require.NoError(t, err)
	img, err := history.NewEntry(history.Image(make([]byte, 2048)), time.Now())
	require.NoError(t, err)
	buf.Reset()
	printSummaries(&buf, message.Summarize([]history.Entry{e, img}))
	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "multi line")
	assert.Contains(t, out, "*")
	assert.Contains(t, out, "[image 2.0 kB]")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))
}

func TestFormatChange(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.Local)
	s := formatChange(history.Change{Op: history.OpAdd, ID: "abcdef123456", Len: 3, Evicted: 1, At: at})
	assert.Equal(t, "07:08:09.000 add    abcdef12 len=3 evicted=1", s)
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &message.StatusInfo{
		Version:     "dev",
		Persistence: "file",
		StartedAt:   time.Now(),
		Len:         4,
		Pinned:      1,
		Limit:       50,
		Watchers: []hub.WatcherInfo{
			{ID: "watch-1", Source: "laptop", Addr: "ipc", Ops: []history.Op{history.OpAdd}, ConnectedAt: time.Now()},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "disabled")
	assert.Contains(t, out, "4 (1 pinned, limit 50 unpinned)")
	assert.Contains(t, out, "watch-1")
	assert.Contains(t, out, "laptop")
}

func TestWorkers_ShutdownWaitsBeforeClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &workers{stop: cancel}

	var mu sync.Mutex
	var events []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, s)
	}

	w.onClose("storage", func() error { record("storage closed"); return errors.New("logged, not returned") })
	w.onClose("clipboard", func() error { record("clipboard closed"); return nil })
	w.Go(func() {
		<-ctx.Done()
		// a capture loop finishing its last save after cancellation
		time.Sleep(20 * time.Millisecond)
		record("worker done")
	})

	w.shutdown()
	assert.Equal(t, []string{"worker done", "clipboard closed", "storage closed"}, events)

	// a second shutdown closes nothing twice
	w.shutdown()
	assert.Len(t, events, 3)
}
