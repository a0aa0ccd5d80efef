package persist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipstash/internal/crypto"
	"go.klb.dev/clipstash/internal/history"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixture(t *testing.T) []history.Entry {
	t.Helper()
	payloads := []history.Payload{
		history.Text("hello"),
		history.Image{0x89, 'P', 'N', 'G', 0, 1, 2},
		history.File("/tmp/report.pdf"),
		history.FileGroup{"/tmp/a.txt", "/tmp/b.txt"},
	}
	out := make([]history.Entry, 0, len(payloads))
	for i, p := range payloads {
		e, err := history.Restore(history.NewID(), p, i == 0, base.Add(-time.Duration(i)*time.Minute))
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func assertSameEntries(t *testing.T, want, got []history.Entry) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID(), got[i].ID())
		assert.Equal(t, want[i].Pinned(), got[i].Pinned())
		assert.True(t, want[i].CapturedAt().Equal(got[i].CapturedAt()))
		assert.True(t, history.Duplicates(want[i], got[i]), "payload %d differs", i)
	}
}

func TestFile_MissingIsEmpty(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "none", fileName), nil)
	entries, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFile_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", fileName)
	f := NewFile(path, nil)

	want := fixture(t)
	require.NoError(t, f.Save(ctx, want))

	got, err := NewFile(path, nil).Load(ctx)
	require.NoError(t, err)
	assertSameEntries(t, want, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":1`)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".history-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFile_SaveEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), fileName)
	f := NewFile(path, nil)

	require.NoError(t, f.Save(ctx, fixture(t)))
	require.NoError(t, f.Save(ctx, nil))

	got, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFile_Encrypted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), fileName)
	key, err := crypto.DeriveKey("correct horse", crypto.PurposeStorage)
	require.NoError(t, err)

	want := fixture(t)
	require.NoError(t, NewFile(path, key).Save(ctx, want))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hello")

	got, err := NewFile(path, key).Load(ctx)
	require.NoError(t, err)
	assertSameEntries(t, want, got)

	wrong, err := crypto.DeriveKey("battery staple", crypto.PurposeStorage)
	require.NoError(t, err)
	_, err = NewFile(path, wrong).Load(ctx)
	require.ErrorIs(t, err, crypto.ErrDecrypt)

	_, err = NewFile(path, nil).Load(ctx)
	require.ErrorIs(t, err, ErrCorrupt)

	backups, err := filepath.Glob(path + ".unreadable-*")
	require.NoError(t, err)
	assert.NotEmpty(t, backups, "a file that could not be opened is kept aside")
}

func TestFile_PlainReadWithKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), fileName)
	want := fixture(t)
	require.NoError(t, NewFile(path, nil).Save(ctx, want))

	key, err := crypto.DeriveKey("later", crypto.PurposeStorage)
	require.NoError(t, err)
	got, err := NewFile(path, key).Load(ctx)
	require.NoError(t, err)
	assertSameEntries(t, want, got)
}

func TestFile_SkipsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), fileName)
	want := fixture(t)
	require.NoError(t, NewFile(path, nil).Save(ctx, want))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// splice an entry of an unknown kind in front of the good ones
	doc := strings.Replace(string(raw), `"entries":[`, `"entries":[{"id":"x","kind":"hologram"},`, 1)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	got, err := NewFile(path, nil).Load(ctx)
	require.NoError(t, err)
	assertSameEntries(t, want, got)
}

func TestFile_CorruptIsPreserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"entries":`), 0o600))

	_, err := NewFile(path, nil).Load(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)

	backups, err := filepath.Glob(path + ".unreadable-*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, `{"version":1,"entries":`, string(data))
}

func TestFile_FutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), fileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"entries":[]}`), 0o600))

	_, err := NewFile(path, nil).Load(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestBadger_SaveLoad(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	empty, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	want := fixture(t)
	require.NoError(t, b.Save(ctx, want))
	got, err := b.Load(ctx)
	require.NoError(t, err)
	assertSameEntries(t, want, got)

	// a shorter collection must not leave stale tail entries behind
	require.NoError(t, b.Save(ctx, want[:1]))
	got, err = b.Load(ctx)
	require.NoError(t, err)
	assertSameEntries(t, want[:1], got)

	require.NoError(t, b.Save(ctx, nil))
	got, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBadger_OnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	want := fixture(t)

	b, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, b.Save(ctx, want))
	require.NoError(t, b.Close())

	b, err = OpenBadger(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	got, err := b.Load(ctx)
	require.NoError(t, err)
	assertSameEntries(t, want, got)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(fixture(t)...)

	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	require.NoError(t, m.Save(ctx, got[:2]))
	assert.Len(t, m.Saved(), 2)
	assert.Equal(t, 1, m.Saves())

	m.FailSave(assert.AnError)
	require.ErrorIs(t, m.Save(ctx, nil), assert.AnError)
	assert.Len(t, m.Saved(), 2)
	assert.Equal(t, 2, m.Saves())

	m.FailLoad(assert.AnError)
	_, err = m.Load(ctx)
	require.ErrorIs(t, err, assert.AnError)
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	p, err := New(Config{Backend: BackendFile, Dir: dir})
	require.NoError(t, err)
	assert.IsType(t, &File{}, p)

	p, err = New(Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, p)

	p, err = New(Config{Backend: BackendBadger, Dir: dir})
	require.NoError(t, err)
	assert.IsType(t, &Badger{}, p)
	require.NoError(t, p.Close())

	_, err = New(Config{Backend: "sqlite"})
	require.Error(t, err)
}

func TestBadger_SkipsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	want := fixture(t)
	require.NoError(t, b.Save(ctx, want))
	require.NoError(t, b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(len(want)), []byte(`{"id":"x","kind":"hologram"}`))
	}))

	got, err := b.Load(ctx)
	require.NoError(t, err)
	assertSameEntries(t, want, got)
}
