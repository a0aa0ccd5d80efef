package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"go.klb.dev/clipstash/internal/history"
)

var entryPrefix = []byte("entry/")

// Badger stores one key per entry, keyed by display position, so a Load
// iterates the history in order. Save replaces the whole collection inside a
// single transaction.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database in dir.
func OpenBadger(dir string) (*Badger, error) {
	return openBadger(badger.DefaultOptions(dir))
}

// OpenBadgerInMemory opens a Badger database that lives only in memory.
func OpenBadgerInMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts.WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the database.
func (b *Badger) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func entryKey(pos int) []byte {
	return fmt.Appendf(append([]byte(nil), entryPrefix...), "%08d", pos)
}

func (b *Badger) Load(_ context.Context) ([]history.Entry, error) {
	var entries []history.Entry
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		pos := 0
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var (
				e  history.Entry
				ok bool
			)
			if err := item.Value(func(val []byte) error {
				e, ok = decodeEntry(val, pos)
				return nil
			}); err != nil {
				return fmt.Errorf("%w: key %s: %w", ErrCorrupt, item.Key(), err)
			}
			if ok {
				entries = append(entries, e)
			}
			pos++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *Badger) Save(_ context.Context, entries []history.Entry) error {
	values := make([][]byte, len(entries))
	for i, e := range entries {
		v, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID(), err)
		}
		values[i] = v
	}

	return b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		for i, v := range values {
			if err := txn.Set(entryKey(i), v); err != nil {
				return fmt.Errorf("set entry %d: %w", i, err)
			}
		}
		return nil
	})
}
