package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

// badgerPrefix namespaces cache entries so the database can be shared
const badgerPrefix = "viewcache:entry:"

// Badger keeps one key per cache entry in a BadgerDB
type Badger struct {
	db *badger.DB
}

// NewBadger wraps an open database. The caller owns db.
func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

// OpenBadger opens (or creates) a database at dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return db, nil
}

// SaveEntries replaces every stored entry with entries in one transaction
func (b *Badger) SaveEntries(ctx context.Context, entries []viewcache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		prefix := []byte(badgerPrefix)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete entry: %w", err)
			}
		}

		for _, e := range entries {
			data, err := encodeEntry(e)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(badgerPrefix+e.Bounds.Key()), data); err != nil {
				return fmt.Errorf("set entry: %w", err)
			}
		}
		return nil
	})
}

// LoadEntries returns every stored entry in key order
func (b *Badger) LoadEntries(ctx context.Context) ([]viewcache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []viewcache.Entry
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}
