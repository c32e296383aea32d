// Package badger provides an embedded durable kvstore implementation backed
// by BadgerDB.
package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bissquit/notifyq/internal/kvstore"
)

var _ kvstore.Store = (*Store)(nil)

// maxTxnRetries bounds the retry loop on transaction conflicts. Conflicts
// only arise between concurrent Update calls on overlapping keys, so a
// handful of retries is enough.
const maxTxnRetries = 10

// Config holds BadgerDB configuration.
type Config struct {
	Dir string // directory for BadgerDB data
}

// Store implements kvstore.Store using BadgerDB. Per-key atomicity of Update
// comes from Badger's serializable transactions.
type Store struct {
	db       *badger.DB
	gcStopCh chan struct{}
	gcDone   chan struct{}
}

// New opens a BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	// Queue entries must survive a crash: fsync every write.
	opts.SyncWrites = true
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go s.runGC()

	return s, nil
}

func storageKey(scope, key string) []byte {
	return []byte(scope + "/" + key)
}

// Get returns the value for a key.
func (s *Store) Get(_ context.Context, scope, key string) (string, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storageKey(scope, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return kvstore.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetMany returns the values for the given keys, omitting absent ones.
func (s *Store) GetMany(_ context.Context, scope string, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get(storageKey(scope, key))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			err = item.Value(func(val []byte) error {
				result[key] = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetMany writes all given key-value pairs in one transaction.
func (s *Store) SetMany(_ context.Context, scope string, values map[string]string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for key, val := range values {
			if err := txn.Set(storageKey(scope, key), []byte(val)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update applies fn inside a serializable transaction. A conflicting
// concurrent write aborts the transaction and the read-modify-write is
// retried against the fresh value, so no update is ever lost.
func (s *Store) Update(ctx context.Context, scope, key string, fn kvstore.UpdateFunc) error {
	var lastErr error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			var current string
			found := false

			item, err := txn.Get(storageKey(scope, key))
			switch {
			case err == nil:
				err = item.Value(func(val []byte) error {
					current = string(val)
					return nil
				})
				if err != nil {
					return err
				}
				found = true
			case errors.Is(err, badger.ErrKeyNotFound):
				// key absent, fn sees found=false
			default:
				return err
			}

			next, err := fn(current, found)
			if err != nil {
				return err
			}
			return txn.Set(storageKey(scope, key), []byte(next))
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// Close stops the GC goroutine and closes the database.
func (s *Store) Close() error {
	close(s.gcStopCh)
	<-s.gcDone
	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		case <-s.gcStopCh:
			return
		}
	}
}
