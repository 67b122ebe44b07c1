package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const incrementRetries = 5

// BadgerStore is an embedded Store. An empty path keeps everything in memory.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, false, nil
	case errors.Is(err, badger.ErrDBClosed):
		return nil, false, ErrClosed
	case err != nil:
		return nil, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

// Increment adds one to the integer stored at key, creating it at 1. An existing
// expiry is carried over to the new value.
func (s *BadgerStore) Increment(ctx context.Context, key string) (int64, error) {
	var next int64
	for attempt := 0; attempt < incrementRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			entry, n, err := incrementEntry(txn, key)
			if err != nil {
				return err
			}
			next = n
			return txn.SetEntry(entry)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if errors.Is(err, badger.ErrDBClosed) {
			return 0, ErrClosed
		}
		if err != nil {
			return 0, fmt.Errorf("badger increment %s: %w", key, err)
		}
		return next, nil
	}
	return 0, fmt.Errorf("badger increment %s: %w", key, badger.ErrConflict)
}

func incrementEntry(txn *badger.Txn, key string) (*badger.Entry, int64, error) {
	var current int64
	var expiresAt uint64

	item, err := txn.Get([]byte(key))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return nil, 0, err
	default:
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, 0, err
		}
		current, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("value is not an integer: %w", err)
		}
		expiresAt = item.ExpiresAt()
	}

	next := current + 1
	entry := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(next, 10)))
	if expiresAt > 0 {
		remaining := time.Until(time.Unix(int64(expiresAt), 0))
		if remaining <= 0 {
			// Expired between read and write; start a fresh counter.
			next = 1
			entry = badger.NewEntry([]byte(key), []byte("1"))
		} else {
			entry = entry.WithTTL(remaining)
		}
	}
	return entry, next, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
