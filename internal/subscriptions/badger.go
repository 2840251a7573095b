package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const (
	channelPrefix = "sub:"
	seededKey     = "meta:seeded"
)

// BadgerStore keeps one key per channel. List returns channels ordered by
// lower-cased name.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) a database at path. An empty path opens
// an in-memory database. A database that was never seeded gets defaults.
func OpenBadgerStore(path string, defaults []string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	s := &BadgerStore{db: db}
	if err := s.seed(cleanDefaults(defaults)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) seed(defaults []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(seededKey))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		for _, name := range defaults {
			if err := txn.Set(channelKey(name), []byte(name)); err != nil {
				return err
			}
		}
		return txn.Set([]byte(seededKey), []byte("1"))
	})
}

func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	_ = ctx
	channels := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(channelPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				channels = append(channels, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return channels, nil
}

// Add keeps the stored spelling when the channel is already subscribed.
func (s *BadgerStore) Add(ctx context.Context, channel string) ([]string, error) {
	name, err := Normalize(channel)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		key := channelKey(name)
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, []byte(name))
	})
	if err != nil {
		return nil, fmt.Errorf("add subscription: %w", err)
	}
	return s.List(ctx)
}

func (s *BadgerStore) Remove(ctx context.Context, channel string) ([]string, error) {
	name, err := Normalize(channel)
	if err != nil {
		return nil, err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(channelKey(name))
	}); err != nil {
		return nil, fmt.Errorf("remove subscription: %w", err)
	}
	return s.List(ctx)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func channelKey(name string) []byte {
	return []byte(channelPrefix + strings.ToLower(name))
}
