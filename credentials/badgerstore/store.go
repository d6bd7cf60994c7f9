// Package badgerstore persists the credential pair in an embedded Badger database,
// so the pair survives client restarts.
package badgerstore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/jrsteele09/go-collab-client/credentials"
)

const maxConflictRetries = 3

var _ credentials.Store = (*Store)(nil)

// Store is a credentials.Store backed by Badger. Both tokens are written in a
// single transaction so readers never observe a mixed pair.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store in dir. An empty dir keeps the data in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(zerologAdapter{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore.Open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get() (credentials.Pair, error) {
	var pair credentials.Pair
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if pair.AccessToken, err = getString(txn, credentials.AccessTokenKey); err != nil {
			return err
		}
		pair.RefreshToken, err = getString(txn, credentials.RefreshTokenKey)
		return err
	})
	if err != nil {
		return credentials.Pair{}, fmt.Errorf("badgerstore.Get: %w", err)
	}
	return pair, nil
}

func (s *Store) Replace(pair credentials.Pair) error {
	return s.update(func(txn *badger.Txn) error {
		return setPair(txn, pair)
	})
}

func (s *Store) ReplaceIf(expectedAccessToken string, pair credentials.Pair) (bool, error) {
	var swapped bool
	err := s.update(func(txn *badger.Txn) error {
		swapped = false
		current, err := getString(txn, credentials.AccessTokenKey)
		if err != nil {
			return err
		}
		if current != expectedAccessToken {
			return nil
		}
		if err := setPair(txn, pair); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

func (s *Store) Clear() error {
	return s.update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(credentials.AccessTokenKey)); err != nil {
			return err
		}
		return txn.Delete([]byte(credentials.RefreshTokenKey))
	})
}

// update runs fn in a read-write transaction, retrying on optimistic-concurrency conflicts
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("badgerstore.update: %w", err)
	}
	return nil
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func setPair(txn *badger.Txn, pair credentials.Pair) error {
	if err := txn.Set([]byte(credentials.AccessTokenKey), []byte(pair.AccessToken)); err != nil {
		return err
	}
	return txn.Set([]byte(credentials.RefreshTokenKey), []byte(pair.RefreshToken))
}
