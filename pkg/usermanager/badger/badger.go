// Package badger implements a persistent usermanager.Store on BadgerDB.
//
// Key Namespace:
//
//	Data Type   Prefix   Key Format     Value Type
//	=================================================
//	Users       "u:"     u:<name>       User (JSON)
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittoftp/pkg/usermanager"
)

const prefixUser = "u:"

func keyUser(name string) []byte {
	return []byte(prefixUser + name)
}

// Config configures the store.
type Config struct {
	// DBPath is the database directory.
	DBPath string

	// InMemory runs Badger without touching disk (tests).
	InMemory bool
}

// Store is a BadgerDB backed user store.
type Store struct {
	db *badger.DB
}

// New opens (or creates) the database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("badger user store path is required")
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	// User records are tiny and rarely written.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}
	return &Store{db: db}, nil
}

func encodeUser(u *usermanager.User) ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user: %w", err)
	}
	return data, nil
}

func decodeUser(data []byte) (*usermanager.User, error) {
	var u usermanager.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &u, nil
}

// Get implements usermanager.Store.
func (s *Store) Get(ctx context.Context, name string) (*usermanager.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var user *usermanager.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyUser(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			u, err := decodeUser(val)
			if err != nil {
				return err
			}
			user = u
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%q: %w", name, usermanager.ErrUserNotFound)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Put implements usermanager.Store.
func (s *Store) Put(ctx context.Context, user *usermanager.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeUser(user)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyUser(user.Name), data)
	})
}

// Delete implements usermanager.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyUser(name))
	})
}

// Names implements usermanager.Store.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixUser)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			names = append(names, string(key[len(prefixUser):]))
		}
		return nil
	})
	return names, err
}

// Close implements usermanager.Store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
