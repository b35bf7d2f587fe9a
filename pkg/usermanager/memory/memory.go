// Package memory implements an in-memory usermanager.Store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittoftp/pkg/usermanager"
)

// Store keeps users in a map. Contents are lost on exit.
type Store struct {
	mu    sync.RWMutex
	users map[string]*usermanager.User
}

// New returns an empty store.
func New() *Store {
	return &Store{users: make(map[string]*usermanager.User)}
}

// Get implements usermanager.Store.
func (s *Store) Get(ctx context.Context, name string) (*usermanager.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, usermanager.ErrUserNotFound)
	}
	return u.Clone(), nil
}

// Put implements usermanager.Store.
func (s *Store) Put(ctx context.Context, user *usermanager.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Name] = user.Clone()
	return nil
}

// Delete implements usermanager.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, name)
	return nil
}

// Names implements usermanager.Store.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	return names, nil
}

// Close implements usermanager.Store.
func (s *Store) Close() error {
	return nil
}
