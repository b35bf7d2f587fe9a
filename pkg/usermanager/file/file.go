// Package file implements a usermanager.Store backed by a YAML file.
//
// The whole file is loaded at startup and rewritten atomically (write to a
// temporary file, then rename) on every change.
//
// File format:
//
//	users:
//	  - name: admin
//	    password: $2a$10$...
//	    home_dir: /
//	    enabled: true
//	    write_permission: true
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/marmos91/dittoftp/pkg/usermanager"
	"gopkg.in/yaml.v3"
)

type document struct {
	Users []*usermanager.User `yaml:"users"`
}

// Store is a YAML backed user store.
type Store struct {
	mu    sync.RWMutex
	path  string
	users map[string]*usermanager.User
}

// New loads path. A missing file yields an empty store that is created on
// the first Put.
func New(path string) (*Store, error) {
	s := &Store{path: path, users: make(map[string]*usermanager.User)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read user file %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse user file %s: %w", path, err)
	}
	for _, u := range doc.Users {
		if u == nil || u.Name == "" {
			continue
		}
		s.users[u.Name] = u
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
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

	prev, existed := s.users[user.Name]
	s.users[user.Name] = user.Clone()

	if err := s.flushLocked(); err != nil {
		if existed {
			s.users[user.Name] = prev
		} else {
			delete(s.users, user.Name)
		}
		return err
	}
	return nil
}

// Delete implements usermanager.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[name]
	if !ok {
		return nil
	}
	delete(s.users, name)

	if err := s.flushLocked(); err != nil {
		s.users[name] = prev
		return err
	}
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

func (s *Store) flushLocked() error {
	doc := document{Users: make([]*usermanager.User, 0, len(s.users))}
	for _, u := range s.users {
		doc.Users = append(doc.Users, u)
	}
	sort.Slice(doc.Users, func(i, j int) bool { return doc.Users[i].Name < doc.Users[j].Name })

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode user file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create user file directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".users-*.yaml")
	if err != nil {
		return fmt.Errorf("create temporary user file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write user file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod user file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close user file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace user file: %w", err)
	}
	return nil
}
