// Package usermanager authenticates FTP users and manages their accounts.
//
// A Manager holds the policy (password encryption, anonymous access, the
// admin account) and delegates persistence to a Store. Stores live in the
// memory, file and badger subpackages.
package usermanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/marmos91/dittoftp/internal/logger"
)

// Store persists users. Implementations must be safe for concurrent use.
//
// Stores deal in stored users: the Password field is already encrypted.
type Store interface {
	// Get returns a copy of the user or ErrUserNotFound.
	Get(ctx context.Context, name string) (*User, error)

	// Put creates or replaces the user.
	Put(ctx context.Context, user *User) error

	// Delete removes the user. Deleting a missing user is not an error.
	Delete(ctx context.Context, name string) error

	// Names returns every user name.
	Names(ctx context.Context) ([]string, error)

	Close() error
}

// Config configures a Manager.
type Config struct {
	// AdminName is the account allowed to run administrative SITE
	// commands. Defaults to "admin".
	AdminName string

	// Encryptor defaults to bcrypt.
	Encryptor PasswordEncryptor
}

// Manager authenticates users against a Store.
type Manager struct {
	store     Store
	adminName string
	encryptor PasswordEncryptor
}

// New creates a manager over store.
func New(store Store, cfg Config) *Manager {
	if cfg.AdminName == "" {
		cfg.AdminName = "admin"
	}
	if cfg.Encryptor == nil {
		cfg.Encryptor = BcryptEncryptor{}
	}
	return &Manager{store: store, adminName: cfg.AdminName, encryptor: cfg.Encryptor}
}

// AdminName returns the administrator account name.
func (m *Manager) AdminName() string {
	return m.adminName
}

// Authenticate checks credentials and returns the user on success.
//
// The anonymous account accepts any password as long as it exists and is
// enabled. Every failure is reported as ErrAuthenticationFailed.
func (m *Manager) Authenticate(ctx context.Context, creds Credentials) (*User, error) {
	user, err := m.store.Get(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			logger.Debug("Authentication failed for %q from %v: unknown user", creds.Username, creds.RemoteAddr)
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("lookup user %q: %w", creds.Username, err)
	}

	if !user.Enabled {
		logger.Debug("Authentication failed for %q from %v: account disabled", creds.Username, creds.RemoteAddr)
		return nil, ErrAuthenticationFailed
	}

	if creds.IsAnonymous() {
		return user, nil
	}

	if !m.encryptor.Matches(creds.Password, user.Password) {
		logger.Debug("Authentication failed for %q from %v: bad password", creds.Username, creds.RemoteAddr)
		return nil, ErrAuthenticationFailed
	}
	return user, nil
}

// GetUserByName returns the user or ErrUserNotFound.
func (m *Manager) GetUserByName(ctx context.Context, name string) (*User, error) {
	return m.store.Get(ctx, name)
}

// DoesExist reports whether the user exists.
func (m *Manager) DoesExist(ctx context.Context, name string) (bool, error) {
	_, err := m.store.Get(ctx, name)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IsAdmin reports whether name is the administrator account.
func (m *Manager) IsAdmin(name string) bool {
	return name == m.adminName
}

// AllUserNames returns every user name, sorted.
func (m *Manager) AllUserNames(ctx context.Context) ([]string, error) {
	names, err := m.store.Names(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Save validates and stores the user. A non-empty Password is treated as a
// new plain password and encrypted; an empty one keeps the stored password
// of an existing user.
func (m *Manager) Save(ctx context.Context, user *User) error {
	if err := validate(user); err != nil {
		return err
	}

	stored := user.Clone()
	if stored.HomeDir == "" {
		stored.HomeDir = "/"
	}

	if stored.Password != "" {
		hash, err := m.encryptor.Encrypt(stored.Password)
		if err != nil {
			return err
		}
		stored.Password = hash
	} else {
		existing, err := m.store.Get(ctx, stored.Name)
		switch {
		case err == nil:
			stored.Password = existing.Password
		case !errors.Is(err, ErrUserNotFound):
			return err
		}
	}

	return m.store.Put(ctx, stored)
}

// Delete removes the user.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.store.Delete(ctx, name)
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func validate(user *User) error {
	if user == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidUser)
	}
	name := strings.TrimSpace(user.Name)
	if name == "" || name != user.Name {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidUser, user.Name)
	}
	if strings.ContainsAny(name, "/\\:\r\n") {
		return fmt.Errorf("%w: name %q contains reserved characters", ErrInvalidUser, name)
	}
	if user.MaxLogins < 0 || user.MaxLoginsPerIP < 0 || user.MaxUploadRate < 0 || user.MaxDownloadRate < 0 {
		return fmt.Errorf("%w: negative limit for %q", ErrInvalidUser, name)
	}
	return nil
}
