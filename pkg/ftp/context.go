package ftp

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittoftp/pkg/filesystem"
	"github.com/marmos91/dittoftp/pkg/metrics"
	"github.com/marmos91/dittoftp/pkg/usermanager"
)

// ErrCloseSession is returned by a command handler to end the session after
// its reply has been written (QUIT, policy disconnects).
var ErrCloseSession = errors.New("close session")

// UserManager authenticates and looks up accounts.
type UserManager interface {
	Authenticate(ctx context.Context, creds usermanager.Credentials) (*usermanager.User, error)
	GetUserByName(ctx context.Context, name string) (*usermanager.User, error)
	DoesExist(ctx context.Context, name string) (bool, error)
	IsAdmin(name string) bool
}

// CommandSet lists the verbs a server accepts. Implemented by command.Table.
type CommandSet interface {
	Verbs() []string
}

// ConnectionConfig holds the login policy shared by all listeners.
type ConnectionConfig struct {
	// MaxLogins caps concurrent authenticated sessions (0 = unlimited).
	MaxLogins int

	AnonymousLoginEnabled bool

	// MaxAnonymousLogins caps concurrent anonymous sessions (0 = unlimited).
	MaxAnonymousLogins int

	// MaxLoginFailures closes the session after that many failed PASS
	// attempts (0 = unlimited).
	MaxLoginFailures int

	// LoginFailureDelay is slept before answering a failed PASS.
	LoginFailureDelay time.Duration
}

// ServerContext is the state shared by every session of a server.
type ServerContext struct {
	Users      UserManager
	FileSystem filesystem.Factory
	Messages   MessageResource
	Hooks      *HookChain
	Stats      *Stats
	Metrics    metrics.FTPMetrics
	Connection ConnectionConfig
	Commands   CommandSet

	// DefaultLanguage is used until the client sends LANG.
	DefaultLanguage string

	sessions sync.Map // session ID -> *Session
}

// Register adds a session to the registry consulted by SITE WHO.
func (c *ServerContext) Register(s *Session) {
	c.sessions.Store(s.ID, s)
}

// Unregister removes a session.
func (c *ServerContext) Unregister(s *Session) {
	c.sessions.Delete(s.ID)
}

// Sessions returns the open sessions ordered by creation time.
func (c *ServerContext) Sessions() []*Session {
	var out []*Session
	c.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Metric returns the configured metrics or the no-op implementation.
func (c *ServerContext) Metric() metrics.FTPMetrics {
	if c.Metrics == nil {
		return metrics.NewNoopFTPMetrics()
	}
	return c.Metrics
}
