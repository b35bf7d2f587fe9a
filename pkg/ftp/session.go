package ftp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/filesystem"
	"github.com/marmos91/dittoftp/pkg/ftp/dataconn"
	"github.com/marmos91/dittoftp/pkg/usermanager"
)

// DataType is the representation type set by TYPE.
type DataType int

const (
	TypeASCII DataType = iota
	TypeBinary
)

func (t DataType) String() string {
	if t == TypeBinary {
		return "BINARY"
	}
	return "ASCII"
}

// Structure is the file structure set by STRU.
type Structure int

const (
	StructureFile Structure = iota
	StructureRecord
	StructurePage
)

// ControlConn is the control connection as seen by command handlers.
type ControlConn interface {
	// Write sends raw reply bytes to the client.
	Write(s string) error

	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	// TLSAvailable reports whether UpgradeTLS can succeed.
	TLSAvailable() bool

	// UpgradeTLS runs a server-side TLS handshake on the socket. The caller
	// must have written the 234 reply first.
	UpgradeTLS() error

	IsSecure() bool
	Close() error
}

// DefaultMLSTFacts is the fact selection before any OPTS MLST.
var DefaultMLSTFacts = []string{"size", "modify", "type", "perm"}

// Session is the state of one control connection.
//
// Command handlers run one at a time, so the transfer parameters are owned by
// the running handler. Fields read by other sessions (SITE WHO) or by the
// connection loop are guarded by mu or are atomic.
type Session struct {
	ID        string
	Listener  string
	CreatedAt time.Time
	Conn      ControlConn

	// Transfer parameters.
	DataType  DataType
	Structure Structure
	Offset    int64
	// RenameFrom is set by RNFR and consumed by RNTO.
	RenameFrom *filesystem.File

	// View is the user's file system, nil until login.
	View filesystem.View

	Language  string
	UTF8      bool
	MLSTFacts []string

	// PBSZReceived is set once PBSZ has been accepted (required before PROT).
	PBSZReceived bool

	server  *ServerContext
	dataCfg dataconn.Config

	// defaultIdle applies until a user with its own limit logs in.
	defaultIdle time.Duration

	mu           sync.Mutex
	user         *usermanager.User
	loginTime    time.Time
	pendingUser  string
	failedLogins int
	maxIdle      time.Duration
	factory      *dataconn.Factory

	lastAccess atomic.Int64
	replies    atomic.Int64
	lastReply  atomic.Value // Reply

	closeOnce sync.Once
}

// NewSession creates a session bound to conn.
func NewSession(sc *ServerContext, conn ControlConn, listener string, dataCfg dataconn.Config, idle time.Duration) *Session {
	now := time.Now()
	s := &Session{
		ID:          uuid.NewString(),
		Listener:    listener,
		CreatedAt:   now,
		Conn:        conn,
		Language:    sc.DefaultLanguage,
		MLSTFacts:   DefaultMLSTFacts,
		server:      sc,
		dataCfg:     dataCfg,
		defaultIdle: idle,
		maxIdle:     idle,
	}
	s.lastAccess.Store(now.UnixNano())
	return s
}

// Server returns the shared server context.
func (s *Session) Server() *ServerContext {
	return s.server
}

// User returns the logged-in user, or nil.
func (s *Session) User() *usermanager.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// IsLoggedIn reports whether PASS succeeded.
func (s *Session) IsLoggedIn() bool {
	return s.User() != nil
}

// LoginTime returns when the current user logged in.
func (s *Session) LoginTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginTime
}

// SetPendingUser records the USER argument for the next PASS.
func (s *Session) SetPendingUser(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingUser = name
}

// PendingUser returns the name given by USER.
func (s *Session) PendingUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingUser
}

// Login binds user and view to the session.
func (s *Session) Login(user *usermanager.User, view filesystem.View) {
	s.mu.Lock()
	s.user = user
	s.loginTime = time.Now()
	s.pendingUser = ""
	if user.MaxIdleTime > 0 {
		s.maxIdle = user.MaxIdleTime
	}
	s.mu.Unlock()

	s.View = view
	s.server.Stats.LoginSucceeded(user.Name, s.ClientIP(), user.IsAnonymous())
}

// Logout unbinds the user and disposes the view. No-op when not logged in.
func (s *Session) Logout() {
	s.mu.Lock()
	user := s.user
	s.user = nil
	s.loginTime = time.Time{}
	s.maxIdle = s.defaultIdle
	s.mu.Unlock()

	if s.View != nil {
		s.View.Dispose()
		s.View = nil
	}
	if user != nil {
		s.server.Stats.LoggedOut(user.Name, s.ClientIP(), user.IsAnonymous())
	}
}

// LoginFailed increments and returns the failed-login counter.
func (s *Session) LoginFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedLogins++
	return s.failedLogins
}

// FailedLogins returns the failed-login counter.
func (s *Session) FailedLogins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedLogins
}

// MaxIdleTime returns the idle limit in force (0 = none).
func (s *Session) MaxIdleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxIdle
}

// Touch records control or data activity.
func (s *Session) Touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

// LastAccess returns the last recorded activity.
func (s *Session) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

// ClientIP returns the control peer IP as a string.
func (s *Session) ClientIP() string {
	return hostOf(s.Conn.RemoteAddr())
}

// DataConnection returns the session's data connection factory, creating it
// on first use.
func (s *Session) DataConnection() *dataconn.Factory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factory == nil {
		s.factory = dataconn.NewFactory(s.dataCfg, s.Conn.LocalAddr(), s.Conn.RemoteAddr())
		s.factory.SetActivityFunc(s.Touch)
	}
	return s.factory
}

// CurrentDataConnection returns the factory if it exists, without creating
// one.
func (s *Session) CurrentDataConnection() *dataconn.Factory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factory
}

// IsTransferring reports whether a data transfer is in progress.
func (s *Session) IsTransferring() bool {
	f := s.CurrentDataConnection()
	return f != nil && f.IsTransferring()
}

// ResetState clears the state a previous command left for the next one.
func (s *Session) ResetState() {
	s.RenameFrom = nil
	s.Offset = 0
}

// Reinitialize returns the session to the state right after connect (REIN).
func (s *Session) Reinitialize() {
	s.Logout()
	s.ResetState()

	s.mu.Lock()
	s.pendingUser = ""
	s.mu.Unlock()

	s.DataType = TypeASCII
	s.Structure = StructureFile
	s.MLSTFacts = DefaultMLSTFacts
	if f := s.CurrentDataConnection(); f != nil {
		f.Close()
	}
}

// Close releases the session's resources. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if f := s.CurrentDataConnection(); f != nil {
			f.Close()
		}
		s.Logout()
		logger.Debug("FTP session %s: closed", s.ID)
	})
}

// ============================================================================
// Replies
// ============================================================================

// Write sends a reply and records it.
func (s *Session) Write(r Reply) error {
	s.replies.Add(1)
	s.lastReply.Store(r)
	if logger.IsDebug() {
		logger.Debug("FTP session %s: <- %d %s", s.ID, r.Code, firstLine(r.Message))
	}
	return s.Conn.Write(r.String())
}

// Reply writes a translated reply. The text is looked up under
// "code.subID" then "code" in the session language, falling back to basic.
func (s *Session) Reply(req *Request, code int, subID, basic string) error {
	return s.Write(NewReply(code, Translate(s, req, code, subID, basic)))
}

// ReplyCount returns the number of replies written so far.
func (s *Session) ReplyCount() int64 {
	return s.replies.Load()
}

// LastReply returns the last reply written, or the zero Reply.
func (s *Session) LastReply() Reply {
	r, _ := s.lastReply.Load().(Reply)
	return r
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return s[:i] + " ..."
		}
	}
	return s
}
