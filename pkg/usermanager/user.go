package usermanager

import (
	"net"
	"strings"
	"time"
)

// AnonymousName is the user name that triggers anonymous authentication.
const AnonymousName = "anonymous"

// User is an FTP account.
//
// Password holds the encrypted password once the user has been saved. Zero
// limits mean unlimited.
type User struct {
	Name     string `json:"name" yaml:"name" mapstructure:"name"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`

	// HomeDir is the user's root inside the file system backend, relative
	// to the backend root ("/" means the whole backend).
	HomeDir string `json:"home_dir" yaml:"home_dir" mapstructure:"home_dir"`

	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// WritePermission allows uploads, deletes, renames and directory
	// changes. WritePaths restricts it to the given virtual subtrees when
	// non-empty.
	WritePermission bool     `json:"write_permission" yaml:"write_permission" mapstructure:"write_permission"`
	WritePaths      []string `json:"write_paths,omitempty" yaml:"write_paths,omitempty" mapstructure:"write_paths"`

	// MaxIdleTime overrides the listener idle timeout when non-zero.
	MaxIdleTime time.Duration `json:"max_idle_time,omitempty" yaml:"max_idle_time,omitempty" mapstructure:"max_idle_time"`

	// MaxLogins caps concurrent sessions of this user. MaxLoginsPerIP caps
	// them per client address.
	MaxLogins      int `json:"max_logins,omitempty" yaml:"max_logins,omitempty" mapstructure:"max_logins"`
	MaxLoginsPerIP int `json:"max_logins_per_ip,omitempty" yaml:"max_logins_per_ip,omitempty" mapstructure:"max_logins_per_ip"`

	// Transfer rate limits in bytes per second.
	MaxUploadRate   int `json:"max_upload_rate,omitempty" yaml:"max_upload_rate,omitempty" mapstructure:"max_upload_rate"`
	MaxDownloadRate int `json:"max_download_rate,omitempty" yaml:"max_download_rate,omitempty" mapstructure:"max_download_rate"`
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.WritePaths = append([]string(nil), u.WritePaths...)
	return &c
}

// CanWrite reports whether the user may modify the given resolved virtual
// path.
func (u *User) CanWrite(virtual string) bool {
	if !u.WritePermission {
		return false
	}
	if len(u.WritePaths) == 0 {
		return true
	}
	for _, p := range u.WritePaths {
		p = "/" + strings.Trim(p, "/")
		if p == "/" || virtual == p || strings.HasPrefix(virtual, p+"/") {
			return true
		}
	}
	return false
}

// IsAnonymous reports whether this is the anonymous account.
func (u *User) IsAnonymous() bool {
	return u.Name == AnonymousName
}

// Credentials carries a login attempt.
type Credentials struct {
	Username string
	Password string

	// RemoteAddr is the control connection peer, used for logging.
	RemoteAddr net.Addr
}

// IsAnonymous reports whether the attempt uses the anonymous account.
func (c Credentials) IsAnonymous() bool {
	return c.Username == AnonymousName
}
