package e2e

import (
	"fmt"
	"path/filepath"
	"time"

	ftpadapter "github.com/marmos91/dittoftp/pkg/adapter/ftp"
	"github.com/marmos91/dittoftp/pkg/config"
	"github.com/marmos91/dittoftp/pkg/usermanager"
)

// FileSystemType represents the file system backend
type FileSystemType string

const (
	FileSystemMemory FileSystemType = "memory"
	FileSystemNative FileSystemType = "native"
	FileSystemS3     FileSystemType = "s3"
)

// UserStoreType represents the user store backend
type UserStoreType string

const (
	UsersMemory UserStoreType = "memory"
	UsersFile   UserStoreType = "file"
	UsersBadger UserStoreType = "badger"
)

// Accounts seeded into every test server.
const (
	AdminUser     = "admin"
	AdminPassword = "admin-secret"
	ReaderUser    = "reader"
	ReaderPass    = "reader-secret"
)

// TestContextProvider is an interface for providing test context dependencies
type TestContextProvider interface {
	CreateTempDir(prefix string) string
	GetConfig() *TestConfig
}

// TestConfig holds the configuration for a test run
type TestConfig struct {
	Name       string
	FileSystem FileSystemType
	Users      UserStoreType

	// Listeners is the number of FTP listeners sharing the server (default 1)
	Listeners int

	// S3-specific fields (set by localstack setup)
	s3Endpoint string
	s3Bucket   string
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s/%s", tc.FileSystem, tc.Users)
}

// BuildConfig produces a server configuration for this test run. Every
// listener binds an ephemeral port on the loopback interface.
func (tc *TestConfig) BuildConfig(testCtx TestContextProvider) (*config.Config, error) {
	cfg := config.GetDefaultConfig()

	cfg.Logging.Level = "ERROR"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Server.Hooks.Audit = false
	cfg.Server.Connection.LoginFailureDelay = 10 * time.Millisecond

	cfg.FileSystem.Type = string(tc.FileSystem)
	switch tc.FileSystem {
	case FileSystemMemory:
	case FileSystemNative:
		cfg.FileSystem.Native = map[string]any{
			"root":        testCtx.CreateTempDir("dittoftp-e2e-root-*"),
			"create_home": true,
		}
	case FileSystemS3:
		if tc.s3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket not initialized (localstack not running?)")
		}
		cfg.FileSystem.S3 = map[string]any{
			"region":            "us-east-1",
			"bucket":            tc.s3Bucket,
			"key_prefix":        "e2e/",
			"endpoint":          tc.s3Endpoint,
			"access_key_id":     "test",
			"secret_access_key": "test",
		}
	default:
		return nil, fmt.Errorf("unknown filesystem type: %s", tc.FileSystem)
	}

	cfg.Users.Type = string(tc.Users)
	cfg.Users.PasswordEncryption = "clear"
	cfg.Users.AdminName = AdminUser
	switch tc.Users {
	case UsersMemory:
	case UsersFile:
		cfg.Users.File = map[string]any{
			"path": filepath.Join(testCtx.CreateTempDir("dittoftp-e2e-users-*"), "users.yaml"),
		}
	case UsersBadger:
		cfg.Users.Badger = map[string]any{
			"db_path": testCtx.CreateTempDir("dittoftp-e2e-badger-*"),
		}
	default:
		return nil, fmt.Errorf("unknown user store type: %s", tc.Users)
	}
	cfg.Users.Seed = []usermanager.User{
		{Name: AdminUser, Password: AdminPassword, HomeDir: "/", Enabled: true, WritePermission: true},
		{Name: ReaderUser, Password: ReaderPass, HomeDir: "/", Enabled: true},
		{Name: usermanager.AnonymousName, HomeDir: "/", Enabled: true},
	}

	listeners := tc.Listeners
	if listeners < 1 {
		listeners = 1
	}
	cfg.Adapters.FTP = make([]ftpadapter.FTPConfig, 0, listeners)
	for i := 0; i < listeners; i++ {
		cfg.Adapters.FTP = append(cfg.Adapters.FTP, ftpadapter.FTPConfig{
			Name:            fmt.Sprintf("e2e-%d", i),
			Enabled:         true,
			Address:         "127.0.0.1",
			Ephemeral:       true,
			ShutdownTimeout: 2 * time.Second,
			DataConnection: ftpadapter.DataConnectionConfig{
				PassivePorts:   "0",
				PassiveIPCheck: true,
				AcceptTimeout:  5 * time.Second,
			},
		})
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// AllConfigurations returns all test configurations to run
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:       "memory-memory",
			FileSystem: FileSystemMemory,
			Users:      UsersMemory,
		},
		{
			Name:       "native-file",
			FileSystem: FileSystemNative,
			Users:      UsersFile,
		},
		{
			Name:       "native-badger",
			FileSystem: FileSystemNative,
			Users:      UsersBadger,
		},
	}
}

// S3Configurations returns configurations that use S3 (requires localstack)
func S3Configurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:       "s3-memory",
			FileSystem: FileSystemS3,
			Users:      UsersMemory,
		},
		{
			Name:       "s3-badger",
			FileSystem: FileSystemS3,
			Users:      UsersBadger,
		},
	}
}

// GetConfiguration returns a specific configuration by name
func GetConfiguration(name string) *TestConfig {
	for _, config := range AllConfigurations() {
		if config.Name == name {
			return config
		}
	}

	for _, config := range S3Configurations() {
		if config.Name == name {
			return config
		}
	}

	return nil
}
