package config

import (
	"fmt"
	"strings"
	"time"

	ftpadapter "github.com/marmos91/dittoftp/pkg/adapter/ftp"
	"github.com/marmos91/dittoftp/pkg/usermanager"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Boolean fields stay false so they can be disabled explicitly;
//     GetDefaultConfig turns the recommended ones on for generated files
//   - Backend-specific defaults are handled by the backend factories
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyFileSystemDefaults(&cfg.FileSystem)
	applyUsersDefaults(&cfg.Users)
	applyMessagesDefaults(cfg)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}

	if cfg.Connection.MaxLogins == 0 {
		cfg.Connection.MaxLogins = 10
	}
	if cfg.Connection.MaxAnonymousLogins == 0 {
		cfg.Connection.MaxAnonymousLogins = 10
	}
	if cfg.Connection.MaxLoginFailures == 0 {
		cfg.Connection.MaxLoginFailures = 3
	}
	if cfg.Connection.LoginFailureDelay == 0 {
		cfg.Connection.LoginFailureDelay = 500 * time.Millisecond
	}
}

// applyFileSystemDefaults sets file system backend defaults.
func applyFileSystemDefaults(cfg *FileSystemConfig) {
	if cfg.Type == "" {
		cfg.Type = "native"
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if cfg.Native == nil {
		cfg.Native = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Present for all backends so generated files show the option
	if _, ok := cfg.Native["root"]; !ok {
		cfg.Native["root"] = "/tmp/dittoftp"
	}
}

// applyUsersDefaults sets user store defaults.
func applyUsersDefaults(cfg *UsersConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if cfg.PasswordEncryption == "" {
		cfg.PasswordEncryption = "bcrypt"
	}
	if cfg.AdminName == "" {
		cfg.AdminName = "admin"
	}

	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.File["path"]; !ok {
		cfg.File["path"] = "/tmp/dittoftp-users.yaml"
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/dittoftp-users"
	}

	for i := range cfg.Seed {
		if cfg.Seed[i].HomeDir == "" {
			cfg.Seed[i].HomeDir = "/"
		}
	}
}

func applyMessagesDefaults(cfg *Config) {
	if cfg.Messages.DefaultLanguage == "" {
		cfg.Messages.DefaultLanguage = "en"
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Add one listener when none is configured so a freshly loaded config
	// (with no config file) serves something and passes validation.
	if len(cfg.FTP) == 0 {
		cfg.FTP = []ftpadapter.FTPConfig{{
			Name:    "default",
			Enabled: true,
			Port:    2121,
		}}
	}

	for i := range cfg.FTP {
		applyFTPDefaults(&cfg.FTP[i], i)
	}
}

// applyFTPDefaults sets FTP listener defaults.
func applyFTPDefaults(cfg *ftpadapter.FTPConfig, index int) {
	if cfg.Name == "" {
		if index == 0 {
			cfg.Name = "default"
		} else {
			cfg.Name = fmt.Sprintf("ftp-%d", index)
		}
	}

	if cfg.Port == 0 && !cfg.Ephemeral {
		cfg.Port = 21
	}

	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}

	dc := &cfg.DataConnection
	if dc.IdleTimeout == 0 {
		dc.IdleTimeout = 5 * time.Minute
	}
	if dc.AcceptTimeout == 0 {
		dc.AcceptTimeout = 30 * time.Second
	}
	if dc.DialTimeout == 0 {
		dc.DialTimeout = 10 * time.Second
	}
	if strings.TrimSpace(dc.PassivePorts) == "" {
		dc.PassivePorts = "0"
	}

	if cfg.AllowedClients == nil {
		cfg.AllowedClients = []string{}
	}
	if cfg.DeniedClients == nil {
		cfg.DeniedClients = []string{}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Connection: ConnectionConfig{
				AnonymousLoginEnabled: true,
			},
			Hooks: HooksConfig{
				Audit: true,
			},
		},
		Users: UsersConfig{
			Type: "file",
			Seed: []usermanager.User{
				{
					Name:            "admin",
					Password:        "admin",
					HomeDir:         "/",
					Enabled:         true,
					WritePermission: true,
				},
				{
					Name:    usermanager.AnonymousName,
					HomeDir: "/pub",
					Enabled: true,
				},
			},
		},
		Commands: CommandsConfig{
			Disabled: []string{},
		},
		Adapters: AdaptersConfig{
			FTP: []ftpadapter.FTPConfig{{
				Name:    "default",
				Enabled: true,
				Port:    2121,
				DataConnection: ftpadapter.DataConnectionConfig{
					ActiveEnabled:    true,
					ActiveIPCheck:    true,
					PassiveIPCheck:   true,
					PassivePorts:     "50000-50100",
					PassiveBindProbe: true,
				},
			}},
		},
	}

	ApplyDefaults(cfg)
	cfg.Server.Hooks.DenyExtensions = []string{}
	return cfg
}
