package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ftpadapter "github.com/marmos91/dittoftp/pkg/adapter/ftp"
	"github.com/marmos91/dittoftp/pkg/message"
	"github.com/marmos91/dittoftp/pkg/usermanager"
	"github.com/spf13/viper"
)

// Config represents the complete DittoFTP configuration.
//
// This structure captures all configurable aspects of the server:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics, login limits, hooks)
//   - File system backend selection (backend-specific options)
//   - User store selection and seed accounts
//   - Reply message templates
//   - Command table overrides
//   - FTP listeners
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOFTP_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Backend Configuration Pattern:
// Each backend defines its own option set, decoded with mapstructure by its
// factory. Only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// FileSystem selects the storage backend of user home directories
	FileSystem FileSystemConfig `mapstructure:"filesystem" yaml:"filesystem"`

	// Users selects the user store
	Users UsersConfig `mapstructure:"users" yaml:"users"`

	// Messages configures reply templates
	Messages message.Config `mapstructure:"messages" yaml:"messages"`

	// Commands tunes the command table
	Commands CommandsConfig `mapstructure:"commands" yaml:"commands"`

	// Adapters contains the FTP listeners
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Connection holds the login limits shared by every listener
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`

	// Hooks enables the built-in ftplets
	Hooks HooksConfig `mapstructure:"hooks" yaml:"hooks"`
}

// MetricsConfig controls the operator HTTP endpoint (/metrics, /status, /healthz).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address" validate:"omitempty,ip"`
	Port    int    `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// ConnectionConfig limits logins across all listeners.
type ConnectionConfig struct {
	// MaxLogins caps concurrent authenticated sessions (0 = unlimited)
	MaxLogins int `mapstructure:"max_logins" yaml:"max_logins" validate:"min=0"`

	AnonymousLoginEnabled bool `mapstructure:"anonymous_login_enabled" yaml:"anonymous_login_enabled"`

	// MaxAnonymousLogins caps concurrent anonymous sessions (0 = unlimited)
	MaxAnonymousLogins int `mapstructure:"max_anonymous_logins" yaml:"max_anonymous_logins" validate:"min=0"`

	// MaxLoginFailures closes the control connection after that many
	// failed PASS commands (0 = unlimited)
	MaxLoginFailures int `mapstructure:"max_login_failures" yaml:"max_login_failures" validate:"min=0"`

	// LoginFailureDelay is slept before answering a failed PASS
	LoginFailureDelay time.Duration `mapstructure:"login_failure_delay" yaml:"login_failure_delay" validate:"min=0"`
}

// HooksConfig enables the built-in ftplets. They run in the order audit,
// max_sessions_per_ip, deny_extensions.
type HooksConfig struct {
	// Audit logs every session and command event at INFO level
	Audit bool `mapstructure:"audit" yaml:"audit"`

	// DenyExtensions rejects uploads whose name ends with one of these
	DenyExtensions []string `mapstructure:"deny_extensions" yaml:"deny_extensions"`

	// MaxSessionsPerIP disconnects clients above the limit (0 = disabled)
	MaxSessionsPerIP int `mapstructure:"max_sessions_per_ip" yaml:"max_sessions_per_ip" validate:"min=0"`
}

// FileSystemConfig specifies the file system backend.
//
// The Type field determines which backend is used.
// Only the corresponding type-specific configuration section is used.
type FileSystemConfig struct {
	// Type specifies which backend to use
	// Valid values: native, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=native memory s3"`

	// Native contains local disk options (root, case_insensitive, create_home)
	// Only used when Type = "native"
	Native map[string]any `mapstructure:"native" yaml:"native"`

	// Memory contains in-memory options (none today)
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// S3 contains bucket and client options
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// UsersConfig specifies the user store.
type UsersConfig struct {
	// Type specifies which store implementation to use
	// Valid values: memory, file, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory file badger"`

	// PasswordEncryption selects how passwords are stored
	// Valid values: clear, bcrypt
	PasswordEncryption string `mapstructure:"password_encryption" yaml:"password_encryption" validate:"required,oneof=clear bcrypt"`

	// AdminName is the account allowed to run administrative SITE commands
	AdminName string `mapstructure:"admin_name" yaml:"admin_name" validate:"required"`

	// File contains file store options (path)
	// Only used when Type = "file"
	File map[string]any `mapstructure:"file" yaml:"file"`

	// Badger contains BadgerDB options (db_path)
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// Seed lists accounts created at startup when missing. Existing
	// accounts are left untouched.
	Seed []usermanager.User `mapstructure:"seed" yaml:"seed" validate:"dive"`
}

// CommandsConfig tunes the command table.
type CommandsConfig struct {
	// Disabled lists verbs removed from the table. Clients get 502.
	Disabled []string `mapstructure:"disabled" yaml:"disabled"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// FTP lists the listeners. Each one gets its own port, TLS settings
	// and passive port pool while sharing users and storage.
	FTP []ftpadapter.FTPConfig `mapstructure:"ftp" yaml:"ftp" validate:"dive"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOFTP_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOFTP_ prefix and underscores
	// Example: DITTOFTP_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOFTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittoftp/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoftp")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittoftp")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
