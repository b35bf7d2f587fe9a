package config

import (
	"strings"
	"testing"

	ftpadapter "github.com/marmos91/dittoftp/pkg/adapter/ftp"
	"github.com/marmos91/dittoftp/pkg/usermanager"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_LogLevelCaseInsensitive(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "ERROR"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Expected level %q to be valid, got: %v", level, err)
		}
	}
}

func TestValidate_InvalidBackendTypes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"filesystem", func(c *Config) { c.FileSystem.Type = "nfs" }},
		{"users", func(c *Config) { c.Users.Type = "ldap" }},
		{"password encryption", func(c *Config) { c.Users.PasswordEncryption = "md5" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			if err := Validate(cfg); err == nil {
				t.Fatal("Expected validation error")
			}
		})
	}
}

func TestValidate_InvalidShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ShutdownTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for zero shutdown timeout")
	}
	if !strings.Contains(err.Error(), "ShutdownTimeout") {
		t.Errorf("Expected error to name the field, got: %v", err)
	}
}

func TestValidate_NoListenersEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.FTP[0].Enabled = false

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when no listener is enabled")
	}
	if !strings.Contains(err.Error(), "at least one") {
		t.Errorf("Expected 'at least one' error, got: %v", err)
	}
}

func TestValidate_DuplicateListeners(t *testing.T) {
	t.Run("port", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Adapters.FTP = append(cfg.Adapters.FTP, ftpadapter.FTPConfig{
			Name:    "second",
			Enabled: true,
			Port:    cfg.Adapters.FTP[0].Port,
		})

		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), "already used") {
			t.Errorf("Expected duplicate port error, got: %v", err)
		}
	})

	t.Run("disabled listener may share port", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Adapters.FTP = append(cfg.Adapters.FTP, ftpadapter.FTPConfig{
			Name: "spare",
			Port: cfg.Adapters.FTP[0].Port,
		})

		if err := Validate(cfg); err != nil {
			t.Errorf("Expected disabled listener to be ignored, got: %v", err)
		}
	})

	t.Run("name", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Adapters.FTP = append(cfg.Adapters.FTP, ftpadapter.FTPConfig{
			Name:    cfg.Adapters.FTP[0].Name,
			Enabled: true,
			Port:    2222,
		})

		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), "duplicate listener name") {
			t.Errorf("Expected duplicate name error, got: %v", err)
		}
	})
}

func TestValidate_InvalidListener(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ftpadapter.FTPConfig)
	}{
		{"port", func(l *ftpadapter.FTPConfig) { l.Port = 70000 }},
		{"negative max connections", func(l *ftpadapter.FTPConfig) { l.MaxConnections = -1 }},
		{"passive range", func(l *ftpadapter.FTPConfig) { l.DataConnection.PassivePorts = "6000-5000" }},
		{"allowed clients", func(l *ftpadapter.FTPConfig) { l.AllowedClients = []string{"not-an-ip"} }},
		{"cert without key", func(l *ftpadapter.FTPConfig) { l.TLS.CertFile = "/tmp/cert.pem" }},
		{"implicit ssl without cert", func(l *ftpadapter.FTPConfig) { l.ImplicitSSL = true }},
		{"client auth", func(l *ftpadapter.FTPConfig) { l.TLS.ClientAuth = "maybe" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg.Adapters.FTP[0])

			if err := Validate(cfg); err == nil {
				t.Fatal("Expected validation error")
			}
		})
	}
}

func TestValidate_MetricsPortConflict(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Metrics.Enabled = true
	cfg.Server.Metrics.Port = cfg.Adapters.FTP[0].Port

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "metrics server") {
		t.Errorf("Expected metrics port conflict, got: %v", err)
	}
}

func TestValidate_UnknownDisabledCommand(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Commands.Disabled = []string{"site", "XYZZY"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown command")
	}
	if !strings.Contains(err.Error(), "XYZZY") {
		t.Errorf("Expected error to name the command, got: %v", err)
	}
}

func TestValidate_SeedUsers(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Users.Seed = append(cfg.Users.Seed, usermanager.User{Name: "admin"})

		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), "duplicate user") {
			t.Errorf("Expected duplicate user error, got: %v", err)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Users.Seed = append(cfg.Users.Seed, usermanager.User{HomeDir: "/"})

		if err := Validate(cfg); err == nil {
			t.Fatal("Expected error for seed user without a name")
		}
	})
}

func TestValidate_EphemeralListenersShareZeroPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.FTP = []ftpadapter.FTPConfig{
		{Name: "a", Enabled: true, Ephemeral: true},
		{Name: "b", Enabled: true, Ephemeral: true},
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected OS-assigned listeners to validate, got: %v", err)
	}
}

func TestValidate_ReportsEveryFieldError(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "LOUD"
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"invalid configuration", "Level", "Format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in error, got: %v", want, err)
		}
	}
}
