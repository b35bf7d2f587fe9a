package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittoftp/internal/logger"
	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoFTP Configuration File
#
# Every key can be overridden with an environment variable using the
# DITTOFTP_ prefix, e.g. DITTOFTP_LOGGING_LEVEL=DEBUG.
#
`

// sectionComments documents the top-level sections of generated files.
var sectionComments = map[string]string{
	"logging":    "Log output. level: DEBUG, INFO, WARN, ERROR; format: text, json; output: stdout, stderr or a file path.",
	"server":     "Server-wide settings shared by every listener: shutdown, Prometheus metrics,\nlogin limits and built-in hooks.",
	"filesystem": "Storage backend of user home directories.\ntype: native (local directory), memory (volatile) or s3. Only the matching section is used.",
	"users":      "User accounts. type: memory, file or badger.\nSeed users are created at startup when missing; existing accounts are never overwritten.",
	"messages":   "Reply templates. directory may hold messages.yaml and messages_<lang>.yaml overrides.",
	"commands":   "Verbs listed under disabled are answered with 502.",
	"adapters":   "FTP listeners. Each one has its own port, TLS settings and passive port range.",
}

// ApplyLogging configures the global logger from cfg.
func ApplyLogging(cfg *LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("failed to set log output: %w", err)
	}
	return nil
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. Fails if the file already exists
// unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	// Seed passwords live in this file
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above each top-level section.
func generateYAMLWithComments(cfg *Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	// doc is a mapping node: keys and values alternate
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return buf.Bytes(), nil
}
