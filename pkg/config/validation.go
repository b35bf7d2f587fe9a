package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	ftpadapter "github.com/marmos91/dittoftp/pkg/adapter/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/command"
)

var validate = validator.New()

// Validate checks struct tags first, then the cross-field rules tags cannot
// express (listener collisions, metrics port, command names, seed users).
// Log level case is normalized later by ApplyDefaults.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if err := validateListeners(cfg.Adapters.FTP); err != nil {
		return err
	}

	if cfg.Server.Metrics.Enabled {
		for i, l := range cfg.Adapters.FTP {
			if l.Enabled && l.Port == cfg.Server.Metrics.Port {
				return fmt.Errorf("adapters.ftp[%d]: port %d is used by the metrics server", i, l.Port)
			}
		}
	}

	// Disabling a verb the table does not know is almost always a typo
	defaults := command.Defaults()
	for i, verb := range cfg.Commands.Disabled {
		if _, ok := defaults[strings.ToUpper(strings.TrimSpace(verb))]; !ok {
			return fmt.Errorf("commands.disabled[%d]: unknown command %q", i, verb)
		}
	}

	names := make(map[string]bool)
	for i, u := range cfg.Users.Seed {
		if u.Name == "" {
			return fmt.Errorf("users.seed[%d]: name is required", i)
		}
		if names[u.Name] {
			return fmt.Errorf("users.seed[%d]: duplicate user %q", i, u.Name)
		}
		names[u.Name] = true
	}

	return nil
}

// validateListeners checks that at least one listener is enabled and that
// enabled listeners do not collide on name or port.
func validateListeners(listeners []ftpadapter.FTPConfig) error {
	enabled := 0
	names := make(map[string]bool)
	ports := make(map[int]string)

	for i := range listeners {
		l := &listeners[i]

		if names[l.Name] {
			return fmt.Errorf("adapters.ftp[%d]: duplicate listener name %q", i, l.Name)
		}
		names[l.Name] = true

		if !l.Enabled {
			continue
		}
		enabled++

		// OS-assigned ports cannot collide
		if !(l.Ephemeral && l.Port == 0) {
			if other, ok := ports[l.Port]; ok {
				return fmt.Errorf("adapters.ftp[%d]: port %d already used by listener %q", i, l.Port, other)
			}
			ports[l.Port] = l.Name
		}

		if err := l.Validate(); err != nil {
			return fmt.Errorf("adapters.ftp[%d]: %w", i, err)
		}
	}

	if enabled == 0 {
		return fmt.Errorf("adapters: at least one ftp listener must be enabled")
	}

	return nil
}

// formatValidationError reports every failed field, one per line.
func formatValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	var result *multierror.Error
	for _, e := range fieldErrs {
		result = multierror.Append(result, fmt.Errorf("%s: failed %q check (value: %v)", e.Namespace(), e.Tag(), e.Value()))
	}
	result.ErrorFormat = func(errs []error) string {
		lines := make([]string, len(errs))
		for i, e := range errs {
			lines[i] = e.Error()
		}
		return "invalid configuration:\n  " + strings.Join(lines, "\n  ")
	}
	return result
}
