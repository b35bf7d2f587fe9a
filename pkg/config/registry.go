package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/command"
	"github.com/marmos91/dittoftp/pkg/ftplet"
	"github.com/marmos91/dittoftp/pkg/message"
	"github.com/marmos91/dittoftp/pkg/usermanager"
)

// Components is everything InitializeServerContext built. Close releases
// what needs releasing (the user store).
type Components struct {
	ServerContext *ftp.ServerContext
	Users         *usermanager.Manager
	Commands      *command.Table
}

// Close closes the user store.
func (c *Components) Close() error {
	if c.Users == nil {
		return nil
	}
	return c.Users.Close()
}

// InitializeServerContext creates the shared server state from configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates the file system backend from cfg.FileSystem
//  2. Creates the user manager and seed accounts from cfg.Users
//  3. Loads reply templates from cfg.Messages
//  4. Builds the hook chain from cfg.Server.Hooks
//  5. Builds the command table from cfg.Commands
//
// The returned context is ready to be passed to server.New. Metrics may be
// nil; listeners fill in the no-op implementation.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	comp, err := config.InitializeServerContext(ctx, cfg, metricsResult)
//	if err != nil {
//	    log.Fatalf("Failed to initialize server: %v", err)
//	}
//	defer comp.Close()
func InitializeServerContext(ctx context.Context, cfg *Config, m *MetricsResult) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if m == nil {
		m = &MetricsResult{}
	}

	logger.Debug("Initializing server context from configuration")

	fs, err := CreateFileSystem(ctx, &cfg.FileSystem, m.S3Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem: %w", err)
	}

	users, err := CreateUserManager(ctx, &cfg.Users)
	if err != nil {
		return nil, fmt.Errorf("failed to create user manager: %w", err)
	}

	messages, err := message.New(cfg.Messages)
	if err != nil {
		_ = users.Close()
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	logger.Debug("Loaded reply messages for languages %v", messages.Languages())

	table := CreateCommandTable(&cfg.Commands)

	sc := &ftp.ServerContext{
		Users:           users,
		FileSystem:      fs,
		Messages:        messages,
		Hooks:           CreateHooks(&cfg.Server.Hooks),
		Stats:           ftp.NewStats(),
		Metrics:         m.FTPMetrics,
		Commands:        table,
		DefaultLanguage: messages.Default(),
		Connection: ftp.ConnectionConfig{
			MaxLogins:             cfg.Server.Connection.MaxLogins,
			AnonymousLoginEnabled: cfg.Server.Connection.AnonymousLoginEnabled,
			MaxAnonymousLogins:    cfg.Server.Connection.MaxAnonymousLogins,
			MaxLoginFailures:      cfg.Server.Connection.MaxLoginFailures,
			LoginFailureDelay:     cfg.Server.Connection.LoginFailureDelay,
		},
	}

	logger.Info("Server context ready: filesystem=%s, users=%s, commands=%d, hooks=%d",
		fs.Name(), cfg.Users.Type, len(table.Verbs()), sc.Hooks.Len())

	return &Components{ServerContext: sc, Users: users, Commands: table}, nil
}

// CreateHooks builds the ftplet chain. Hooks run in the order audit,
// max sessions per IP, deny extensions.
func CreateHooks(cfg *HooksConfig) *ftp.HookChain {
	chain := ftp.NewHookChain()

	if cfg.Audit {
		chain.Add(ftplet.AuditHook{})
	}
	if cfg.MaxSessionsPerIP > 0 {
		chain.Add(&ftplet.MaxSessionsPerIPHook{Max: cfg.MaxSessionsPerIP})
	}
	if len(cfg.DenyExtensions) > 0 {
		chain.Add(ftplet.NewDenyExtensionsHook(cfg.DenyExtensions...))
	}

	return chain
}

// CreateCommandTable builds the default command table minus the disabled
// verbs.
func CreateCommandTable(cfg *CommandsConfig) *command.Table {
	b := command.NewBuilder()
	if len(cfg.Disabled) > 0 {
		b.Disable(cfg.Disabled...)
		logger.Info("Disabled FTP commands: %v", cfg.Disabled)
	}
	return b.Build()
}
