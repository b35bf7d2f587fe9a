package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/usermanager"
	"github.com/marmos91/dittoftp/pkg/usermanager/badger"
	"github.com/marmos91/dittoftp/pkg/usermanager/file"
	"github.com/marmos91/dittoftp/pkg/usermanager/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateUserManager creates the user manager and its store, then creates
// the seed accounts that do not exist yet.
//
// Supported types:
//   - "memory": volatile store, seed accounts only
//   - "file": YAML file rewritten on every change
//   - "badger": BadgerDB directory
//
// The caller owns the returned manager and must Close it.
func CreateUserManager(ctx context.Context, cfg *UsersConfig) (*usermanager.Manager, error) {
	enc, err := usermanager.NewEncryptor(cfg.PasswordEncryption)
	if err != nil {
		return nil, err
	}

	store, err := createUserStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := usermanager.New(store, usermanager.Config{
		AdminName: cfg.AdminName,
		Encryptor: enc,
	})

	if err := seedUsers(ctx, m, cfg.Seed); err != nil {
		_ = m.Close()
		return nil, err
	}

	return m, nil
}

// createUserStore creates the store selected by cfg.Type.
func createUserStore(ctx context.Context, cfg *UsersConfig) (usermanager.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil

	case "file":
		type FileStoreConfig struct {
			Path string `mapstructure:"path"`
		}
		var storeCfg FileStoreConfig
		if err := mapstructure.Decode(cfg.File, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode file user store config: %w", err)
		}
		if storeCfg.Path == "" {
			return nil, fmt.Errorf("file user store: path is required")
		}
		store, err := file.New(storeCfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create file user store: %w", err)
		}
		logger.Info("File user store initialized: path=%s", storeCfg.Path)
		return store, nil

	case "badger":
		type BadgerStoreConfig struct {
			DBPath string `mapstructure:"db_path"`
		}
		var storeCfg BadgerStoreConfig
		if err := mapstructure.Decode(cfg.Badger, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger user store config: %w", err)
		}
		if storeCfg.DBPath == "" {
			return nil, fmt.Errorf("badger user store: db_path is required")
		}
		store, err := badger.New(ctx, badger.Config{DBPath: storeCfg.DBPath})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger user store: %w", err)
		}
		logger.Info("BadgerDB user store initialized: path=%s", storeCfg.DBPath)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown user store type: %q", cfg.Type)
	}
}

// seedUsers saves every seed account missing from the store.
func seedUsers(ctx context.Context, m *usermanager.Manager, seed []usermanager.User) error {
	for i := range seed {
		u := seed[i]

		exists, err := m.DoesExist(ctx, u.Name)
		if err != nil {
			return fmt.Errorf("failed to look up seed user %q: %w", u.Name, err)
		}
		if exists {
			logger.Debug("Seed user %q already exists, skipping", u.Name)
			continue
		}

		if err := m.Save(ctx, &u); err != nil {
			return fmt.Errorf("failed to create seed user %q: %w", u.Name, err)
		}
		logger.Info("Created user %q (home=%s, write=%v)", u.Name, u.HomeDir, u.WritePermission)
	}
	return nil
}
