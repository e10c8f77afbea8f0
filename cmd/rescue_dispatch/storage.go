package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/database"
	"github.com/rescuenet/dispatch/internal/logging"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/internal/storage/memory"
	pgstorage "github.com/rescuenet/dispatch/internal/storage/postgres"
	sqlitestorage "github.com/rescuenet/dispatch/internal/storage/sqlite"
	"github.com/spf13/viper"
)

// Storage fallback policies for an unreachable Postgres.
const (
	FallbackNone     = "none"
	FallbackLocal    = "local"
	FallbackFixtures = "fixtures"
)

// openStore creates and initializes the configured backend. A postgres backend
// that fails to initialize is replaced by the seeded memory store when the
// fallback policy is "fixtures".
func openStore(ctx context.Context, storageCfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	backend, err := createStorageBackend(storageCfg, logger)
	if err != nil {
		logger.Error("Failed to create storage backend", "error", err)
		return nil, err
	}

	err = backend.Init(ctx)
	if err == nil {
		logger.Info("Storage ready", "kind", backend.Kind())
		return backend, nil
	}

	logger.Error("Failed to initialize storage backend", "type", storageCfg.Type, "error", err)
	if storageCfg.Type != "postgres" || storageCfg.Fallback != FallbackFixtures {
		return nil, err
	}

	fallback := memory.New(config.MemoryConfig{Fixtures: true})
	if ferr := fallback.Init(ctx); ferr != nil {
		return nil, fmt.Errorf("fixture fallback failed: %w (postgres: %v)", ferr, err)
	}
	logger.Warn("Serving fixture data, changes are not persisted", "kind", fallback.Kind(), "cause", err)
	return fallback, nil
}

func createStorageBackend(storageCfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch storageCfg.Type {
	case "postgres":
		manager := database.NewManager(logging.NewZerolog(logOutput(), viper.GetString("logLevel")))
		manager.SqliteFilePath = storageCfg.SQLite.Path
		logger.Info("Postgres storage backend selected", "fallback", storageCfg.Fallback)
		return pgstorage.New(pgstorage.Config{
			AllowLocalFallback: storageCfg.Fallback == FallbackLocal,
		}, manager, logger), nil

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         storageCfg.SQLite.Path,
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     storageCfg.SQLite.DumpPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend selected", "dumpPath", storageCfg.SQLite.DumpPath)
		return backend, nil

	default:
		logger.Info("Memory storage backend selected", "fixtures", storageCfg.Memory.Fixtures)
		return memory.New(storageCfg.Memory), nil
	}
}
