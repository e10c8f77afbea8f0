// Package postgres implements storage.Store on PostgreSQL through the GORM backend.
// Reads inside a transaction take row locks.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rescuenet/dispatch/internal/database"
	gormstorage "github.com/rescuenet/dispatch/internal/storage/gorm"

	"gorm.io/gorm"
)

// Config holds configuration for the Postgres storage backend.
type Config struct {
	// AllowLocalFallback lets the database manager fall back to SQLite when Postgres is unreachable.
	AllowLocalFallback bool
}

// Backend wraps the GORM backend for Postgres.
type Backend struct {
	*gormstorage.Backend
	cfg     Config
	manager *database.Manager
	log     *slog.Logger
}

// New creates a new Postgres storage backend. The connection is opened by Init.
func New(cfg Config, manager *database.Manager, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:     cfg,
		manager: manager,
		log:     logger,
	}
}

// Init connects, then migrates the schema.
func (b *Backend) Init(ctx context.Context) error {
	db, local, err := b.connect()
	if err != nil {
		return err
	}
	if local {
		b.log.Warn("Postgres unreachable, storing in local SQLite instead")
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:       db,
		Logger:   b.log,
		LockRows: !local,
	})
	return b.Backend.Init(ctx)
}

func (b *Backend) connect() (*gorm.DB, bool, error) {
	if b.cfg.AllowLocalFallback && b.manager != nil {
		if err := b.manager.Connect(); err != nil {
			return nil, false, err
		}
		return b.manager.DB, b.manager.ShouldSaveLocal, nil
	}

	db, err := database.GetPostgresDBStandalone()
	if err != nil {
		return nil, false, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, false, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, false, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	return db, false, nil
}

// Close closes the connection if Init succeeded.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
