package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rescuenet/dispatch/internal/database"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Compile-time interface check
var _ storage.Store = (*Backend)(nil)

func newTestBackend(t *testing.T) storage.Store {
	t.Helper()
	db, err := database.GetSqliteDBStandalone(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	b := New(Dependencies{DB: db})
	require.NoError(t, b.Init(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestStoreBehavior(t *testing.T) {
	storagetest.Run(t, newTestBackend)
}

func TestKindAndPing(t *testing.T) {
	b := newTestBackend(t)
	assert.Equal(t, "sqlite", b.Kind())
	assert.NoError(t, b.Ping(context.Background()))
}

func TestInitWithoutDB(t *testing.T) {
	b := New(Dependencies{})
	assert.Error(t, b.Init(context.Background()))
}

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm translated", gorm.ErrDuplicatedKey, true},
		{"wrapped gorm", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"postgres unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"postgres other", &pgconn.PgError{Code: "23503"}, false},
		{"sqlite message", errors.New("constraint failed: UNIQUE constraint failed: rescue_points.fingerprint (2067)"), true},
		{"unrelated", errors.New("disk I/O error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDuplicate(tt.err))
		})
	}
}
