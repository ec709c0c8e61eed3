package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inspectsync/internal/models"
)

func TestPrepareCreatesSchemaOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.sqlite")

	db, err := Prepare(Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, Ping(db))
	for _, model := range Schema() {
		require.True(t, db.Migrator().HasTable(model))
	}
	require.True(t, db.Migrator().HasTable(&models.PendingIntent{}))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestNilHandle(t *testing.T) {
	require.ErrorIs(t, Ping(nil), errNilHandle)
	require.ErrorIs(t, AutoMigrate(nil), errNilHandle)
	require.NoError(t, Close(nil))
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	db, err := Open(Config{DSN: "file:default_driver?mode=memory&cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.Equal(t, "sqlite", db.Dialector.Name())
	require.NoError(t, Ping(db))
}
