package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/clinicsync/internal/entities"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewQuietDatabase(filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDatabase_MigratesReplicaTables(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{
		"clients", "providers", "appointments", "appointment_services",
		"product_sales", "sync_logs", "client_visit_summaries", "client_tox_summaries",
	} {
		assert.True(t, db.DB.Migrator().HasTable(table), "missing table %s", table)
	}
	assert.NoError(t, db.Ping())
}

func TestDatabase_Counts(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.DB.Create(&entities.Client{ExternalID: "c-1"}).Error)
	require.NoError(t, db.DB.Create(&entities.Client{ExternalID: "c-2"}).Error)

	counts, err := db.Counts()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["clients"])
	assert.Equal(t, int64(0), counts["appointments"])
}

func TestDatabase_ClientExternalIDIsUnique(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.DB.Create(&entities.Client{ExternalID: "dup"}).Error)
	assert.Error(t, db.DB.Create(&entities.Client{ExternalID: "dup"}).Error)
}
