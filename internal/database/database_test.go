package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"katalog/internal/models"
)

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "whatever", true)
	assert.Error(t, err)
}

func TestOpenAndMigrate_SQLite(t *testing.T) {
	db, err := Open(DriverSQLite, "file:database_test?mode=memory&cache=shared", true)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	assert.True(t, db.Migrator().HasTable(&models.Product{}))
	assert.True(t, db.Migrator().HasIndex(&models.Product{}, "SKU"))
}
