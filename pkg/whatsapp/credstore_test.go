package whatsapp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentialStoreDefaultsToSQLite(t *testing.T) {
	t.Setenv("WHATSAPP_DATASTORE_TYPE", "")
	t.Setenv("WHATSAPP_DATASTORE_URI", "")

	s := NewCredentialStore("/var/lib/bridge/auth")

	assert.Equal(t, "sqlite3", s.driver)
	assert.Equal(t, "file:"+filepath.Join("/var/lib/bridge/auth", "credentials.db")+"?_foreign_keys=on", s.dsn)
}

func TestNewCredentialStoreExternalDatastore(t *testing.T) {
	t.Setenv("WHATSAPP_DATASTORE_TYPE", "postgresql")
	t.Setenv("WHATSAPP_DATASTORE_URI", "postgres://wa:wa@localhost:5432/wa")

	s := NewCredentialStore(t.TempDir())

	assert.Equal(t, "pgx", s.driver)
	assert.Contains(t, s.dsn, "prefer_simple_protocol=true")
	assert.Contains(t, s.dsn, "statement_cache_capacity=0")
	assert.Contains(t, s.dsn, "default_query_exec_mode=simple_protocol")
}

func TestNormalizeDatastoreDriver(t *testing.T) {
	assert.Equal(t, "pgx", normalizeDatastoreDriver("postgres"))
	assert.Equal(t, "pgx", normalizeDatastoreDriver("PostgreSQL"))
	assert.Equal(t, "pgx", normalizeDatastoreDriver("pgx"))
	assert.Equal(t, "sqlite3", normalizeDatastoreDriver("sqlite"))
	assert.Equal(t, "sqlite3", normalizeDatastoreDriver("SQLite3"))
}

func TestNormalizeDatastoreDSN(t *testing.T) {
	t.Run("non-pgx untouched", func(t *testing.T) {
		dsn := "file:auth/credentials.db?_foreign_keys=on"
		assert.Equal(t, dsn, normalizeDatastoreDSN("sqlite3", dsn))
	})

	t.Run("bare dsn gains query string", func(t *testing.T) {
		got := normalizeDatastoreDSN("pgx", "postgres://wa:wa@localhost/wa")
		assert.Equal(t,
			"postgres://wa:wa@localhost/wa?prefer_simple_protocol=true&statement_cache_capacity=0&default_query_exec_mode=simple_protocol",
			got)
	})

	t.Run("existing params preserved", func(t *testing.T) {
		got := normalizeDatastoreDSN("pgx", "postgres://localhost/wa?sslmode=disable")
		assert.Contains(t, got, "sslmode=disable")
		assert.Contains(t, got, "&prefer_simple_protocol=true")
	})

	t.Run("idempotent", func(t *testing.T) {
		once := normalizeDatastoreDSN("pgx", "postgres://localhost/wa")
		assert.Equal(t, once, normalizeDatastoreDSN("pgx", once))
	})
}

func TestWipeRemovesAuthDirectory(t *testing.T) {
	t.Setenv("WHATSAPP_DATASTORE_TYPE", "")
	t.Setenv("WHATSAPP_DATASTORE_URI", "")

	authDir := filepath.Join(t.TempDir(), "auth")
	require.NoError(t, os.MkdirAll(authDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(authDir, "credentials.db"), []byte("x"), 0o600))

	s := NewCredentialStore(authDir)
	require.NoError(t, s.Wipe(context.Background()))

	_, err := os.Stat(authDir)
	assert.True(t, os.IsNotExist(err))
}
