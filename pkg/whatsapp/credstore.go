package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/wabridge/wabridge/pkg/env"
	"github.com/wabridge/wabridge/pkg/log"
)

// CredentialStore owns the durable authentication state rooted at
// authDir. The format inside is whatsmeow's; this package only decides
// where it lives and when it is wiped. Credentials mutate exclusively
// through whatsmeow's own persistence, never through this type.
type CredentialStore struct {
	authDir string
	driver  string
	dsn     string

	mu        sync.Mutex
	container *sqlstore.Container
	device    *store.Device
}

// NewCredentialStore builds a store rooted at authDir. The default
// datastore is a SQLite file inside authDir; WHATSAPP_DATASTORE_TYPE and
// WHATSAPP_DATASTORE_URI select an external PostgreSQL datastore instead.
func NewCredentialStore(authDir string) *CredentialStore {
	s := &CredentialStore{authDir: authDir}

	driver, errType := env.GetEnvString("WHATSAPP_DATASTORE_TYPE")
	dsn, errURI := env.GetEnvString("WHATSAPP_DATASTORE_URI")
	if errType == nil && errURI == nil {
		s.driver = normalizeDatastoreDriver(driver)
		s.dsn = normalizeDatastoreDSN(s.driver, dsn)
	} else {
		s.driver = "sqlite3"
		s.dsn = sqliteDSN(authDir)
	}
	return s
}

func sqliteDSN(authDir string) string {
	return "file:" + filepath.Join(authDir, "credentials.db") + "?_foreign_keys=on"
}

func normalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "postgresql", "postgres", "pgx":
		return "pgx"
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return strings.ToLower(driver)
	}
}

// normalizeDatastoreDSN forces the simple protocol on pgx connections;
// whatsmeow's statement usage breaks behind transaction-pooling proxies
// otherwise.
func normalizeDatastoreDSN(driver string, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "prefer_simple_protocol", "true")
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}

// Open opens (or reopens) the datastore and returns the device record.
// A fresh auth directory yields a new, unpaired device.
func (s *CredentialStore) Open(ctx context.Context) (*store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.authDir, 0o700); err != nil {
		return nil, fmt.Errorf("create auth directory: %w", err)
	}

	if s.container == nil {
		container, err := sqlstore.New(ctx, s.driver, s.dsn, nil)
		if err != nil {
			return nil, fmt.Errorf("open datastore: %w", err)
		}
		s.container = container
	}

	device, err := s.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	s.device = device
	return device, nil
}

// Close releases the datastore handle. Safe to call repeatedly.
func (s *CredentialStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.container != nil {
		s.container.Close()
		s.container = nil
	}
	s.device = nil
}

// Wipe deletes the device record and removes the auth directory so the
// next Open starts a fresh pairing flow. Called only when the remote
// side invalidated the session.
func (s *CredentialStore) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		if err := s.device.Delete(ctx); err != nil {
			log.Bridge("credstore").WithError(err).Warn("Failed to delete device record")
		}
		s.device = nil
	}
	if s.container != nil {
		s.container.Close()
		s.container = nil
	}
	if err := os.RemoveAll(s.authDir); err != nil {
		return fmt.Errorf("remove auth directory: %w", err)
	}
	return nil
}
