package core

import (
	"fmt"
	"os"

	"auditcore/internal/infra/backend/postgres"
	"auditcore/internal/infra/persistence/memory"
	"auditcore/internal/infra/persistence/sqlite"
	"auditcore/pkg/domain"
)

// StorageDriver identifies a concrete local store implementation.
type StorageDriver string

const (
	StorageMemory StorageDriver = "memory" // in-memory only (tests / ephemeral)
	StorageSQLite StorageDriver = "sqlite" // embedded sqlite file
)

// OpenLocalStore selects a local store using environment variables.
// Defaults to sqlite when unset.
//
//	AUDITCORE_STORAGE_DRIVER: memory|sqlite (default sqlite)
//	AUDITCORE_SQLITE_PATH: path to sqlite file (default ./auditcore.db)
func OpenLocalStore() (domain.LocalStore, error) {
	driver := os.Getenv("AUDITCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		path := os.Getenv("AUDITCORE_SQLITE_PATH")
		return sqlite.NewStore(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

var _ Backend = (*postgres.Backend)(nil)

// OpenBackend connects to the remote backend.
//
//	AUDITCORE_REMOTE_DSN: postgres DSN (default postgres://localhost/auditcore)
func OpenBackend() (Backend, error) {
	return postgres.OpenFromEnv()
}
