// Package sqlite implements the durable local store over an embedded SQLite
// database. Reads are served from a hydrated in-memory mirror; writes land in
// SQLite before they become visible, so state survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"auditcore/internal/infra/persistence/memory"
	"auditcore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertions.
var (
	_ domain.LocalStore  = (*Store)(nil)
	_ domain.BatchWriter = (*Store)(nil)
)

// Store persists records one row per (collection, id) and mirrors them in
// memory for reads.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and hydrates the mirror.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "auditcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	)`); err != nil {
		return nil, fmt.Errorf("create records table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT collection, id, payload FROM records`)
	if err != nil {
		return fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	for rows.Next() {
		var collection, id string
		var payload []byte
		if err := rows.Scan(&collection, &id, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		coll := domain.Collection(collection)
		if snapshot[coll] == nil {
			snapshot[coll] = make(map[string]json.RawMessage)
		}
		snapshot[coll][id] = append(json.RawMessage(nil), payload...)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// classifyWriteErr maps quota and disk exhaustion onto the domain error so
// callers can tell the user "cannot save locally".
func classifyWriteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "no space left") {
		return fmt.Errorf("%w: %v", domain.ErrStorageFull, err)
	}
	return err
}

// Put upserts the record durably, then updates the mirror.
func (s *Store) Put(ctx context.Context, collection domain.Collection, id string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records(collection,id,payload) VALUES(?,?,?)
		 ON CONFLICT(collection,id) DO UPDATE SET payload=excluded.payload`,
		string(collection), id, []byte(value))
	if err != nil {
		return classifyWriteErr(fmt.Errorf("upsert %s %s: %w", collection, id, err))
	}
	return s.Store.Put(ctx, collection, id, value)
}

// PutAll applies the batch inside one SQLite transaction; the mirror is only
// updated after commit, so no partial aggregate is ever visible.
func (s *Store) PutAll(ctx context.Context, records []domain.CachedRecord) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyWriteErr(err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records(collection,id,payload) VALUES(?,?,?)
			 ON CONFLICT(collection,id) DO UPDATE SET payload=excluded.payload`,
			string(rec.Collection), rec.ID, []byte(rec.Value)); err != nil {
			retErr = classifyWriteErr(fmt.Errorf("upsert %s %s: %w", rec.Collection, rec.ID, err))
			return retErr
		}
	}
	if err := tx.Commit(); err != nil {
		retErr = classifyWriteErr(err)
		return retErr
	}
	return s.Store.PutAll(ctx, records)
}

// Delete removes the record durably, then from the mirror.
func (s *Store) Delete(ctx context.Context, collection domain.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection=? AND id=?`, string(collection), id); err != nil {
		return fmt.Errorf("delete %s %s: %w", collection, id, err)
	}
	return s.Store.Delete(ctx, collection, id)
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
