// Package postgres implements the remote backend on a Postgres database
// reached through the pgx database/sql driver. Records are JSONB rows keyed
// by (collection, id); upserts keep the client-supplied identifier as the
// permanent key, which is what makes queued replay idempotent.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"auditcore/pkg/domain"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/auditcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Backend serves every collection from a single records table.
type Backend struct {
	db *sql.DB
}

// NewBackend opens a Postgres-backed remote backend using the provided DSN
// (falls back to defaultDSN) and ensures the records table exists.
func NewBackend(dsn string) (*Backend, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, domain.TransientRemote("ping", err)
	}
	ddl := `CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure records table: %w", err)
	}
	return &Backend{db: db}, nil
}

// OpenFromEnv constructs a backend from AUDITCORE_REMOTE_DSN.
func OpenFromEnv() (*Backend, error) {
	return NewBackend(os.Getenv("AUDITCORE_REMOTE_DSN"))
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (b *Backend) DB() *sql.DB { return b.db }

// Close releases the connection pool.
func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) FetchOne(ctx context.Context, collection domain.Collection, id string) (json.RawMessage, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE collection=$1 AND id=$2`,
		string(collection), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.RemoteNotFound("fetch_one", collection, id)
	}
	if err != nil {
		return nil, domain.TransientRemote("fetch_one", err)
	}
	return payload, nil
}

func (b *Backend) FetchMany(ctx context.Context, collection domain.Collection, filter map[string]string) ([]json.RawMessage, error) {
	query := `SELECT payload FROM records WHERE collection=$1`
	args := []any{string(collection)}
	if len(filter) > 0 {
		// Field equality via JSONB containment, served by a GIN index when
		// the deployment adds one.
		match, err := json.Marshal(filter)
		if err != nil {
			return nil, err
		}
		query += ` AND payload @> $2::jsonb`
		args = append(args, string(match))
	}
	query += ` ORDER BY id`
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.TransientRemote("fetch_many", err)
	}
	defer func() { _ = rows.Close() }()
	var out []json.RawMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, domain.TransientRemote("fetch_many", err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.TransientRemote("fetch_many", err)
	}
	return out, nil
}

// Insert stores a new record under a server-issued identifier. The audits
// collection accepts a whole aggregate and stores the audit and its items in
// one transaction, so no partially created aggregate is ever observable.
func (b *Backend) Insert(ctx context.Context, collection domain.Collection, record json.RawMessage) (json.RawMessage, error) {
	if collection == domain.CollectionAudits {
		return b.insertAggregate(ctx, record)
	}
	withID, id, err := assignID(record)
	if err != nil {
		return nil, err
	}
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO records(collection,id,payload) VALUES($1,$2,$3)`,
		string(collection), id, string(withID)); err != nil {
		return nil, domain.TransientRemote("insert", err)
	}
	return withID, nil
}

func (b *Backend) insertAggregate(ctx context.Context, record json.RawMessage) (json.RawMessage, error) {
	var ag domain.AuditAggregate
	if err := json.Unmarshal(record, &ag); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	if ag.Audit.ID == "" {
		ag.Audit.ID = uuid.NewString()
	}
	for i := range ag.Items {
		if ag.Items[i].ID == "" {
			ag.Items[i].ID = uuid.NewString()
		}
		ag.Items[i].AuditID = ag.Audit.ID
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.TransientRemote("insert_aggregate", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	auditRaw, err := json.Marshal(ag.Audit)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records(collection,id,payload) VALUES($1,$2,$3)`,
		string(domain.CollectionAudits), ag.Audit.ID, string(auditRaw)); err != nil {
		return nil, domain.TransientRemote("insert_aggregate", err)
	}
	for _, item := range ag.Items {
		itemRaw, merr := json.Marshal(item)
		if merr != nil {
			return nil, merr
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records(collection,id,payload) VALUES($1,$2,$3)`,
			string(domain.CollectionAuditItems), item.ID, string(itemRaw)); err != nil {
			return nil, domain.TransientRemote("insert_aggregate", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.TransientRemote("insert_aggregate", err)
	}
	committed = true
	return json.Marshal(ag)
}

func (b *Backend) Update(ctx context.Context, collection domain.Collection, id string, patch json.RawMessage) (json.RawMessage, error) {
	res, err := b.db.ExecContext(ctx,
		`UPDATE records SET payload=$3, updated_at=now() WHERE collection=$1 AND id=$2`,
		string(collection), id, string(patch))
	if err != nil {
		return nil, domain.TransientRemote("update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, domain.TransientRemote("update", err)
	}
	if affected == 0 {
		return nil, domain.RemoteNotFound("update", collection, id)
	}
	return patch, nil
}

func (b *Backend) Upsert(ctx context.Context, collection domain.Collection, id string, record json.RawMessage) (json.RawMessage, error) {
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO records(collection,id,payload) VALUES($1,$2,$3)
		 ON CONFLICT (collection,id) DO UPDATE SET payload=EXCLUDED.payload, updated_at=now()`,
		string(collection), id, string(record)); err != nil {
		return nil, domain.TransientRemote("upsert", err)
	}
	return record, nil
}

// assignID sets a fresh server identifier on the record's id field unless the
// caller already supplied one.
func assignID(record json.RawMessage) (json.RawMessage, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil, "", fmt.Errorf("decode record: %w", err)
	}
	var id string
	if raw, ok := fields["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	if id == "" {
		id = uuid.NewString()
		idRaw, err := json.Marshal(id)
		if err != nil {
			return nil, "", err
		}
		fields["id"] = idRaw
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, "", err
	}
	return out, id, nil
}

// OverrideSQLOpen swaps the sql.Open function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
