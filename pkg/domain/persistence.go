package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// CachedRecord is an opaque value keyed by (collection, id) in the local
// store. Last write wins; a reader never observes a partial write.
type CachedRecord struct {
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	Value      json.RawMessage `json:"value"`
}

// LocalStore is the minimal abstraction over durable local persistence. A
// missing key is a valid absent result, never an error; callers must not
// assume a Put succeeded (quota exhaustion surfaces as ErrStorageFull).
type LocalStore interface {
	// Get returns the record for id, or ok=false when absent.
	Get(ctx context.Context, collection Collection, id string) (CachedRecord, bool, error)
	// GetAll returns every record of a collection.
	GetAll(ctx context.Context, collection Collection) ([]CachedRecord, error)
	// Put upserts the record under (collection, id).
	Put(ctx context.Context, collection Collection, id string, value json.RawMessage) error
	// Delete removes the record; deleting an absent key is a no-op.
	Delete(ctx context.Context, collection Collection, id string) error
	// Query returns the records matching the predicate.
	Query(ctx context.Context, collection Collection, predicate func(CachedRecord) bool) ([]CachedRecord, error)
}

// BatchWriter is implemented by stores that can apply several puts
// atomically. The offline entity factory relies on it so a partially written
// aggregate is never visible.
type BatchWriter interface {
	PutAll(ctx context.Context, records []CachedRecord) error
}

// PutAllRecords applies the batch atomically when the store supports it and
// falls back to sequential puts otherwise.
func PutAllRecords(ctx context.Context, store LocalStore, records []CachedRecord) error {
	if bw, ok := store.(BatchWriter); ok {
		return bw.PutAll(ctx, records)
	}
	for _, rec := range records {
		if err := store.Put(ctx, rec.Collection, rec.ID, rec.Value); err != nil {
			return err
		}
	}
	return nil
}

// GetRecord decodes the record for id into T, reporting ok=false when absent.
func GetRecord[T any](ctx context.Context, store LocalStore, collection Collection, id string) (T, bool, error) {
	var out T
	rec, ok, err := store.Get(ctx, collection, id)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(rec.Value, &out); err != nil {
		return out, false, fmt.Errorf("decode %s %s: %w", collection, id, err)
	}
	return out, true, nil
}

// GetAllRecords decodes every record of a collection into T.
func GetAllRecords[T any](ctx context.Context, store LocalStore, collection Collection) ([]T, error) {
	recs, err := store.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", collection, rec.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// PutRecord encodes value and upserts it under (collection, id).
func PutRecord[T any](ctx context.Context, store LocalStore, collection Collection, id string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", collection, id, err)
	}
	return store.Put(ctx, collection, id, raw)
}
