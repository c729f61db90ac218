// Package memory implements the local store contract in process memory.
// Intended for tests and ephemeral sessions.
package memory

import (
	"auditcore/pkg/domain"
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Compile-time contract assertions.
var (
	_ domain.LocalStore  = (*Store)(nil)
	_ domain.BatchWriter = (*Store)(nil)
)

// Store keeps collections as maps of cloned JSON values. A zero MaxRecords
// means unbounded; a positive cap makes further inserts fail with
// ErrStorageFull, mirroring quota exhaustion on real devices.
type Store struct {
	mu         sync.RWMutex
	state      map[domain.Collection]map[string]json.RawMessage
	maxRecords int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRecords caps the total number of records the store accepts.
func WithMaxRecords(n int) Option {
	return func(s *Store) { s.maxRecords = n }
}

// NewStore returns an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{state: make(map[domain.Collection]map[string]json.RawMessage)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func (s *Store) count() int {
	n := 0
	for _, coll := range s.state {
		n += len(coll)
	}
	return n
}

// Get returns the record for id, or ok=false when absent.
func (s *Store) Get(_ context.Context, collection domain.Collection, id string) (domain.CachedRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.state[collection]
	if !ok {
		return domain.CachedRecord{}, false, nil
	}
	raw, ok := coll[id]
	if !ok {
		return domain.CachedRecord{}, false, nil
	}
	return domain.CachedRecord{Collection: collection, ID: id, Value: cloneRaw(raw)}, true, nil
}

// GetAll returns every record of a collection ordered by id.
func (s *Store) GetAll(_ context.Context, collection domain.Collection) ([]domain.CachedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.state[collection]
	out := make([]domain.CachedRecord, 0, len(coll))
	for id, raw := range coll {
		out = append(out, domain.CachedRecord{Collection: collection, ID: id, Value: cloneRaw(raw)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put upserts the record under (collection, id).
func (s *Store) Put(_ context.Context, collection domain.Collection, id string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(collection, id, value)
}

func (s *Store) putLocked(collection domain.Collection, id string, value json.RawMessage) error {
	coll, ok := s.state[collection]
	if !ok {
		coll = make(map[string]json.RawMessage)
		s.state[collection] = coll
	}
	if _, exists := coll[id]; !exists && s.maxRecords > 0 && s.count() >= s.maxRecords {
		return domain.ErrStorageFull
	}
	coll[id] = cloneRaw(value)
	return nil
}

// PutAll applies the batch atomically: either every record lands or none.
func (s *Store) PutAll(_ context.Context, records []domain.CachedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxRecords > 0 {
		added := 0
		for _, rec := range records {
			if coll, ok := s.state[rec.Collection]; !ok {
				added++
			} else if _, exists := coll[rec.ID]; !exists {
				added++
			}
		}
		if s.count()+added > s.maxRecords {
			return domain.ErrStorageFull
		}
	}
	for _, rec := range records {
		if err := s.putLocked(rec.Collection, rec.ID, rec.Value); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the record; deleting an absent key is a no-op.
func (s *Store) Delete(_ context.Context, collection domain.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if coll, ok := s.state[collection]; ok {
		delete(coll, id)
	}
	return nil
}

// Query returns the records matching the predicate, ordered by id.
func (s *Store) Query(ctx context.Context, collection domain.Collection, predicate func(domain.CachedRecord) bool) ([]domain.CachedRecord, error) {
	all, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CachedRecord, 0, len(all))
	for _, rec := range all {
		if predicate == nil || predicate(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Snapshot captures the full store contents, keyed by collection then id.
// Used by the sqlite driver to hydrate and persist durable state.
type Snapshot map[domain.Collection]map[string]json.RawMessage

// ExportState returns a deep copy of the current contents.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(Snapshot, len(s.state))
	for coll, records := range s.state {
		cp := make(map[string]json.RawMessage, len(records))
		for id, raw := range records {
			cp[id] = cloneRaw(raw)
		}
		snap[coll] = cp
	}
	return snap
}

// ImportState replaces the current contents with the snapshot.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = make(map[domain.Collection]map[string]json.RawMessage, len(snap))
	for coll, records := range snap {
		cp := make(map[string]json.RawMessage, len(records))
		for id, raw := range records {
			cp[id] = cloneRaw(raw)
		}
		s.state[coll] = cp
	}
}
