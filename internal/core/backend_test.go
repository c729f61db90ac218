package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"auditcore/internal/infra/persistence/memory"
	"auditcore/pkg/domain"
)

// fakeBackend is the in-memory remote collaborator used by the engine tests.
// It honors the same filter and identifier semantics as the real backend and
// can be switched into transient failure.
type fakeBackend struct {
	mu      sync.Mutex
	records map[Collection]map[string]json.RawMessage
	nextID  int

	failTransient bool
	calls         map[string]int
	onFetchOne    func(collection Collection, id string)
	onFetchMany   func(collection Collection)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		records: make(map[Collection]map[string]json.RawMessage),
		calls:   make(map[string]int),
	}
}

func (f *fakeBackend) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) setFailTransient(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTransient = on
}

func (f *fakeBackend) seed(collection Collection, id string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[collection] == nil {
		f.records[collection] = make(map[string]json.RawMessage)
	}
	f.records[collection][id] = raw
}

func (f *fakeBackend) get(collection Collection, id string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.records[collection][id]
	return raw, ok
}

func (f *fakeBackend) FetchOne(_ context.Context, collection Collection, id string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls["fetch_one"]++
	fail := f.failTransient
	raw, ok := f.records[collection][id]
	hook := f.onFetchOne
	f.mu.Unlock()
	if hook != nil {
		hook(collection, id)
	}
	if fail {
		return nil, domain.TransientRemote("fetch_one", fmt.Errorf("network down"))
	}
	if !ok {
		return nil, domain.RemoteNotFound("fetch_one", collection, id)
	}
	return raw, nil
}

func (f *fakeBackend) FetchMany(_ context.Context, collection Collection, filter map[string]string) ([]json.RawMessage, error) {
	f.mu.Lock()
	f.calls["fetch_many"]++
	fail := f.failTransient
	var out []json.RawMessage
	for _, raw := range f.records[collection] {
		var fields map[string]any
		if json.Unmarshal(raw, &fields) != nil {
			continue
		}
		match := true
		for k, want := range filter {
			got, ok := fields[k].(string)
			if !ok || got != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, raw)
		}
	}
	hook := f.onFetchMany
	f.mu.Unlock()
	if hook != nil {
		hook(collection)
	}
	if fail {
		return nil, domain.TransientRemote("fetch_many", fmt.Errorf("network down"))
	}
	return out, nil
}

func (f *fakeBackend) Insert(_ context.Context, collection Collection, record json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["insert"]++
	if f.failTransient {
		return nil, domain.TransientRemote("insert", fmt.Errorf("network down"))
	}
	if collection == CollectionAudits {
		var ag AuditAggregate
		if err := json.Unmarshal(record, &ag); err != nil {
			return nil, err
		}
		f.nextID++
		ag.Audit.ID = fmt.Sprintf("srv-audit-%d", f.nextID)
		for i := range ag.Items {
			f.nextID++
			ag.Items[i].ID = fmt.Sprintf("srv-item-%d", f.nextID)
			ag.Items[i].AuditID = ag.Audit.ID
		}
		auditRaw, _ := json.Marshal(ag.Audit)
		f.putLocked(CollectionAudits, ag.Audit.ID, auditRaw)
		for _, item := range ag.Items {
			itemRaw, _ := json.Marshal(item)
			f.putLocked(CollectionAuditItems, item.ID, itemRaw)
		}
		return json.Marshal(ag)
	}
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil, err
	}
	idRaw, _ := json.Marshal(id)
	fields["id"] = idRaw
	out, _ := json.Marshal(fields)
	f.putLocked(collection, id, out)
	return out, nil
}

func (f *fakeBackend) Update(_ context.Context, collection Collection, id string, patch json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update"]++
	if f.failTransient {
		return nil, domain.TransientRemote("update", fmt.Errorf("network down"))
	}
	if _, ok := f.records[collection][id]; !ok {
		return nil, domain.RemoteNotFound("update", collection, id)
	}
	f.putLocked(collection, id, patch)
	return patch, nil
}

func (f *fakeBackend) Upsert(_ context.Context, collection Collection, id string, record json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["upsert"]++
	if f.failTransient {
		return nil, domain.TransientRemote("upsert", fmt.Errorf("network down"))
	}
	f.putLocked(collection, id, record)
	return record, nil
}

func (f *fakeBackend) putLocked(collection Collection, id string, raw json.RawMessage) {
	if f.records[collection] == nil {
		f.records[collection] = make(map[string]json.RawMessage)
	}
	f.records[collection][id] = append(json.RawMessage(nil), raw...)
}

var _ Backend = (*fakeBackend)(nil)

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store, *fakeBackend) {
	t.Helper()
	store := memory.NewStore()
	backend := newFakeBackend()
	svc := NewService(store, backend, opts...)
	return svc, store, backend
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", timeout)
}
