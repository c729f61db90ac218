package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"auditcore/pkg/domain"
)

// ErrSupersededRead marks a remote read whose result arrived after a newer
// request for the same collection was issued. The result is discarded and
// must never overwrite newer state.
var ErrSupersededRead = errors.New("read superseded by newer request")

// genGuard hands out monotonically increasing request generations per key so
// stale remote results can be detected on arrival. List reads guard per
// collection, single-record reads per record.
type genGuard struct {
	mu   sync.Mutex
	gens map[string]*atomic.Uint64
}

func newGenGuard() *genGuard {
	return &genGuard{gens: make(map[string]*atomic.Uint64)}
}

func (g *genGuard) counter(key string) *atomic.Uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.gens[key]
	if !ok {
		c = &atomic.Uint64{}
		g.gens[key] = c
	}
	return c
}

// begin registers a new request and returns its generation token.
func (g *genGuard) begin(key string) uint64 {
	return g.counter(key).Add(1)
}

// current reports whether token is still the newest request.
func (g *genGuard) current(key string, token uint64) bool {
	return g.counter(key).Load() == token
}

// readKey guards one record; list reads use the bare collection name.
func readKey(collection Collection, id string) string {
	return string(collection) + "/" + id
}

// readOne is the uniform three-step read path applied to every entity type:
//  1. local identifier or offline routing reads exclusively from the local
//     store; absent means NotAvailableOffline;
//  2. otherwise the remote backend is called and, on success, the result is
//     written through to the local store before being returned;
//  3. on remote failure of any kind the local store is consulted; a hit is
//     returned tagged fromCache, a miss propagates the original failure.
func readOne[T any](ctx context.Context, s *Service, collection Collection, id string) (value T, fromCache bool, err error) {
	var zero T
	if domain.IsLocalID(id) || s.connectivity.Offline() {
		v, ok, lerr := domain.GetRecord[T](ctx, s.local, collection, id)
		if lerr != nil {
			return zero, false, lerr
		}
		if !ok {
			return zero, false, domain.NotAvailableOfflineError{Collection: collection, ID: id}
		}
		return v, true, nil
	}

	token := s.readGen.begin(readKey(collection, id))
	var raw json.RawMessage
	remoteErr := s.remoteCall(ctx, "fetch_one", func(ctx context.Context) error {
		var ferr error
		raw, ferr = s.backend.FetchOne(ctx, collection, id)
		return ferr
	})
	if remoteErr == nil {
		if !s.readGen.current(readKey(collection, id), token) {
			return zero, false, ErrSupersededRead
		}
		var v T
		if uerr := json.Unmarshal(raw, &v); uerr != nil {
			return zero, false, uerr
		}
		if perr := s.local.Put(ctx, collection, id, raw); perr != nil {
			s.noteMirrorFailure(collection, id, perr)
		} else {
			s.noteMirrorSuccess()
		}
		return v, false, nil
	}

	v, ok, lerr := domain.GetRecord[T](ctx, s.local, collection, id)
	if lerr == nil && ok {
		return v, true, nil
	}
	return zero, false, remoteErr
}

// readMany is the list form of the three-step read path. Remote results are
// mirrored record by record; a result superseded by a newer request for the
// same collection is discarded on arrival.
func readMany[T any](ctx context.Context, s *Service, collection Collection, filter map[string]string, idOf func(T) string) (values []T, fromCache bool, err error) {
	matches := func(rec CachedRecord) bool {
		if len(filter) == 0 {
			return true
		}
		var fields map[string]any
		if uerr := json.Unmarshal(rec.Value, &fields); uerr != nil {
			return false
		}
		for k, want := range filter {
			got, ok := fields[k].(string)
			if !ok || got != want {
				return false
			}
		}
		return true
	}

	fromLocal := func() ([]T, error) {
		recs, qerr := s.local.Query(ctx, collection, matches)
		if qerr != nil {
			return nil, qerr
		}
		out := make([]T, 0, len(recs))
		for _, rec := range recs {
			var v T
			if uerr := json.Unmarshal(rec.Value, &v); uerr != nil {
				return nil, uerr
			}
			out = append(out, v)
		}
		return out, nil
	}

	if s.connectivity.Offline() {
		out, lerr := fromLocal()
		return out, true, lerr
	}

	token := s.readGen.begin(string(collection))
	var raws []json.RawMessage
	remoteErr := s.remoteCall(ctx, "fetch_many", func(ctx context.Context) error {
		var ferr error
		raws, ferr = s.backend.FetchMany(ctx, collection, filter)
		return ferr
	})
	if remoteErr == nil {
		if !s.readGen.current(string(collection), token) {
			return nil, false, ErrSupersededRead
		}
		out := make([]T, 0, len(raws))
		for _, raw := range raws {
			var v T
			if uerr := json.Unmarshal(raw, &v); uerr != nil {
				return nil, false, uerr
			}
			out = append(out, v)
			if perr := s.local.Put(ctx, collection, idOf(v), raw); perr != nil {
				s.noteMirrorFailure(collection, idOf(v), perr)
			} else {
				s.noteMirrorSuccess()
			}
		}
		return out, false, nil
	}

	out, lerr := fromLocal()
	if lerr == nil && len(out) > 0 {
		return out, true, nil
	}
	return nil, false, remoteErr
}
