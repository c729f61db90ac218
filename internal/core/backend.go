package core

import (
	"context"
	"encoding/json"
	"time"

	"auditcore/pkg/domain"
)

// Backend is the remote collaborator the sync engine talks to. One method
// set serves every collection; transport details are irrelevant to the core.
// Implementations classify failures through the domain error taxonomy:
// RemoteNotFound for a missing row, TransientRemote for network, timeout,
// and server errors.
type Backend interface {
	FetchOne(ctx context.Context, collection Collection, id string) (json.RawMessage, error)
	FetchMany(ctx context.Context, collection Collection, filter map[string]string) ([]json.RawMessage, error)
	Insert(ctx context.Context, collection Collection, record json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, collection Collection, id string, patch json.RawMessage) (json.RawMessage, error)
	// Upsert writes the record under the client-supplied identifier. Replay
	// idempotence rests on this: applying the same payload twice yields the
	// same final state.
	Upsert(ctx context.Context, collection Collection, id string, record json.RawMessage) (json.RawMessage, error)
}

// DefaultRemoteTimeout bounds every remote call; a timeout is treated
// identically to any other transient remote failure.
const DefaultRemoteTimeout = 10 * time.Second

// remoteCall runs fn under the configured timeout and normalizes context
// deadline errors into the transient taxonomy.
func (s *Service) remoteCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	err := fn(ctx)
	if err == nil {
		s.connectivity.ReportRemoteSuccess()
		return nil
	}
	if ctx.Err() != nil {
		err = domain.TransientRemote(op, ctx.Err())
	}
	if domain.IsTransientRemote(err) {
		s.connectivity.ReportRemoteFailure()
	}
	return err
}
