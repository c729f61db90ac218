package domain

import (
	"errors"
	"fmt"
)

// ErrStorageFull signals that local persistence is exhausted. It is surfaced
// to the user as "cannot save locally" and never retried silently.
var ErrStorageFull = errors.New("local storage full")

// NotAvailableOfflineError reports that an entity is absent from both the
// live backend and the local cache. Terminal; surfaced to the caller.
type NotAvailableOfflineError struct {
	Collection Collection
	ID         string
}

func (e NotAvailableOfflineError) Error() string {
	return fmt.Sprintf("%s %s not available offline", e.Collection, e.ID)
}

// IsNotAvailableOffline reports whether err is a NotAvailableOfflineError.
func IsNotAvailableOffline(err error) bool {
	var target NotAvailableOfflineError
	return errors.As(err, &target)
}

// RemoteError wraps a failure of the remote backend collaborator.
// Transient failures (network, timeout, server error) trigger cache fallback
// on reads and queueing on writes; they are only surfaced when fallback also
// fails. NotFound is terminal for the requested identifier.
type RemoteError struct {
	Op        string
	Transient bool
	NotFound  bool
	Err       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// TransientRemote wraps err as a transient remote failure for the given op.
func TransientRemote(op string, err error) *RemoteError {
	return &RemoteError{Op: op, Transient: true, Err: err}
}

// RemoteNotFound builds the terminal not-found remote error for the given op.
func RemoteNotFound(op string, collection Collection, id string) *RemoteError {
	return &RemoteError{Op: op, NotFound: true, Err: fmt.Errorf("%s %s not found", collection, id)}
}

// IsTransientRemote reports whether err is a transient remote failure.
func IsTransientRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Transient
}

// IsRemoteNotFound reports whether err is a remote not-found.
func IsRemoteNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.NotFound
}

// ReplayConflictError reports that a queued operation's target no longer
// exists or was superseded remotely. The entry is logged and dropped; the
// condition reaches the user through the sync-status indicator, never by
// blocking interaction.
type ReplayConflictError struct {
	Seq        uint64
	Collection Collection
	TargetID   string
	Err        error
}

func (e *ReplayConflictError) Error() string {
	return fmt.Sprintf("replay conflict on %s %s (seq %d): %v", e.Collection, e.TargetID, e.Seq, e.Err)
}

func (e *ReplayConflictError) Unwrap() error { return e.Err }

// IsReplayConflict reports whether err is a replay conflict.
func IsReplayConflict(err error) bool {
	var rc *ReplayConflictError
	return errors.As(err, &rc)
}

// UnrecoverableWriteError is the one write failure that must be reported
// explicitly: the remote attempt failed and the local queue append failed
// too, so the mutation would otherwise be lost.
type UnrecoverableWriteError struct {
	RemoteErr error
	QueueErr  error
}

func (e *UnrecoverableWriteError) Error() string {
	return fmt.Sprintf("write lost: remote failed (%v) and queue append failed (%v)", e.RemoteErr, e.QueueErr)
}
