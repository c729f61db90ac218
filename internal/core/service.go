package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"auditcore/internal/blob"
	"auditcore/pkg/domain"
)

// Service wires the local store, the remote backend, the connectivity state
// machine, and the pending operation queue into the offline-first sync
// engine. Every read and write routes through the decisions documented on
// the individual methods; callers stay origin-agnostic.
type Service struct {
	local         LocalStore
	backend       Backend
	connectivity  *Connectivity
	queue         *PendingQueue
	rules         *RulesEngine
	logger        Logger
	metrics       MetricsRecorder
	clock         func() time.Time
	remoteTimeout time.Duration
	readGen       *genGuard
	scores        scoreCache
	photos        blob.Store
	localFull     atomic.Bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger injects a structured logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics injects a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRemoteTimeout bounds every remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.remoteTimeout = d
		}
	}
}

// WithConnectivity injects a shared connectivity machine.
func WithConnectivity(c *Connectivity) Option {
	return func(s *Service) {
		if c != nil {
			s.connectivity = c
		}
	}
}

// WithPhotoStore injects the blob store backing photo attachments. Without
// one, AttachItemPhoto is unavailable; AddItemPhoto with external references
// still works.
func WithPhotoStore(store blob.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.photos = store
		}
	}
}

// WithRulesEngine injects a custom rules engine.
func WithRulesEngine(e *RulesEngine) Option {
	return func(s *Service) {
		if e != nil {
			s.rules = e
		}
	}
}

// NewService constructs the sync engine over a local store and a remote
// backend. The default rules engine carries the audit lifecycle and item
// integrity rules; a transition to online triggers a queue drain.
func NewService(local LocalStore, backend Backend, opts ...Option) *Service {
	s := &Service{
		local:         local,
		backend:       backend,
		connectivity:  NewConnectivity(),
		logger:        noopLogger{},
		metrics:       noopMetrics{},
		clock:         func() time.Time { return time.Now().UTC() },
		remoteTimeout: DefaultRemoteTimeout,
		readGen:       newGenGuard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rules == nil {
		s.rules = NewDefaultRulesEngine()
	}
	s.queue = NewPendingQueue(local, s.logger, s.metrics, s.clock)
	s.connectivity.Subscribe(func(state ConnectivityState) {
		if state != StateOnline {
			return
		}
		go func() {
			if _, err := s.Drain(context.Background()); err != nil {
				s.logger.Warn("drain after reconnect failed", "error", err.Error())
			}
		}()
	})
	return s
}

// NewDefaultRulesEngine returns the engine with the standard audit rules.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(AuditLifecycleRule())
	engine.Register(ItemIntegrityRule())
	return engine
}

// Connectivity exposes the state machine for platform signal feeds.
func (s *Service) Connectivity() *Connectivity { return s.connectivity }

// Queue exposes the pending operation queue (status indicator, tests).
func (s *Service) Queue() *PendingQueue { return s.queue }

// LocalStore exposes the underlying local store.
func (s *Service) LocalStore() LocalStore { return s.local }

// SyncStatus summarizes the state surfaced on the sync-status indicator.
type SyncStatus struct {
	State      ConnectivityState `json:"state"`
	QueueDepth int               `json:"queue_depth"`
	Conflicts  []ConflictRecord  `json:"conflicts,omitempty"`
	// LocalStorageFull reports that the cache could not absorb the most
	// recent mirror write; remote data stays readable but is not retained.
	LocalStorageFull bool `json:"local_storage_full,omitempty"`
}

// Status reports connectivity, queue depth, dropped replay conflicts, and
// local cache health.
func (s *Service) Status(ctx context.Context) (SyncStatus, error) {
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	return SyncStatus{
		State:            s.connectivity.State(),
		QueueDepth:       depth,
		Conflicts:        s.queue.Conflicts(),
		LocalStorageFull: s.localFull.Load(),
	}, nil
}

// noteMirrorFailure records a failed read-path mirror. The fetched value
// stays usable, but storage exhaustion must reach the sync-status indicator
// instead of staying buried in the log.
func (s *Service) noteMirrorFailure(collection Collection, id string, err error) {
	s.logger.Warn("write-through failed", "collection", string(collection), "id", id, "error", err.Error())
	if errors.Is(err, domain.ErrStorageFull) {
		s.localFull.Store(true)
	}
}

// noteMirrorSuccess clears the storage-full indicator once mirroring works
// again.
func (s *Service) noteMirrorSuccess() {
	s.localFull.Store(false)
}

// Rule evaluation --------------------------------------------------------

// storeRuleView adapts the local store to the domain RuleView contract.
type storeRuleView struct {
	ctx   context.Context
	store LocalStore
}

func (v storeRuleView) FindAudit(id string) (Audit, bool) {
	a, ok, err := domain.GetRecord[Audit](v.ctx, v.store, CollectionAudits, id)
	if err != nil {
		return Audit{}, false
	}
	return a, ok
}

func (v storeRuleView) FindAuditItem(id string) (AuditItem, bool) {
	it, ok, err := domain.GetRecord[AuditItem](v.ctx, v.store, CollectionAuditItems, id)
	if err != nil {
		return AuditItem{}, false
	}
	return it, ok
}

func (v storeRuleView) ListAuditItems(auditID string) []AuditItem {
	recs, err := v.store.Query(v.ctx, CollectionAuditItems, func(rec CachedRecord) bool {
		var it AuditItem
		return json.Unmarshal(rec.Value, &it) == nil && it.AuditID == auditID
	})
	if err != nil {
		return nil
	}
	out := make([]AuditItem, 0, len(recs))
	for _, rec := range recs {
		var it AuditItem
		if json.Unmarshal(rec.Value, &it) == nil {
			out = append(out, it)
		}
	}
	return out
}

func (s *Service) evaluateRules(ctx context.Context, changes []Change) (Result, error) {
	view := storeRuleView{ctx: ctx, store: s.local}
	res, err := s.rules.Evaluate(ctx, view, changes)
	if err != nil {
		return Result{}, err
	}
	if res.HasBlocking() {
		return res, RuleViolationError{Result: res}
	}
	for _, v := range res.Violations {
		s.logger.Warn("rule violation", "rule", v.Rule, "severity", string(v.Severity), "message", v.Message)
	}
	return res, nil
}

// Reads ------------------------------------------------------------------

// GetAudit reads one audit through the uniform cache-aside path.
func (s *Service) GetAudit(ctx context.Context, id string) (Audit, bool, error) {
	return readOne[Audit](ctx, s, CollectionAudits, id)
}

// GetAuditItem reads one audit item.
func (s *Service) GetAuditItem(ctx context.Context, id string) (AuditItem, bool, error) {
	return readOne[AuditItem](ctx, s, CollectionAuditItems, id)
}

// GetCompany reads one company.
func (s *Service) GetCompany(ctx context.Context, id string) (Company, bool, error) {
	return readOne[Company](ctx, s, CollectionCompanies, id)
}

// GetEnvironment reads one environment node.
func (s *Service) GetEnvironment(ctx context.Context, id string) (EnvironmentNode, bool, error) {
	return readOne[EnvironmentNode](ctx, s, CollectionEnvironments, id)
}

// GetAuditAggregate reads an audit with its items as one unit, regardless of
// whether the audit lives remotely or only in the cache.
func (s *Service) GetAuditAggregate(ctx context.Context, auditID string) (AuditAggregate, bool, error) {
	audit, fromCache, err := s.GetAudit(ctx, auditID)
	if err != nil {
		return AuditAggregate{}, false, err
	}
	items, itemsCached, err := s.ListAuditItems(ctx, auditID)
	if err != nil {
		return AuditAggregate{}, false, err
	}
	return AuditAggregate{Audit: audit, Items: items}, fromCache || itemsCached, nil
}

// ListAuditItems lists the items of one audit.
func (s *Service) ListAuditItems(ctx context.Context, auditID string) ([]AuditItem, bool, error) {
	if domain.IsLocalID(auditID) {
		// Items of a locally-created audit exist nowhere else.
		recs, err := s.local.Query(ctx, CollectionAuditItems, func(rec CachedRecord) bool {
			var it AuditItem
			return json.Unmarshal(rec.Value, &it) == nil && it.AuditID == auditID
		})
		if err != nil {
			return nil, false, err
		}
		out := make([]AuditItem, 0, len(recs))
		for _, rec := range recs {
			var it AuditItem
			if uerr := json.Unmarshal(rec.Value, &it); uerr != nil {
				return nil, false, uerr
			}
			out = append(out, it)
		}
		return out, true, nil
	}
	return readMany[AuditItem](ctx, s, CollectionAuditItems, map[string]string{"audit_id": auditID}, func(it AuditItem) string { return it.ID })
}

// ListAudits lists the audits of one company.
func (s *Service) ListAudits(ctx context.Context, companyID string) ([]Audit, bool, error) {
	return readMany[Audit](ctx, s, CollectionAudits, map[string]string{"company_id": companyID}, func(a Audit) string { return a.ID })
}

// ListEnvironments lists the environment tree of one company.
func (s *Service) ListEnvironments(ctx context.Context, companyID string) ([]EnvironmentNode, bool, error) {
	return readMany[EnvironmentNode](ctx, s, CollectionEnvironments, map[string]string{"company_id": companyID}, func(n EnvironmentNode) string { return n.ID })
}

// RefreshReferenceData mirrors the reference collections for a company into
// the local store so a later offline session can build audits. Failures on
// individual collections degrade to whatever the cache already holds.
func (s *Service) RefreshReferenceData(ctx context.Context, companyID string) error {
	if s.connectivity.Offline() {
		return nil
	}
	refresh := []struct {
		collection Collection
		filter     map[string]string
	}{
		{CollectionCompanies, nil},
		{CollectionEnvironments, map[string]string{"company_id": companyID}},
		{CollectionCriteria, nil},
		{CollectionEnvironmentCriteria, nil},
		{CollectionAuditors, nil},
	}
	defer s.scores.invalidate(companyID)
	for _, r := range refresh {
		var raws []json.RawMessage
		err := s.remoteCall(ctx, "refresh", func(ctx context.Context) error {
			var ferr error
			raws, ferr = s.backend.FetchMany(ctx, r.collection, r.filter)
			return ferr
		})
		if err != nil {
			s.logger.Warn("reference refresh failed", "collection", string(r.collection), "error", err.Error())
			continue
		}
		for _, raw := range raws {
			var keyed struct {
				ID string `json:"id"`
			}
			if uerr := json.Unmarshal(raw, &keyed); uerr != nil || keyed.ID == "" {
				continue
			}
			if perr := s.local.Put(ctx, r.collection, keyed.ID, raw); perr != nil {
				return perr
			}
		}
	}
	return nil
}

// Writes -----------------------------------------------------------------

// writeThrough mirrors a confirmed remote record into the local store under
// the backend-assigned key before success is reported to the caller.
func (s *Service) writeThrough(ctx context.Context, collection Collection, id string, raw json.RawMessage) error {
	if err := s.local.Put(ctx, collection, id, raw); err != nil {
		return fmt.Errorf("mirror %s %s: %w", collection, id, err)
	}
	return nil
}

// putLocalRecord encodes and stores a record locally; the offline view must
// reflect every accepted mutation.
func putLocalRecord[T any](ctx context.Context, s *Service, collection Collection, id string, value T) error {
	return domain.PutRecord(ctx, s.local, collection, id, value)
}

// syncRecord pushes one record remotely when routing allows it and queues it
// otherwise. The record must already be persisted locally. Returns the
// unrecoverable combined error when both the remote attempt and the queue
// append fail.
func (s *Service) syncRecord(ctx context.Context, kind OperationKind, collection Collection, id string, payload any) error {
	offlineRouted := s.connectivity.Offline() || domain.IsLocalID(id)
	if !offlineRouted {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		var updated json.RawMessage
		remoteErr := s.remoteCall(ctx, "push_"+string(kind), func(ctx context.Context) error {
			var uerr error
			updated, uerr = s.backend.Update(ctx, collection, id, raw)
			return uerr
		})
		if remoteErr == nil {
			return s.writeThrough(ctx, collection, id, updated)
		}
		if !domain.IsTransientRemote(remoteErr) {
			return remoteErr
		}
		if _, qerr := s.queue.Enqueue(ctx, kind, collection, id, payload); qerr != nil {
			return &domain.UnrecoverableWriteError{RemoteErr: remoteErr, QueueErr: qerr}
		}
		return nil
	}
	if _, qerr := s.queue.Enqueue(ctx, kind, collection, id, payload); qerr != nil {
		return qerr
	}
	return nil
}

// enqueueLocalAggregate records the current state of a locally-created audit
// aggregate as one self-contained queue entry in the audits collection, so
// replay order per collection reconstructs the aggregate exactly.
func (s *Service) enqueueLocalAggregate(ctx context.Context, kind OperationKind, auditID string) error {
	ag, err := s.loadLocalAggregate(ctx, auditID)
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, kind, CollectionAudits, auditID, ag)
	return err
}

func (s *Service) loadLocalAggregate(ctx context.Context, auditID string) (AuditAggregate, error) {
	audit, ok, err := domain.GetRecord[Audit](ctx, s.local, CollectionAudits, auditID)
	if err != nil {
		return AuditAggregate{}, err
	}
	if !ok {
		return AuditAggregate{}, domain.NotAvailableOfflineError{Collection: CollectionAudits, ID: auditID}
	}
	items, _, err := s.ListAuditItems(ctx, auditID)
	if err != nil {
		return AuditAggregate{}, err
	}
	return AuditAggregate{Audit: audit, Items: items}, nil
}

// AnswerItem records a boolean conformity answer and propagates the delta to
// the owning audit's running totals.
func (s *Service) AnswerItem(ctx context.Context, itemID string, answer bool) (AuditItem, error) {
	return s.mutateItem(ctx, itemID, func(it *AuditItem) {
		v := answer
		it.Answer = &v
	})
}

// AddItemPhoto appends a photo blob reference to the item's ordered list.
func (s *Service) AddItemPhoto(ctx context.Context, itemID, photoRef string) (AuditItem, error) {
	return s.mutateItem(ctx, itemID, func(it *AuditItem) {
		it.PhotoRefs = append(it.PhotoRefs, photoRef)
	})
}

// AttachItemPhoto stores photo bytes in the configured blob store and appends
// the resulting key to the item's ordered photo list. The blob write happens
// first so a queued item mutation never references a photo that was not
// stored.
func (s *Service) AttachItemPhoto(ctx context.Context, itemID, filename, contentType string, r io.Reader) (AuditItem, string, error) {
	if s.photos == nil {
		return AuditItem{}, "", fmt.Errorf("no photo store configured")
	}
	key := blob.PhotoKey(itemID, filename)
	if _, err := s.photos.Put(ctx, key, r, blob.PutOptions{ContentType: contentType}); err != nil {
		return AuditItem{}, "", fmt.Errorf("store photo %s: %w", key, err)
	}
	item, err := s.AddItemPhoto(ctx, itemID, key)
	if err != nil {
		return AuditItem{}, "", err
	}
	return item, key, nil
}

// SetItemComment sets or replaces the free-text comment on an item.
func (s *Service) SetItemComment(ctx context.Context, itemID, comment string) (AuditItem, error) {
	return s.mutateItem(ctx, itemID, func(it *AuditItem) {
		c := comment
		it.Comment = &c
	})
}

func (s *Service) mutateItem(ctx context.Context, itemID string, mutate func(*AuditItem)) (AuditItem, error) {
	item, _, err := s.GetAuditItem(ctx, itemID)
	if err != nil {
		return AuditItem{}, err
	}
	before := domain.CloneAuditItem(item)
	mutate(&item)

	audit, _, err := s.GetAudit(ctx, item.AuditID)
	if err != nil {
		return AuditItem{}, err
	}
	auditBefore := domain.CloneAudit(audit)
	applyAnswerDelta(&audit, before.Answer, item.Answer)
	auditChanged := audit.TotalYes != auditBefore.TotalYes || audit.TotalNo != auditBefore.TotalNo

	changes := []Change{{Entity: domain.EntityAuditItem, Action: ActionUpdate, Before: before, After: domain.CloneAuditItem(item)}}
	if auditChanged {
		changes = append(changes, Change{Entity: domain.EntityAudit, Action: ActionUpdate, Before: auditBefore, After: domain.CloneAudit(audit)})
	}
	if _, err := s.evaluateRules(ctx, changes); err != nil {
		return AuditItem{}, err
	}

	if err := putLocalRecord(ctx, s, CollectionAuditItems, item.ID, item); err != nil {
		return AuditItem{}, err
	}
	s.scores.invalidate(audit.CompanyID)
	if auditChanged {
		if err := putLocalRecord(ctx, s, CollectionAudits, audit.ID, audit); err != nil {
			return AuditItem{}, err
		}
	}

	if domain.IsLocalID(item.AuditID) {
		// The whole aggregate travels as one queue entry.
		if err := s.enqueueLocalAggregate(ctx, OperationUpdate, item.AuditID); err != nil {
			return AuditItem{}, err
		}
		return item, nil
	}
	if err := s.syncRecord(ctx, OperationUpdate, CollectionAuditItems, item.ID, item); err != nil {
		return AuditItem{}, err
	}
	if auditChanged {
		if err := s.syncRecord(ctx, OperationUpdate, CollectionAudits, audit.ID, audit); err != nil {
			return AuditItem{}, err
		}
	}
	return item, nil
}

// applyAnswerDelta adjusts running totals for an answer transition without
// rescanning the item set, so the propagation stays self-contained.
func applyAnswerDelta(audit *Audit, before, after *bool) {
	if before != nil {
		if *before {
			audit.TotalYes--
		} else {
			audit.TotalNo--
		}
	}
	if after != nil {
		if *after {
			audit.TotalYes++
		} else {
			audit.TotalNo++
		}
	}
}

// CompleteAudit finalizes an audit: totals and score are computed locally
// from the items, the terminal status is validated by the lifecycle rule,
// and the result is pushed or queued as a single complete operation.
func (s *Service) CompleteAudit(ctx context.Context, auditID string) (Audit, error) {
	ag, _, err := s.GetAuditAggregate(ctx, auditID)
	if err != nil {
		return Audit{}, err
	}
	before := domain.CloneAudit(ag.Audit)

	audit := ag.Audit
	total, yes, no, score := domain.ComputeScore(ag.Items)
	now := s.clock()
	audit.Status = AuditStatusCompleted
	audit.CompletedAt = &now
	audit.TotalQuestions = total
	audit.TotalYes = yes
	audit.TotalNo = no
	audit.Score = score
	if score != nil {
		level := domain.ScoreLevelFor(*score)
		audit.ScoreLevel = &level
	}

	if _, err := s.evaluateRules(ctx, []Change{{Entity: domain.EntityAudit, Action: ActionComplete, Before: before, After: domain.CloneAudit(audit)}}); err != nil {
		return Audit{}, err
	}

	if err := putLocalRecord(ctx, s, CollectionAudits, audit.ID, audit); err != nil {
		return Audit{}, err
	}
	s.scores.invalidate(audit.CompanyID)

	if domain.IsLocalID(audit.ID) {
		// One complete entry carries the final computed fields; nothing is
		// deferred to a future remote read.
		if err := s.enqueueLocalAggregate(ctx, OperationComplete, audit.ID); err != nil {
			return Audit{}, err
		}
		return audit, nil
	}
	if err := s.syncRecord(ctx, OperationComplete, CollectionAudits, audit.ID, audit); err != nil {
		return Audit{}, err
	}
	return audit, nil
}

// Replay -----------------------------------------------------------------

// Drain replays the pending operation queue. Safe to call at any time; a
// concurrent drain request is a no-op.
func (s *Service) Drain(ctx context.Context) (DrainOutcome, error) {
	return s.queue.Drain(ctx, s.replayOperation)
}

// replayOperation applies one queued entry against the backend. Aggregates
// created offline are upserted under their local identifiers, which the
// backend keeps as the permanent record keys; updates against server-issued
// identifiers that no longer resolve are reported as replay conflicts.
func (s *Service) replayOperation(ctx context.Context, op PendingOperation) error {
	if op.Collection == CollectionAudits && domain.IsLocalID(op.TargetID) {
		var ag AuditAggregate
		if err := json.Unmarshal(op.Payload, &ag); err != nil {
			return &domain.ReplayConflictError{Seq: op.Seq, Collection: op.Collection, TargetID: op.TargetID, Err: err}
		}
		return s.replayAggregate(ctx, ag)
	}

	var updated json.RawMessage
	err := s.remoteCall(ctx, "replay_update", func(ctx context.Context) error {
		var uerr error
		updated, uerr = s.backend.Update(ctx, op.Collection, op.TargetID, op.Payload)
		return uerr
	})
	if err != nil {
		if domain.IsRemoteNotFound(err) {
			return &domain.ReplayConflictError{Seq: op.Seq, Collection: op.Collection, TargetID: op.TargetID, Err: err}
		}
		return err
	}
	if company := rawCompanyID(updated); company != "" {
		s.scores.invalidate(company)
	}
	return s.writeThrough(ctx, op.Collection, op.TargetID, updated)
}

func (s *Service) replayAggregate(ctx context.Context, ag AuditAggregate) error {
	auditRaw, err := json.Marshal(ag.Audit)
	if err != nil {
		return err
	}
	var stored json.RawMessage
	if err := s.remoteCall(ctx, "replay_aggregate", func(ctx context.Context) error {
		var uerr error
		stored, uerr = s.backend.Upsert(ctx, CollectionAudits, ag.Audit.ID, auditRaw)
		return uerr
	}); err != nil {
		return err
	}
	if err := s.writeThrough(ctx, CollectionAudits, ag.Audit.ID, stored); err != nil {
		return err
	}
	for _, item := range ag.Items {
		itemRaw, merr := json.Marshal(item)
		if merr != nil {
			return merr
		}
		var storedItem json.RawMessage
		if err := s.remoteCall(ctx, "replay_aggregate", func(ctx context.Context) error {
			var uerr error
			storedItem, uerr = s.backend.Upsert(ctx, CollectionAuditItems, item.ID, itemRaw)
			return uerr
		}); err != nil {
			return err
		}
		if err := s.writeThrough(ctx, CollectionAuditItems, item.ID, storedItem); err != nil {
			return err
		}
	}
	return nil
}
