package core

import (
	"context"
	"encoding/json"
	"fmt"

	"auditcore/pkg/domain"
)

// CreateAuditParams identifies the company, location, and auditor of a new
// audit session.
type CreateAuditParams struct {
	CompanyID  string
	LocationID string
	AuditorID  string
}

// CreateAudit builds a complete audit aggregate with one item per applicable
// criterion. Routing follows the connectivity machine: online creation goes
// through the backend and is mirrored locally; offline creation allocates
// local identifiers and defers sync to the pending queue. Either way the
// returned aggregate has the shape a fresh remote fetch would have, so
// downstream logic stays origin-agnostic.
func (s *Service) CreateAudit(ctx context.Context, params CreateAuditParams) (AuditAggregate, error) {
	defer s.scores.invalidate(params.CompanyID)
	if s.connectivity.Offline() {
		return s.createAuditOffline(ctx, params)
	}
	ag, err := s.createAuditOnline(ctx, params)
	if err == nil {
		return ag, nil
	}
	if !domain.IsTransientRemote(err) {
		return AuditAggregate{}, err
	}
	// The backend was unreachable; the session continues locally.
	s.logger.Info("audit creation falling back to offline", "error", err.Error())
	return s.createAuditOffline(ctx, params)
}

// applicableCriteria resolves the criteria linked to the location, reading
// through the uniform cache-aside path so the set is identical online and
// offline (assuming reference data was refreshed while connected).
func (s *Service) applicableCriteria(ctx context.Context, locationID string) ([]Criterion, error) {
	links, _, err := readMany[EnvironmentCriterion](ctx, s, CollectionEnvironmentCriteria,
		map[string]string{"environment_id": locationID},
		func(l EnvironmentCriterion) string { return l.ID })
	if err != nil {
		return nil, err
	}
	criteria, _, err := readMany[Criterion](ctx, s, CollectionCriteria, nil,
		func(c Criterion) string { return c.ID })
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Criterion, len(criteria))
	for _, c := range criteria {
		byID[c.ID] = c
	}
	out := make([]Criterion, 0, len(links))
	for _, link := range links {
		c, ok := byID[link.CriterionID]
		if !ok {
			return nil, fmt.Errorf("criterion %q linked to %q not found", link.CriterionID, locationID)
		}
		out = append(out, c)
	}
	return out, nil
}

// displayNames snapshots the location and company names for offline display;
// missing reference data degrades to empty names rather than failing the
// audit.
func (s *Service) displayNames(ctx context.Context, params CreateAuditParams) (location, company string) {
	if node, ok, err := domain.GetRecord[EnvironmentNode](ctx, s.local, CollectionEnvironments, params.LocationID); err == nil && ok {
		location = node.Name
	}
	if c, ok, err := domain.GetRecord[Company](ctx, s.local, CollectionCompanies, params.CompanyID); err == nil && ok {
		company = c.Name
	}
	return location, company
}

// createAuditOffline is the offline entity factory: in one local
// transaction it allocates a local identifier for the audit and one per
// applicable criterion for its items, all referencing the audit's local
// identifier, with zero network calls.
func (s *Service) createAuditOffline(ctx context.Context, params CreateAuditParams) (AuditAggregate, error) {
	criteria, err := s.applicableCriteria(ctx, params.LocationID)
	if err != nil {
		return AuditAggregate{}, err
	}
	locationName, companyName := s.displayNames(ctx, params)

	audit := Audit{
		ID:                  domain.NewLocalID(),
		CompanyID:           params.CompanyID,
		LocationID:          params.LocationID,
		AuditorID:           params.AuditorID,
		Status:              AuditStatusInProgress,
		StartedAt:           s.clock(),
		TotalQuestions:      len(criteria),
		DisplayLocationName: locationName,
		DisplayCompanyName:  companyName,
	}
	items := make([]AuditItem, 0, len(criteria))
	for _, criterion := range criteria {
		items = append(items, AuditItem{
			ID:          domain.NewLocalID(),
			AuditID:     audit.ID,
			CriterionID: criterion.ID,
			Question:    criterion.Question,
			SensoTags:   append([]SensoCategory(nil), criterion.SensoTags...),
		})
	}
	ag := AuditAggregate{Audit: audit, Items: items}

	changes := []Change{{Entity: domain.EntityAudit, Action: ActionCreate, After: domain.CloneAudit(audit)}}
	for _, item := range items {
		changes = append(changes, Change{Entity: domain.EntityAuditItem, Action: ActionCreate, After: domain.CloneAuditItem(item)})
	}
	if _, err := s.evaluateRules(ctx, changes); err != nil {
		return AuditAggregate{}, err
	}

	if err := s.persistAggregate(ctx, ag); err != nil {
		return AuditAggregate{}, err
	}
	if _, err := s.queue.Enqueue(ctx, OperationCreate, CollectionAudits, audit.ID, ag); err != nil {
		return AuditAggregate{}, err
	}
	return domain.CloneAggregate(ag), nil
}

// createAuditOnline asks the backend to create the aggregate in one call and
// mirrors the stored result locally before reporting success.
func (s *Service) createAuditOnline(ctx context.Context, params CreateAuditParams) (AuditAggregate, error) {
	criteria, err := s.applicableCriteria(ctx, params.LocationID)
	if err != nil {
		return AuditAggregate{}, err
	}
	locationName, companyName := s.displayNames(ctx, params)

	draft := AuditAggregate{
		Audit: Audit{
			CompanyID:           params.CompanyID,
			LocationID:          params.LocationID,
			AuditorID:           params.AuditorID,
			Status:              AuditStatusInProgress,
			StartedAt:           s.clock(),
			TotalQuestions:      len(criteria),
			DisplayLocationName: locationName,
			DisplayCompanyName:  companyName,
		},
	}
	for _, criterion := range criteria {
		draft.Items = append(draft.Items, AuditItem{
			CriterionID: criterion.ID,
			Question:    criterion.Question,
			SensoTags:   append([]SensoCategory(nil), criterion.SensoTags...),
		})
	}
	raw, err := json.Marshal(draft)
	if err != nil {
		return AuditAggregate{}, err
	}
	var stored json.RawMessage
	if err := s.remoteCall(ctx, "create_audit", func(ctx context.Context) error {
		var ierr error
		stored, ierr = s.backend.Insert(ctx, CollectionAudits, raw)
		return ierr
	}); err != nil {
		return AuditAggregate{}, err
	}
	var ag AuditAggregate
	if err := json.Unmarshal(stored, &ag); err != nil {
		return AuditAggregate{}, err
	}
	if err := s.persistAggregate(ctx, ag); err != nil {
		return AuditAggregate{}, err
	}
	return ag, nil
}

// persistAggregate writes the audit and its items as one atomic local batch;
// no partially written aggregate is ever visible.
func (s *Service) persistAggregate(ctx context.Context, ag AuditAggregate) error {
	records := make([]CachedRecord, 0, len(ag.Items)+1)
	auditRaw, err := json.Marshal(ag.Audit)
	if err != nil {
		return err
	}
	records = append(records, CachedRecord{Collection: CollectionAudits, ID: ag.Audit.ID, Value: auditRaw})
	for _, item := range ag.Items {
		itemRaw, merr := json.Marshal(item)
		if merr != nil {
			return merr
		}
		records = append(records, CachedRecord{Collection: CollectionAuditItems, ID: item.ID, Value: itemRaw})
	}
	return domain.PutAllRecords(ctx, s.local, records)
}
