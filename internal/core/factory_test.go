package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"auditcore/internal/infra/persistence/memory"
	"auditcore/pkg/domain"
)

// seedReference loads a company, a two-level environment tree, an auditor,
// and criteriaCount criteria linked to the leaf location into the backend.
func seedReference(backend *fakeBackend, companyID string, criteriaCount int) (locationID string) {
	rootID := companyID + "-root"
	locationID = companyID + "-area"
	backend.seed(CollectionCompanies, companyID, Company{ID: companyID, Name: "Acme"})
	backend.seed(CollectionEnvironments, rootID, EnvironmentNode{ID: rootID, CompanyID: companyID, Name: "Plant", Level: 0})
	backend.seed(CollectionEnvironments, locationID, EnvironmentNode{ID: locationID, CompanyID: companyID, Name: "Assembly", ParentID: &rootID, Level: 1})
	backend.seed(CollectionAuditors, "aud1", Auditor{ID: "aud1", Name: "Val"})
	for i := 0; i < criteriaCount; i++ {
		cid := fmt.Sprintf("crit-%d", i)
		backend.seed(CollectionCriteria, cid, Criterion{ID: cid, Question: fmt.Sprintf("question %d", i), SensoTags: []SensoCategory{domain.Senso1Sort}})
		lid := fmt.Sprintf("link-%d", i)
		backend.seed(CollectionEnvironmentCriteria, lid, EnvironmentCriterion{ID: lid, EnvironmentID: locationID, CriterionID: cid})
	}
	return locationID
}

func TestRefreshReferenceDataMirrorsCollections(t *testing.T) {
	ctx := context.Background()
	svc, store, backend := newTestService(t)
	location := seedReference(backend, "c1", 3)

	if err := svc.RefreshReferenceData(ctx, "c1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok, _ := store.Get(ctx, CollectionEnvironments, location); !ok {
		t.Fatalf("environment not mirrored")
	}
	criteria, _ := store.GetAll(ctx, CollectionCriteria)
	if len(criteria) != 3 {
		t.Fatalf("mirrored criteria = %d, want 3", len(criteria))
	}
	links, _ := store.GetAll(ctx, CollectionEnvironmentCriteria)
	if len(links) != 3 {
		t.Fatalf("mirrored links = %d, want 3", len(links))
	}
}

func TestCreateAuditOfflineBuildsAggregateLocally(t *testing.T) {
	ctx := context.Background()
	svc, store, backend := newTestService(t)
	location := seedReference(backend, "c1", 4)
	if err := svc.RefreshReferenceData(ctx, "c1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	svc.Connectivity().SetOfflineOverride(true)

	ag, err := svc.CreateAudit(ctx, CreateAuditParams{CompanyID: "c1", LocationID: location, AuditorID: "aud1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !domain.IsLocalID(ag.Audit.ID) {
		t.Fatalf("offline audit got non-local id %q", ag.Audit.ID)
	}
	if len(ag.Items) != 4 {
		t.Fatalf("items = %d, want one per applicable criterion", len(ag.Items))
	}
	for _, item := range ag.Items {
		if !domain.IsLocalID(item.ID) {
			t.Fatalf("item %q has non-local id", item.ID)
		}
		if item.AuditID != ag.Audit.ID {
			t.Fatalf("item references %q, want %q", item.AuditID, ag.Audit.ID)
		}
	}
	if ag.Audit.DisplayLocationName != "Assembly" || ag.Audit.DisplayCompanyName != "Acme" {
		t.Fatalf("display names not snapshotted: %+v", ag.Audit)
	}
	if backend.callCount("insert") != 0 {
		t.Fatalf("offline creation reached the backend")
	}
	// Persisted locally, deferred as exactly one queue entry.
	if _, ok, _ := store.Get(ctx, CollectionAudits, ag.Audit.ID); !ok {
		t.Fatalf("audit not persisted locally")
	}
	if depth, _ := svc.Queue().Depth(ctx); depth != 1 {
		t.Fatalf("queue depth = %d, want 1", depth)
	}
}

func TestCreateAuditOnlineUsesBackendIdentifiers(t *testing.T) {
	ctx := context.Background()
	svc, store, backend := newTestService(t)
	location := seedReference(backend, "c1", 2)

	ag, err := svc.CreateAudit(ctx, CreateAuditParams{CompanyID: "c1", LocationID: location, AuditorID: "aud1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if domain.IsLocalID(ag.Audit.ID) {
		t.Fatalf("online audit got local id %q", ag.Audit.ID)
	}
	if len(ag.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(ag.Items))
	}
	// The stored aggregate is mirrored locally before success is reported.
	if _, ok, _ := store.Get(ctx, CollectionAudits, ag.Audit.ID); !ok {
		t.Fatalf("online creation not mirrored")
	}
	if depth, _ := svc.Queue().Depth(ctx); depth != 0 {
		t.Fatalf("online creation queued %d entries", depth)
	}
}

func TestCreateAuditFallsBackOfflineOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, backend := newTestService(t)
	location := seedReference(backend, "c1", 2)
	if err := svc.RefreshReferenceData(ctx, "c1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	backend.setFailTransient(true)

	ag, err := svc.CreateAudit(ctx, CreateAuditParams{CompanyID: "c1", LocationID: location, AuditorID: "aud1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !domain.IsLocalID(ag.Audit.ID) {
		t.Fatalf("fallback creation got id %q, want local", ag.Audit.ID)
	}
	if depth, _ := svc.Queue().Depth(ctx); depth != 1 {
		t.Fatalf("queue depth = %d, want 1", depth)
	}
}

func TestCreateAuditOfflineSurfacesStorageFull(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithMaxRecords(8))
	backend := newFakeBackend()
	svc := NewService(store, backend)
	location := seedReference(backend, "c1", 6)
	// The reference mirror fills the quota; the aggregate cannot fit.
	_ = svc.RefreshReferenceData(ctx, "c1")
	svc.Connectivity().SetOfflineOverride(true)

	_, err := svc.CreateAudit(ctx, CreateAuditParams{CompanyID: "c1", LocationID: location, AuditorID: "aud1"})
	if !errors.Is(err, domain.ErrStorageFull) {
		t.Fatalf("err = %v, want ErrStorageFull", err)
	}
}
