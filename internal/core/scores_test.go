package core

import (
	"context"
	"testing"

	"auditcore/internal/senso"
)

func TestScoreReportAggregatesOverTree(t *testing.T) {
	ctx := context.Background()
	svc, _, backend := newTestService(t)
	location := seedReference(backend, "c1", 4)
	ag, err := svc.CreateAudit(ctx, CreateAuditParams{CompanyID: "c1", LocationID: location, AuditorID: "aud1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i, item := range ag.Items {
		if _, err := svc.AnswerItem(ctx, item.ID, i < 3); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}

	report, err := svc.ScoreReport(ctx, "c1", senso.Config{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	row, ok := report.RowFor(location)
	if !ok {
		t.Fatalf("no row for audited location")
	}
	if row.Overall == nil || *row.Overall != 75 {
		t.Fatalf("overall = %v, want 75", row.Overall)
	}
	if row.PerCategory[0] == nil || *row.PerCategory[0] != 75 {
		t.Fatalf("1S = %v, want 75", row.PerCategory[0])
	}
}

func TestScoreReportIsMemoizedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	svc, _, backend := newTestService(t)
	location := seedReference(backend, "c1", 2)
	ag, err := svc.CreateAudit(ctx, CreateAuditParams{CompanyID: "c1", LocationID: location, AuditorID: "aud1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AnswerItem(ctx, ag.Items[0].ID, true); err != nil {
		t.Fatalf("answer: %v", err)
	}

	if _, err := svc.ScoreReport(ctx, "c1", senso.Config{}); err != nil {
		t.Fatalf("report: %v", err)
	}
	fetches := backend.callCount("fetch_many")
	if _, err := svc.ScoreReport(ctx, "c1", senso.Config{}); err != nil {
		t.Fatalf("memoized report: %v", err)
	}
	if got := backend.callCount("fetch_many"); got != fetches {
		t.Fatalf("memoized report hit the backend (%d -> %d fetches)", fetches, got)
	}

	// Any accepted mutation invalidates the memoized report.
	if _, err := svc.AnswerItem(ctx, ag.Items[1].ID, false); err != nil {
		t.Fatalf("answer: %v", err)
	}
	report, err := svc.ScoreReport(ctx, "c1", senso.Config{})
	if err != nil {
		t.Fatalf("recomputed report: %v", err)
	}
	if got := backend.callCount("fetch_many"); got == fetches {
		t.Fatalf("report not recomputed after mutation")
	}
	row, _ := report.RowFor(location)
	if row.Overall == nil || *row.Overall != 50 {
		t.Fatalf("recomputed overall = %v, want 50", row.Overall)
	}
}

func TestInvalidateScoresForcesRecompute(t *testing.T) {
	ctx := context.Background()
	svc, _, backend := newTestService(t)
	location := seedReference(backend, "c1", 1)
	if _, err := svc.CreateAudit(ctx, CreateAuditParams{CompanyID: "c1", LocationID: location, AuditorID: "aud1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ScoreReport(ctx, "c1", senso.Config{}); err != nil {
		t.Fatalf("report: %v", err)
	}
	fetches := backend.callCount("fetch_many")

	svc.InvalidateScores("c1")
	if _, err := svc.ScoreReport(ctx, "c1", senso.Config{}); err != nil {
		t.Fatalf("report after invalidate: %v", err)
	}
	if got := backend.callCount("fetch_many"); got == fetches {
		t.Fatalf("invalidate did not drop the memoized report")
	}
}
