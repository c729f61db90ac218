package core

import (
	"context"
	"fmt"

	"auditcore/pkg/domain"
)

// AuditLifecycleRule blocks illegal audit status transitions: the only legal
// move is in_progress to completed, and completed is terminal.
func AuditLifecycleRule() domain.Rule {
	return auditLifecycleRule{}
}

type auditLifecycleRule struct{}

func (auditLifecycleRule) Name() string { return "audit_lifecycle_transition" }

func (auditLifecycleRule) Evaluate(_ context.Context, _ domain.RuleView, changes []Change) (Result, error) {
	var result Result
	for _, change := range changes {
		if change.Entity != domain.EntityAudit {
			continue
		}
		after, ok := change.After.(Audit)
		if !ok {
			continue
		}
		if after.Status != AuditStatusInProgress && after.Status != AuditStatusCompleted {
			result.Violations = append(result.Violations, Violation{
				Rule:     "audit_lifecycle_transition",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("unknown audit status %q", after.Status),
				Entity:   domain.EntityAudit,
				EntityID: after.ID,
			})
			continue
		}
		before, hadBefore := change.Before.(Audit)
		if !hadBefore {
			continue
		}
		if before.Completed() && after.Status != before.Status {
			result.Violations = append(result.Violations, Violation{
				Rule:     "audit_lifecycle_transition",
				Severity: SeverityBlock,
				Message:  "completed audit cannot transition",
				Entity:   domain.EntityAudit,
				EntityID: after.ID,
			})
		}
		if before.Completed() && after.Completed() && change.Action == ActionComplete {
			result.Violations = append(result.Violations, Violation{
				Rule:     "audit_lifecycle_transition",
				Severity: SeverityBlock,
				Message:  "audit already completed",
				Entity:   domain.EntityAudit,
				EntityID: after.ID,
			})
		}
	}
	return result, nil
}
