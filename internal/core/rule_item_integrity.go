package core

import (
	"context"
	"fmt"

	"auditcore/pkg/domain"
)

// ItemIntegrityRule enforces the audit item invariants: every item must
// reference a resolvable audit, carry at most five senso tags, and never
// repeat a tag.
func ItemIntegrityRule() domain.Rule {
	return itemIntegrityRule{}
}

type itemIntegrityRule struct{}

func (itemIntegrityRule) Name() string { return "audit_item_integrity" }

func (itemIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []Change) (Result, error) {
	var result Result

	// Audits created in the same batch satisfy the reference without a
	// store round trip.
	created := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity == domain.EntityAudit && change.Action == ActionCreate {
			if audit, ok := change.After.(Audit); ok {
				created[audit.ID] = struct{}{}
			}
		}
	}

	for _, change := range changes {
		if change.Entity != domain.EntityAuditItem {
			continue
		}
		item, ok := change.After.(AuditItem)
		if !ok {
			continue
		}
		if _, inBatch := created[item.AuditID]; !inBatch {
			if _, found := view.FindAudit(item.AuditID); !found {
				result.Violations = append(result.Violations, Violation{
					Rule:     "audit_item_integrity",
					Severity: SeverityBlock,
					Message:  fmt.Sprintf("item references unknown audit %q", item.AuditID),
					Entity:   domain.EntityAuditItem,
					EntityID: item.ID,
				})
			}
		}
		if len(item.SensoTags) > domain.MaxSensoTagsPerItem {
			result.Violations = append(result.Violations, Violation{
				Rule:     "audit_item_integrity",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("item carries %d senso tags, max %d", len(item.SensoTags), domain.MaxSensoTagsPerItem),
				Entity:   domain.EntityAuditItem,
				EntityID: item.ID,
			})
		}
		seen := make(map[SensoCategory]struct{}, len(item.SensoTags))
		for _, tag := range item.SensoTags {
			if _, dup := seen[tag]; dup {
				result.Violations = append(result.Violations, Violation{
					Rule:     "audit_item_integrity",
					Severity: SeverityBlock,
					Message:  fmt.Sprintf("duplicate senso tag %q", tag),
					Entity:   domain.EntityAuditItem,
					EntityID: item.ID,
				})
				break
			}
			seen[tag] = struct{}{}
		}
	}
	return result, nil
}
