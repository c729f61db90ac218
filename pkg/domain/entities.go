// Package domain defines the core persistent entities, identifier scheme,
// error taxonomy, and rule evaluation primitives used by auditcore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and store collections.
const (
	// EntityAudit identifies a 5S audit record.
	EntityAudit EntityType = "audit"
	// EntityAuditItem identifies a single audit question record.
	EntityAuditItem EntityType = "audit_item"
	// EntityEnvironment identifies a node of the organizational tree.
	EntityEnvironment EntityType = "environment"
	// EntityCompany identifies a company record.
	EntityCompany EntityType = "company"
	// EntityCriterion identifies an audit criterion definition.
	EntityCriterion EntityType = "criterion"
	// EntityEnvironmentCriterion identifies a criterion-to-environment link.
	EntityEnvironmentCriterion EntityType = "environment_criterion"
	// EntityAuditor identifies an auditor record.
	EntityAuditor EntityType = "auditor"
	// EntityPendingOperation identifies a deferred sync mutation.
	EntityPendingOperation EntityType = "pending_operation"
)

// Collection names a persisted key space in the local store. Each collection
// mirrors the remote row shape plus optional local-only display fields.
type Collection string

// Local store collections.
const (
	CollectionAudits                Collection = "audits"
	CollectionAuditItems            Collection = "auditItems"
	CollectionEnvironments          Collection = "environments"
	CollectionCompanies             Collection = "companies"
	CollectionCriteria              Collection = "criteria"
	CollectionEnvironmentCriteria   Collection = "environmentCriteria"
	CollectionAuditors              Collection = "auditors"
	CollectionPendingSyncOperations Collection = "pendingSyncOperations"
)

// Collections lists every named collection the local store persists.
func Collections() []Collection {
	return []Collection{
		CollectionAudits,
		CollectionAuditItems,
		CollectionEnvironments,
		CollectionCompanies,
		CollectionCriteria,
		CollectionEnvironmentCriteria,
		CollectionAuditors,
		CollectionPendingSyncOperations,
	}
}

// AuditStatus represents the audit workflow states.
type AuditStatus string

// Canonical audit statuses. Completed is terminal.
const (
	AuditStatusInProgress AuditStatus = "in_progress"
	AuditStatusCompleted  AuditStatus = "completed"
)

// ScoreLevel buckets a conformity score for display.
type ScoreLevel string

// Score levels derived from the completion score.
const (
	ScoreLevelHigh   ScoreLevel = "high"
	ScoreLevelMedium ScoreLevel = "medium"
	ScoreLevelLow    ScoreLevel = "low"
)

// SensoCategory is one of the five fixed 5S workplace-organization categories.
type SensoCategory string

// The five senso categories, in canonical order.
const (
	Senso1Sort        SensoCategory = "1S" // seiri: sort
	Senso2SetInOrder  SensoCategory = "2S" // seiton: set in order
	Senso3Shine       SensoCategory = "3S" // seiso: shine
	Senso4Standardize SensoCategory = "4S" // seiketsu: standardize
	Senso5Sustain     SensoCategory = "5S" // shitsuke: sustain
)

// SensoCategories returns the five categories in canonical order.
func SensoCategories() []SensoCategory {
	return []SensoCategory{Senso1Sort, Senso2SetInOrder, Senso3Shine, Senso4Standardize, Senso5Sustain}
}

// SensoCategoryCount is the fixed number of senso categories.
const SensoCategoryCount = 5

// MaxSensoTagsPerItem caps the number of category tags a single item carries.
const MaxSensoTagsPerItem = 5

// Audit is a 5S audit session against one physical location. It is owned by
// the auditor who created it and mutated by item-answer propagation and the
// completion routine. Display names are snapshotted at creation time because
// relational joins are unavailable offline.
type Audit struct {
	ID                  string      `json:"id"`
	CompanyID           string      `json:"company_id"`
	LocationID          string      `json:"location_id"`
	AuditorID           string      `json:"auditor_id"`
	Status              AuditStatus `json:"status"`
	StartedAt           time.Time   `json:"started_at"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
	TotalQuestions      int         `json:"total_questions"`
	TotalYes            int         `json:"total_yes"`
	TotalNo             int         `json:"total_no"`
	Score               *int        `json:"score,omitempty"`
	ScoreLevel          *ScoreLevel `json:"score_level,omitempty"`
	DisplayLocationName string      `json:"display_location_name,omitempty"`
	DisplayCompanyName  string      `json:"display_company_name,omitempty"`
}

// Completed reports whether the audit reached its terminal status.
func (a Audit) Completed() bool { return a.Status == AuditStatusCompleted }

// AuditItem is one question of an audit, created per applicable criterion at
// audit-creation time. Answer stays nil until the auditor answers; PhotoRefs
// is an ordered list of blob keys.
type AuditItem struct {
	ID          string          `json:"id"`
	AuditID     string          `json:"audit_id"`
	CriterionID string          `json:"criterion_id"`
	Question    string          `json:"question"`
	Answer      *bool           `json:"answer,omitempty"`
	PhotoRefs   []string        `json:"photo_refs,omitempty"`
	Comment     *string         `json:"comment,omitempty"`
	SensoTags   []SensoCategory `json:"senso_tags,omitempty"`
}

// Answered reports whether the item carries a non-null answer.
func (i AuditItem) Answered() bool { return i.Answer != nil }

// EnvironmentNode is one node of a company's rooted organizational tree.
// Level is explicit and computed once per refresh (root = 0); it replaces the
// probe-based depth inference of earlier systems.
type EnvironmentNode struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	Name      string  `json:"name"`
	ParentID  *string `json:"parent_id,omitempty"`
	Level     int     `json:"level"`
}

// Root reports whether the node is a company root.
func (n EnvironmentNode) Root() bool { return n.ParentID == nil || *n.ParentID == "" }

// Company is the root owner of an environment tree.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Criterion is an audit question definition, optionally tagged with senso
// categories that created items inherit.
type Criterion struct {
	ID        string          `json:"id"`
	Question  string          `json:"question"`
	SensoTags []SensoCategory `json:"senso_tags,omitempty"`
}

// EnvironmentCriterion links a criterion to an environment node, marking the
// criterion applicable when auditing that location.
type EnvironmentCriterion struct {
	ID            string `json:"id"`
	EnvironmentID string `json:"environment_id"`
	CriterionID   string `json:"criterion_id"`
}

// Auditor identifies a person performing audits.
type Auditor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AuditAggregate is an audit together with its dependent items, treated as
// one transactional unit for creation and completion.
type AuditAggregate struct {
	Audit Audit       `json:"audit"`
	Items []AuditItem `json:"items"`
}

// CloneAudit returns a defensive copy of an audit.
func CloneAudit(a Audit) Audit {
	cp := a
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	if a.Score != nil {
		v := *a.Score
		cp.Score = &v
	}
	if a.ScoreLevel != nil {
		l := *a.ScoreLevel
		cp.ScoreLevel = &l
	}
	return cp
}

// CloneAuditItem returns a defensive copy of an audit item.
func CloneAuditItem(i AuditItem) AuditItem {
	cp := i
	if i.Answer != nil {
		v := *i.Answer
		cp.Answer = &v
	}
	if i.Comment != nil {
		c := *i.Comment
		cp.Comment = &c
	}
	cp.PhotoRefs = append([]string(nil), i.PhotoRefs...)
	cp.SensoTags = append([]SensoCategory(nil), i.SensoTags...)
	return cp
}

// CloneAggregate returns a defensive copy of an aggregate.
func CloneAggregate(ag AuditAggregate) AuditAggregate {
	cp := AuditAggregate{Audit: CloneAudit(ag.Audit)}
	cp.Items = make([]AuditItem, 0, len(ag.Items))
	for _, it := range ag.Items {
		cp.Items = append(cp.Items, CloneAuditItem(it))
	}
	return cp
}
