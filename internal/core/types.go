package core

import "auditcore/pkg/domain"

type (
	EntityType           = domain.EntityType
	Collection           = domain.Collection
	Audit                = domain.Audit
	AuditItem            = domain.AuditItem
	AuditAggregate       = domain.AuditAggregate
	AuditStatus          = domain.AuditStatus
	ScoreLevel           = domain.ScoreLevel
	SensoCategory        = domain.SensoCategory
	EnvironmentNode      = domain.EnvironmentNode
	Company              = domain.Company
	Criterion            = domain.Criterion
	EnvironmentCriterion = domain.EnvironmentCriterion
	Auditor              = domain.Auditor
	PendingOperation     = domain.PendingOperation
	OperationKind        = domain.OperationKind
	CachedRecord         = domain.CachedRecord
	LocalStore           = domain.LocalStore
	Change               = domain.Change
	Violation            = domain.Violation
	Result               = domain.Result
	RulesEngine          = domain.RulesEngine
	RuleViolationError   = domain.RuleViolationError
)

const (
	CollectionAudits                = domain.CollectionAudits
	CollectionAuditItems            = domain.CollectionAuditItems
	CollectionEnvironments          = domain.CollectionEnvironments
	CollectionCompanies             = domain.CollectionCompanies
	CollectionCriteria              = domain.CollectionCriteria
	CollectionEnvironmentCriteria   = domain.CollectionEnvironmentCriteria
	CollectionAuditors              = domain.CollectionAuditors
	CollectionPendingSyncOperations = domain.CollectionPendingSyncOperations
)

const (
	AuditStatusInProgress = domain.AuditStatusInProgress
	AuditStatusCompleted  = domain.AuditStatusCompleted
)

const (
	OperationCreate   = domain.OperationCreate
	OperationUpdate   = domain.OperationUpdate
	OperationComplete = domain.OperationComplete
)

const (
	ActionCreate   = domain.ActionCreate
	ActionUpdate   = domain.ActionUpdate
	ActionComplete = domain.ActionComplete
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
