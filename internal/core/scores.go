package core

import (
	"context"
	"encoding/json"
	"sync"

	"auditcore/internal/senso"
)

// scoreCache memoizes one aggregation report per company. Aggregation over a
// large tree is computed once per data refresh and reused until a mutation
// or refresh invalidates it.
type scoreCache struct {
	mu      sync.Mutex
	reports map[string]senso.Report
}

func (c *scoreCache) get(companyID string) (senso.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rep, ok := c.reports[companyID]
	return rep, ok
}

func (c *scoreCache) put(companyID string, rep senso.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reports == nil {
		c.reports = make(map[string]senso.Report)
	}
	c.reports[companyID] = rep
}

func (c *scoreCache) invalidate(companyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reports, companyID)
}

// ScoreReport aggregates conformity scores over the company's environment
// tree. The underlying audit and item data comes from the uniform read path,
// so the result is identical whether it was served live or from the cache.
func (s *Service) ScoreReport(ctx context.Context, companyID string, cfg senso.Config) (senso.Report, error) {
	if rep, ok := s.scores.get(companyID); ok {
		return rep, nil
	}
	nodes, _, err := s.ListEnvironments(ctx, companyID)
	if err != nil {
		return senso.Report{}, err
	}
	audits, _, err := s.ListAudits(ctx, companyID)
	if err != nil {
		return senso.Report{}, err
	}
	var items []AuditItem
	for _, audit := range audits {
		auditItems, _, ierr := s.ListAuditItems(ctx, audit.ID)
		if ierr != nil {
			return senso.Report{}, ierr
		}
		items = append(items, auditItems...)
	}
	rep, err := senso.Aggregate(nodes, audits, items, cfg)
	if err != nil {
		return senso.Report{}, err
	}
	s.scores.put(companyID, rep)
	return rep, nil
}

// InvalidateScores drops the memoized report for a company; the next
// ScoreReport call recomputes it.
func (s *Service) InvalidateScores(companyID string) {
	s.scores.invalidate(companyID)
}

// rawCompanyID extracts the owning company from a record payload, best
// effort, for cache invalidation after replay.
func rawCompanyID(raw json.RawMessage) string {
	var keyed struct {
		CompanyID string `json:"company_id"`
	}
	if json.Unmarshal(raw, &keyed) != nil {
		return ""
	}
	return keyed.CompanyID
}
