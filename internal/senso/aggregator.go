// Package senso computes hierarchical 5S conformity scores over a company's
// environment tree. Scores are derived bottom-up: a node's tally is its own
// answered items plus the tallies of all descendants, and percentages are
// count-weighted, never averages of averages.
package senso

import (
	"fmt"

	"auditcore/pkg/domain"
)

// Config controls which nodes become rendered rows and how untagged items
// count. The zero value is completed by defaults: render levels 1..3, keep
// the company root out of the rows, exclude untagged items from the overall
// tally (symmetric with per-category handling).
type Config struct {
	// MaxRenderLevel is the deepest tree level emitted as a row. Deeper
	// nodes still contribute to ancestor tallies. 0 means the default of 3.
	MaxRenderLevel int
	// IncludeRoot emits the level-0 company row.
	IncludeRoot bool
	// IncludeUntaggedInOverall counts items without senso tags toward the
	// overall (but never the per-category) tally.
	IncludeUntaggedInOverall bool
}

func (c Config) maxRenderLevel() int {
	if c.MaxRenderLevel <= 0 {
		return 3
	}
	return c.MaxRenderLevel
}

// ScoreRow is one rendered aggregation row. Percentages are nil when the
// corresponding tally is empty; nil is never folded into other values as
// zero.
type ScoreRow struct {
	NodeID      string                              `json:"node_id"`
	NodeName    string                              `json:"node_name"`
	Level       int                                 `json:"level"`
	PerCategory [domain.SensoCategoryCount]*float64 `json:"per_category"`
	Overall     *float64                            `json:"overall"`
}

// Report is the full set of rendered rows for one company tree, computed
// once per data refresh and reused for the lifetime of the consuming view.
type Report struct {
	Rows []ScoreRow `json:"rows"`
}

// RowFor returns the row for a node id, if rendered.
func (r Report) RowFor(nodeID string) (ScoreRow, bool) {
	for _, row := range r.Rows {
		if row.NodeID == nodeID {
			return row, true
		}
	}
	return ScoreRow{}, false
}

// tally counts conforming and total answered items per category plus the
// untagged remainder.
type tally struct {
	yes           [domain.SensoCategoryCount]int
	total         [domain.SensoCategoryCount]int
	untaggedYes   int
	untaggedTotal int
}

func (t *tally) add(other tally) {
	for i := 0; i < domain.SensoCategoryCount; i++ {
		t.yes[i] += other.yes[i]
		t.total[i] += other.total[i]
	}
	t.untaggedYes += other.untaggedYes
	t.untaggedTotal += other.untaggedTotal
}

var categoryIndex = func() map[domain.SensoCategory]int {
	m := make(map[domain.SensoCategory]int, domain.SensoCategoryCount)
	for i, c := range domain.SensoCategories() {
		m[c] = i
	}
	return m
}()

// Aggregate walks the environment tree and computes the score rows. The
// audit/item data may come from the live backend or the local cache; the
// computation is identical either way.
func Aggregate(nodes []domain.EnvironmentNode, audits []domain.Audit, items []domain.AuditItem, cfg Config) (Report, error) {
	if len(nodes) == 0 {
		return Report{}, nil
	}

	byID := make(map[string]domain.EnvironmentNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	// A node whose parent is absent from the set acts as a root; a company
	// tree normally has exactly one.
	children := make(map[string][]string)
	var roots []string
	for _, n := range nodes {
		if n.ParentID == nil || *n.ParentID == "" {
			roots = append(roots, n.ID)
			continue
		}
		if _, ok := byID[*n.ParentID]; !ok {
			roots = append(roots, n.ID)
			continue
		}
		children[*n.ParentID] = append(children[*n.ParentID], n.ID)
	}
	if len(roots) == 0 {
		return Report{}, fmt.Errorf("environment set of %d nodes has no root", len(nodes))
	}

	// Explicit levels, computed once (replaces probe-based depth inference).
	levels := make(map[string]int, len(nodes))
	order := make([]string, 0, len(nodes))
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		levels[r] = 0
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, child := range children[id] {
			levels[child] = levels[id] + 1
			queue = append(queue, child)
		}
	}
	if len(order) != len(nodes) {
		return Report{}, fmt.Errorf("environment tree contains a cycle (%d of %d nodes reachable)", len(order), len(nodes))
	}

	own := ownTallies(audits, items)

	// Post-order accumulation: reverse BFS order guarantees children are
	// folded before their parents, each node exactly once regardless of
	// fan-out.
	aggregate := make(map[string]tally, len(nodes))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		t := own[id]
		for _, child := range children[id] {
			t.add(aggregate[child])
		}
		aggregate[id] = t
	}

	report := Report{}
	for _, id := range order {
		level := levels[id]
		if level == 0 && !cfg.IncludeRoot {
			continue
		}
		if level > cfg.maxRenderLevel() {
			continue
		}
		report.Rows = append(report.Rows, scoreRow(byID[id], level, aggregate[id], cfg))
	}
	return report, nil
}

// ownTallies computes each node's own contribution: answered items of audits
// whose location is that node. Untagged items are tracked separately.
func ownTallies(audits []domain.Audit, items []domain.AuditItem) map[string]tally {
	locationOf := make(map[string]string, len(audits))
	for _, a := range audits {
		locationOf[a.ID] = a.LocationID
	}
	out := make(map[string]tally)
	for _, item := range items {
		if !item.Answered() {
			continue
		}
		location, ok := locationOf[item.AuditID]
		if !ok {
			continue
		}
		t := out[location]
		conforming := *item.Answer
		if len(item.SensoTags) == 0 {
			t.untaggedTotal++
			if conforming {
				t.untaggedYes++
			}
		} else {
			for _, tag := range item.SensoTags {
				idx, known := categoryIndex[tag]
				if !known {
					continue
				}
				t.total[idx]++
				if conforming {
					t.yes[idx]++
				}
			}
		}
		out[location] = t
	}
	return out
}

func scoreRow(node domain.EnvironmentNode, level int, t tally, cfg Config) ScoreRow {
	row := ScoreRow{NodeID: node.ID, NodeName: node.Name, Level: level}
	sumYes, sumTotal := 0, 0
	for i := 0; i < domain.SensoCategoryCount; i++ {
		if t.total[i] > 0 {
			pct := float64(t.yes[i]) / float64(t.total[i]) * 100
			row.PerCategory[i] = &pct
		}
		sumYes += t.yes[i]
		sumTotal += t.total[i]
	}
	if cfg.IncludeUntaggedInOverall {
		sumYes += t.untaggedYes
		sumTotal += t.untaggedTotal
	}
	if sumTotal > 0 {
		overall := float64(sumYes) / float64(sumTotal) * 100
		row.Overall = &overall
	}
	return row
}
