package explain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// IndexHint is a structural observation pulled out of a plan, usually a
// missing-index candidate.
type IndexHint struct {
	Table    string   `json:"table,omitempty"`
	Columns  []string `json:"columns,omitempty"`
	Reason   string   `json:"reason"`
	Priority string   `json:"priority"`
	SQL      string   `json:"sql,omitempty"`
}

// Loop counts above this suggest the node sits on the inner side of a
// nested loop doing one lookup per outer row.
const loopHintThreshold = 10

// PlanHints walks the plan trees looking for filtered sequential scans
// worth indexing and inner scans executed once per outer row. Hints come
// back ordered by priority.
func PlanHints(plans []Plan) []IndexHint {
	var hints []IndexHint
	for _, plan := range plans {
		walkPlanNode(plan.Plan, &hints)
	}

	rank := map[string]int{"high": 0, "medium": 1, "low": 2}
	sort.SliceStable(hints, func(i, j int) bool {
		return rank[hints[i].Priority] < rank[hints[j].Priority]
	})
	return hints
}

func walkPlanNode(node PlanNode, hints *[]IndexHint) {
	if node.NodeType == "Seq Scan" && node.RelationName != "" {
		if hint, ok := seqScanHint(node); ok {
			*hints = append(*hints, hint)
		}
	}

	if node.ActualLoops >= loopHintThreshold && node.RelationName != "" {
		priority := "medium"
		if node.ActualLoops >= 100 {
			priority = "high"
		}
		*hints = append(*hints, IndexHint{
			Table: node.RelationName,
			Reason: fmt.Sprintf("%s on %s executed %d times inside a nested loop; batch the lookups into a single query",
				node.NodeType, node.RelationName, node.ActualLoops),
			Priority: priority,
		})
	}

	for _, child := range node.Plans {
		walkPlanNode(child, hints)
	}
}

// seqScanHint flags a filtered sequential scan. Unfiltered scans are plain
// table reads, and low-priority scans over small tables are not worth an
// index.
func seqScanHint(node PlanNode) (IndexHint, bool) {
	if node.Filter == "" {
		return IndexHint{}, false
	}

	priority := scanPriority(node)
	if priority == "low" && node.PlanRows < 100 {
		return IndexHint{}, false
	}

	hint := IndexHint{
		Table:    node.RelationName,
		Columns:  filterColumns(node.Filter),
		Priority: priority,
	}
	if len(hint.Columns) == 0 {
		hint.Reason = fmt.Sprintf("Sequential scan on %s (cost %.2f, %d rows estimated)",
			node.RelationName, node.TotalCost, node.PlanRows)
		return hint, true
	}

	cols := strings.Join(hint.Columns, ", ")
	hint.Reason = fmt.Sprintf("Sequential scan on %s filtering by %s", node.RelationName, cols)
	hint.SQL = fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s);",
		node.RelationName, strings.Join(hint.Columns, "_"), node.RelationName, cols)
	return hint, true
}

// scanPriority scores a scan by estimated cost, row count, and how much
// the filter discards.
func scanPriority(node PlanNode) string {
	score := 0

	switch {
	case node.TotalCost > 10000:
		score += 3
	case node.TotalCost > 1000:
		score += 2
	case node.TotalCost > 100:
		score++
	}

	switch {
	case node.PlanRows > 10000:
		score += 2
	case node.PlanRows > 1000:
		score++
	}

	switch {
	case node.RowsRemovedByFilter > 1000:
		score += 2
	case node.RowsRemovedByFilter > 100:
		score++
	}

	switch {
	case score >= 5:
		return "high"
	case score >= 2:
		return "medium"
	}
	return "low"
}

var columnNameRegex = regexp.MustCompile(`^[A-Za-z_]\w*$`)

// filterColumns pulls likely column names out of a filter expression such
// as "((status)::text = 'active'::text)". Qualified references keep only
// the column part.
func filterColumns(filter string) []string {
	for _, cast := range []string{"::text", "::integer", "::bigint", "::boolean", "::uuid", "::timestamp"} {
		filter = strings.ReplaceAll(filter, cast, "")
	}

	var columns []string
	seen := make(map[string]bool)
	words := strings.Fields(filter)
	for i, word := range words {
		if i == len(words)-1 {
			break
		}
		switch words[i+1] {
		case "=", "IS", ">", "<", ">=", "<=", "!=", "<>":
		default:
			continue
		}
		word = strings.Trim(word, "()[]")
		if dot := strings.LastIndex(word, "."); dot >= 0 {
			word = word[dot+1:]
		}
		if columnNameRegex.MatchString(word) && !seen[word] {
			seen[word] = true
			columns = append(columns, word)
		}
	}
	return columns
}
