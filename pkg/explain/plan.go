package explain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlanNode mirrors the fields PostgreSQL emits for EXPLAIN (FORMAT JSON).
type PlanNode struct {
	NodeType            string      `json:"Node Type"`
	RelationName        string      `json:"Relation Name,omitempty"`
	Alias               string      `json:"Alias,omitempty"`
	IndexName           string      `json:"Index Name,omitempty"`
	StartupCost         float64     `json:"Startup Cost,omitempty"`
	TotalCost           float64     `json:"Total Cost,omitempty"`
	PlanRows            int         `json:"Plan Rows,omitempty"`
	PlanWidth           int         `json:"Plan Width,omitempty"`
	ActualStartupTime   float64     `json:"Actual Startup Time,omitempty"`
	ActualTotalTime     float64     `json:"Actual Total Time,omitempty"`
	ActualRows          int         `json:"Actual Rows,omitempty"`
	ActualLoops         int         `json:"Actual Loops,omitempty"`
	Filter              string      `json:"Filter,omitempty"`
	RowsRemovedByFilter int         `json:"Rows Removed by Filter,omitempty"`
	IndexCond           string      `json:"Index Cond,omitempty"`
	HashCond            string      `json:"Hash Cond,omitempty"`
	JoinFilter          string      `json:"Join Filter,omitempty"`
	SortKey             interface{} `json:"Sort Key,omitempty"` // string or array
	Plans               []PlanNode  `json:"Plans,omitempty"`
}

// Plan is one EXPLAIN result. ANALYZE adds the timing footer fields.
type Plan struct {
	Plan          PlanNode `json:"Plan"`
	PlanningTime  float64  `json:"Planning Time,omitempty"`
	ExecutionTime float64  `json:"Execution Time,omitempty"`
}

// DecodePlans converts raw EXPLAIN (FORMAT JSON) output into typed plans.
func DecodePlans(raw []map[string]interface{}) ([]Plan, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	var plans []Plan
	if err := json.Unmarshal(buf, &plans); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return plans, nil
}

// FormatPlanText renders plans in the familiar EXPLAIN text layout, with
// child nodes drawn as a tree and conditions listed under their node.
func FormatPlanText(plans []Plan) string {
	var output []string

	var formatNode func(node PlanNode, indent int, isLast bool, prefix string)
	formatNode = func(node PlanNode, indent int, isLast bool, prefix string) {
		line := ""
		if indent > 0 {
			if isLast {
				line = prefix + "└─ "
			} else {
				line = prefix + "├─ "
			}
		}

		line += node.NodeType
		if node.IndexName != "" {
			line += " using " + node.IndexName
		}
		if node.RelationName != "" {
			line += " on " + node.RelationName
			if node.Alias != "" && node.Alias != node.RelationName {
				line += " " + node.Alias
			}
		}

		line += fmt.Sprintf("  (cost=%.2f..%.2f rows=%d width=%d)",
			node.StartupCost, node.TotalCost, node.PlanRows, node.PlanWidth)

		if node.ActualStartupTime > 0 || node.ActualTotalTime > 0 {
			loops := node.ActualLoops
			if loops == 0 {
				loops = 1
			}
			line += fmt.Sprintf(" (actual time=%.3f..%.3f rows=%d loops=%d)",
				node.ActualStartupTime, node.ActualTotalTime, node.ActualRows, loops)
		}

		output = append(output, line)

		childPrefix := prefix
		if isLast {
			childPrefix += "   "
		} else {
			childPrefix += "│  "
		}

		if node.Filter != "" {
			output = append(output, childPrefix+"Filter: "+node.Filter)
			if node.RowsRemovedByFilter > 0 {
				output = append(output, childPrefix+fmt.Sprintf("Rows Removed by Filter: %d", node.RowsRemovedByFilter))
			}
		}
		if node.IndexCond != "" {
			output = append(output, childPrefix+"Index Cond: "+node.IndexCond)
		}
		if node.HashCond != "" {
			output = append(output, childPrefix+"Hash Cond: "+node.HashCond)
		}
		if node.JoinFilter != "" {
			output = append(output, childPrefix+"Join Filter: "+node.JoinFilter)
		}
		if keys := sortKeyList(node.SortKey); len(keys) > 0 {
			output = append(output, childPrefix+"Sort Key: "+strings.Join(keys, ", "))
		}

		for i, child := range node.Plans {
			formatNode(child, indent+1, i == len(node.Plans)-1, childPrefix)
		}
	}

	for i, plan := range plans {
		if i > 0 {
			output = append(output, "")
		}
		formatNode(plan.Plan, 0, true, "")
		if plan.PlanningTime > 0 {
			output = append(output, fmt.Sprintf("Planning Time: %.3f ms", plan.PlanningTime))
		}
		if plan.ExecutionTime > 0 {
			output = append(output, fmt.Sprintf("Execution Time: %.3f ms", plan.ExecutionTime))
		}
	}

	return strings.Join(output, "\n")
}

// sortKeyList normalizes the Sort Key field, which PostgreSQL emits as an
// array but decodes as []interface{} through the raw plan maps.
func sortKeyList(sortKey interface{}) []string {
	switch v := sortKey.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		keys := make([]string, 0, len(v))
		for _, k := range v {
			keys = append(keys, fmt.Sprint(k))
		}
		return keys
	}
	return nil
}
