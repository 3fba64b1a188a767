package explain

import (
	"strings"
	"testing"
)

func TestPlanHintsSeqScan(t *testing.T) {
	plans := []Plan{{
		Plan: PlanNode{
			NodeType:            "Seq Scan",
			RelationName:        "orders",
			TotalCost:           2000,
			PlanRows:            15000,
			RowsRemovedByFilter: 14000,
			Filter:              "((status)::text = 'active'::text)",
		},
	}}

	hints := PlanHints(plans)
	if len(hints) != 1 {
		t.Fatalf("Expected 1 hint, got %d", len(hints))
	}

	hint := hints[0]
	if hint.Table != "orders" {
		t.Errorf("Expected table orders, got %s", hint.Table)
	}
	if len(hint.Columns) != 1 || hint.Columns[0] != "status" {
		t.Errorf("Expected columns [status], got %v", hint.Columns)
	}
	if hint.Priority != "high" {
		t.Errorf("Expected high priority, got %s", hint.Priority)
	}
	expectedSQL := "CREATE INDEX idx_orders_status ON orders (status);"
	if hint.SQL != expectedSQL {
		t.Errorf("Expected %q, got %q", expectedSQL, hint.SQL)
	}
	if !strings.Contains(hint.Reason, "filtering by status") {
		t.Errorf("Expected reason to name the filter column, got %q", hint.Reason)
	}
}

func TestPlanHintsUnfilteredScan(t *testing.T) {
	plans := []Plan{{
		Plan: PlanNode{
			NodeType:     "Seq Scan",
			RelationName: "users",
			TotalCost:    50000,
			PlanRows:     100000,
		},
	}}

	if hints := PlanHints(plans); len(hints) != 0 {
		t.Errorf("Expected no hints for unfiltered scan, got %v", hints)
	}
}

func TestPlanHintsSmallTable(t *testing.T) {
	plans := []Plan{{
		Plan: PlanNode{
			NodeType:            "Seq Scan",
			RelationName:        "settings",
			TotalCost:           5,
			PlanRows:            40,
			RowsRemovedByFilter: 2,
			Filter:              "(id = 1)",
		},
	}}

	if hints := PlanHints(plans); len(hints) != 0 {
		t.Errorf("Expected no hints for small table scan, got %v", hints)
	}
}

func TestPlanHintsNestedLoopLookups(t *testing.T) {
	plans := []Plan{{
		Plan: PlanNode{
			NodeType: "Nested Loop",
			Plans: []PlanNode{
				{NodeType: "Seq Scan", RelationName: "users", PlanRows: 50},
				{
					NodeType:     "Index Scan",
					IndexName:    "idx_posts_user_id",
					RelationName: "posts",
					ActualLoops:  48,
				},
			},
		},
	}}

	hints := PlanHints(plans)
	if len(hints) != 1 {
		t.Fatalf("Expected 1 hint, got %d", len(hints))
	}
	if hints[0].Table != "posts" {
		t.Errorf("Expected table posts, got %s", hints[0].Table)
	}
	if hints[0].Priority != "medium" {
		t.Errorf("Expected medium priority, got %s", hints[0].Priority)
	}
	if !strings.Contains(hints[0].Reason, "executed 48 times") {
		t.Errorf("Expected loop count in reason, got %q", hints[0].Reason)
	}
}

func TestPlanHintsHighLoopCount(t *testing.T) {
	plans := []Plan{{
		Plan: PlanNode{
			NodeType:     "Index Scan",
			RelationName: "comments",
			ActualLoops:  150,
		},
	}}

	hints := PlanHints(plans)
	if len(hints) != 1 {
		t.Fatalf("Expected 1 hint, got %d", len(hints))
	}
	if hints[0].Priority != "high" {
		t.Errorf("Expected high priority at 150 loops, got %s", hints[0].Priority)
	}
}

func TestPlanHintsPriorityOrder(t *testing.T) {
	plans := []Plan{{
		Plan: PlanNode{
			NodeType: "Nested Loop",
			Plans: []PlanNode{
				{NodeType: "Index Scan", RelationName: "comments", ActualLoops: 20},
				{
					NodeType:            "Seq Scan",
					RelationName:        "events",
					TotalCost:           20000,
					PlanRows:            50000,
					RowsRemovedByFilter: 49000,
					Filter:              "(tenant_id = 7)",
				},
			},
		},
	}}

	hints := PlanHints(plans)
	if len(hints) != 2 {
		t.Fatalf("Expected 2 hints, got %d", len(hints))
	}
	if hints[0].Table != "events" || hints[0].Priority != "high" {
		t.Errorf("Expected high priority events hint first, got %s (%s)", hints[0].Table, hints[0].Priority)
	}
	if hints[1].Table != "comments" || hints[1].Priority != "medium" {
		t.Errorf("Expected medium priority comments hint second, got %s (%s)", hints[1].Table, hints[1].Priority)
	}
}

func TestFilterColumns(t *testing.T) {
	tests := []struct {
		name     string
		filter   string
		expected []string
	}{
		{
			name:     "cast expression",
			filter:   "((status)::text = 'active'::text)",
			expected: []string{"status"},
		},
		{
			name:     "qualified column keeps the column part",
			filter:   "(users.email = 'x@y.com'::text)",
			expected: []string{"email"},
		},
		{
			name:     "duplicate columns deduplicated",
			filter:   "((a = 1) AND (a = 2))",
			expected: []string{"a"},
		},
		{
			name:     "is null check",
			filter:   "(deleted_at IS NULL)",
			expected: []string{"deleted_at"},
		},
		{
			name:     "comparison operator",
			filter:   "(price > 100)",
			expected: []string{"price"},
		},
		{
			name:     "empty filter",
			filter:   "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := filterColumns(tt.filter)
			if len(result) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, result)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("Expected %v, got %v", tt.expected, result)
				}
			}
		})
	}
}
