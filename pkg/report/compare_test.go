package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"query-watcher/pkg/monitor"
	"query-watcher/pkg/store"
)

func testRuns() (store.Run, store.Run) {
	run1 := store.Run{ID: 1, Label: "before", TotalQueries: 42, TotalDurationMS: 400, StartedAt: time.Now()}
	run2 := store.Run{ID: 2, Label: "after", TotalQueries: 12, TotalDurationMS: 150, StartedAt: time.Now()}
	return run1, run2
}

func TestCompare(t *testing.T) {
	run1, run2 := testRuns()

	stats1 := []store.QueryStat{
		{NormalizedQuery: "SELECT * FROM users WHERE id = ?", Calls: 40, AvgDurationMS: 5, TotalDurationMS: 200, SampleSQL: "SELECT * FROM users WHERE id = 1"},
		{NormalizedQuery: "SELECT * FROM orders", Calls: 1, AvgDurationMS: 100, TotalDurationMS: 100},
		{NormalizedQuery: "SELECT * FROM sessions WHERE token = ?", Calls: 1, AvgDurationMS: 2, TotalDurationMS: 2},
	}
	stats2 := []store.QueryStat{
		// Dropped from 40 calls to 1, faster
		{NormalizedQuery: "SELECT * FROM users WHERE id = ?", Calls: 1, AvgDurationMS: 2, TotalDurationMS: 2, SampleSQL: "SELECT * FROM users WHERE id = 1"},
		// Got much slower
		{NormalizedQuery: "SELECT * FROM orders", Calls: 1, AvgDurationMS: 140, TotalDurationMS: 140},
		// New statement
		{NormalizedQuery: "SELECT * FROM audit_log", Calls: 1, AvgDurationMS: 3, TotalDurationMS: 3},
	}

	cmp := Compare(run1, run2, stats1, stats2)

	if len(cmp.Common) != 2 {
		t.Fatalf("Expected 2 common statements, got %d", len(cmp.Common))
	}
	if len(cmp.OnlyIn1) != 1 || cmp.OnlyIn1[0].NormalizedQuery != "SELECT * FROM sessions WHERE token = ?" {
		t.Errorf("Expected sessions statement only in run 1, got %+v", cmp.OnlyIn1)
	}
	if len(cmp.OnlyIn2) != 1 || cmp.OnlyIn2[0].NormalizedQuery != "SELECT * FROM audit_log" {
		t.Errorf("Expected audit_log statement only in run 2, got %+v", cmp.OnlyIn2)
	}

	if len(cmp.Improvements) != 1 {
		t.Fatalf("Expected 1 improvement, got %d", len(cmp.Improvements))
	}
	imp := cmp.Improvements[0]
	if imp.NormalizedQuery != "SELECT * FROM users WHERE id = ?" {
		t.Errorf("Expected users statement to improve, got %s", imp.NormalizedQuery)
	}
	if imp.DiffPercent != -60 {
		t.Errorf("Expected -60%% diff, got %v", imp.DiffPercent)
	}
	if imp.CallsDelta() != -39 {
		t.Errorf("Expected calls delta -39, got %d", imp.CallsDelta())
	}

	if len(cmp.Regressions) != 1 {
		t.Fatalf("Expected 1 regression, got %d", len(cmp.Regressions))
	}
	reg := cmp.Regressions[0]
	if reg.NormalizedQuery != "SELECT * FROM orders" {
		t.Errorf("Expected orders statement to regress, got %s", reg.NormalizedQuery)
	}
	if reg.DiffPercent != 40 {
		t.Errorf("Expected +40%% diff, got %v", reg.DiffPercent)
	}
}

func TestCompareInsignificantChange(t *testing.T) {
	run1, run2 := testRuns()

	stats1 := []store.QueryStat{{NormalizedQuery: "SELECT ?", Calls: 1, AvgDurationMS: 100}}
	stats2 := []store.QueryStat{{NormalizedQuery: "SELECT ?", Calls: 1, AvgDurationMS: 105}}

	cmp := Compare(run1, run2, stats1, stats2)

	if len(cmp.Improvements) != 0 || len(cmp.Regressions) != 0 {
		t.Errorf("Expected a 5%% change to be neither improvement nor regression, got %d/%d",
			len(cmp.Improvements), len(cmp.Regressions))
	}
	if len(cmp.Common) != 1 {
		t.Errorf("Expected 1 common statement, got %d", len(cmp.Common))
	}
}

func TestCompareRegressionsSortedByImpact(t *testing.T) {
	run1, run2 := testRuns()

	stats1 := []store.QueryStat{
		{NormalizedQuery: "a", Calls: 1, AvgDurationMS: 10},
		{NormalizedQuery: "b", Calls: 1, AvgDurationMS: 10},
	}
	stats2 := []store.QueryStat{
		{NormalizedQuery: "a", Calls: 1, AvgDurationMS: 15}, // +50%
		{NormalizedQuery: "b", Calls: 1, AvgDurationMS: 30}, // +200%
	}

	cmp := Compare(run1, run2, stats1, stats2)

	if len(cmp.Regressions) != 2 {
		t.Fatalf("Expected 2 regressions, got %d", len(cmp.Regressions))
	}
	if cmp.Regressions[0].NormalizedQuery != "b" {
		t.Errorf("Expected the worst regression first, got %s", cmp.Regressions[0].NormalizedQuery)
	}
}

func TestRenderComparison(t *testing.T) {
	run1, run2 := testRuns()
	stats1 := []store.QueryStat{{NormalizedQuery: "SELECT * FROM orders", Calls: 1, AvgDurationMS: 100}}
	stats2 := []store.QueryStat{{NormalizedQuery: "SELECT * FROM orders", Calls: 1, AvgDurationMS: 140}}

	var buf bytes.Buffer
	RenderComparison(&buf, Compare(run1, run2, stats1, stats2))
	out := buf.String()

	if !strings.Contains(out, "Regressions") {
		t.Errorf("Expected a regressions section, got:\n%s", out)
	}
	if !strings.Contains(out, "SELECT * FROM orders") {
		t.Errorf("Expected the statement in the output, got:\n%s", out)
	}
	if !strings.Contains(out, "+40.0%") {
		t.Errorf("Expected the diff percentage, got:\n%s", out)
	}
}

func TestRenderRun(t *testing.T) {
	finished := time.Now()
	detail := &store.RunDetail{
		Run: store.Run{ID: 7, Label: "baseline", Source: "dev.log", StartedAt: time.Now(), FinishedAt: &finished, TotalQueries: 10, TotalDurationMS: 55.5},
		Findings: []store.Finding{
			{Kind: monitor.KindNPlusOne, Model: "Post", RepeatCount: 3, SQL: `SELECT "posts".* FROM "posts"`, RequestID: "req-1"},
			{Kind: monitor.KindSlowQuery, DurationMS: 412.5, SQL: "SELECT * FROM orders", Suggestions: []string{"Avoid SELECT * - select only the columns you need"}},
		},
		QueryStats: []store.QueryStat{
			{NormalizedQuery: "SELECT ?", Calls: 10, TotalDurationMS: 55.5, AvgDurationMS: 5.55, MaxDurationMS: 20},
		},
	}

	var buf bytes.Buffer
	RenderRun(&buf, detail)
	out := buf.String()

	for _, want := range []string{"Run #7", "baseline", "Findings (2)", "3x", "model Post", "412.50ms", "Avoid SELECT *", "STATEMENT"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestWriteHTML(t *testing.T) {
	run1, run2 := testRuns()
	stats1 := []store.QueryStat{{NormalizedQuery: "SELECT * FROM orders", Calls: 1, AvgDurationMS: 100, SampleSQL: "SELECT * FROM orders"}}
	stats2 := []store.QueryStat{{NormalizedQuery: "SELECT * FROM orders", Calls: 1, AvgDurationMS: 140, SampleSQL: "SELECT * FROM orders"}}

	var buf bytes.Buffer
	if err := WriteHTML(&buf, Compare(run1, run2, stats1, stats2)); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<!DOCTYPE html>") {
		t.Error("Expected an HTML document")
	}
	if !strings.Contains(out, "Regressions") {
		t.Error("Expected a regressions section")
	}
	if !strings.Contains(out, "SELECT * FROM orders") {
		t.Error("Expected the statement in the page")
	}
}
