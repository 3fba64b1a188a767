package report

import (
	"strings"
	"testing"

	"query-watcher/pkg/monitor"
)

var (
	_ monitor.Sink           = (*Collector)(nil)
	_ monitor.RecordObserver = (*Collector)(nil)
)

func TestCollectorAggregates(t *testing.T) {
	c := NewCollector()

	c.ObserveRecord(monitor.Record{SQL: "SELECT * FROM users WHERE id = 1", DurationMS: 4})
	c.ObserveRecord(monitor.Record{SQL: "SELECT * FROM users WHERE id = 2", DurationMS: 8})
	c.ObserveRecord(monitor.Record{SQL: "SELECT * FROM users WHERE id = 3", DurationMS: 6})
	c.ObserveRecord(monitor.Record{SQL: "SELECT * FROM orders", DurationMS: 100})

	stats := c.Stats()
	if len(stats) != 2 {
		t.Fatalf("Expected 2 distinct statements, got %d", len(stats))
	}

	// Heaviest first: orders (100ms total) over users (18ms total)
	if stats[0].NormalizedQuery != "SELECT * FROM orders" {
		t.Errorf("Expected orders statement first, got %s", stats[0].NormalizedQuery)
	}

	users := stats[1]
	if users.Calls != 3 {
		t.Errorf("Expected 3 calls, got %d", users.Calls)
	}
	if users.TotalDurationMS != 18 {
		t.Errorf("Expected total 18, got %v", users.TotalDurationMS)
	}
	if users.AvgDurationMS != 6 {
		t.Errorf("Expected avg 6, got %v", users.AvgDurationMS)
	}
	if users.MaxDurationMS != 8 {
		t.Errorf("Expected max 8, got %v", users.MaxDurationMS)
	}
	if users.SampleSQL != "SELECT * FROM users WHERE id = 1" {
		t.Errorf("Expected first occurrence as sample, got %s", users.SampleSQL)
	}

	totalQueries, totalDuration := c.Totals()
	if totalQueries != 4 {
		t.Errorf("Expected 4 total queries, got %d", totalQueries)
	}
	if totalDuration != 118 {
		t.Errorf("Expected total duration 118, got %v", totalDuration)
	}
}

func TestCollectorSkipsEmptyStatements(t *testing.T) {
	c := NewCollector()
	c.ObserveRecord(monitor.Record{SQL: "   ", DurationMS: 5})

	if stats := c.Stats(); len(stats) != 0 {
		t.Errorf("Expected no stats for blank statements, got %d", len(stats))
	}
}

func TestCollectorInterleavedLiterals(t *testing.T) {
	c := NewCollector()
	c.ObserveRecord(monitor.Record{SQL: `SELECT "posts".* FROM "posts" WHERE "posts"."user_id" = 7`, DurationMS: 1})
	c.ObserveRecord(monitor.Record{SQL: `SELECT "posts".* FROM "posts" WHERE "posts"."user_id" = 8`, DurationMS: 1})

	stats := c.Stats()
	if len(stats) != 1 {
		t.Fatalf("Expected literals to collapse into one statement, got %d", len(stats))
	}
	if stats[0].Calls != 2 {
		t.Errorf("Expected 2 calls, got %d", stats[0].Calls)
	}
	if !strings.Contains(stats[0].NormalizedQuery, "?") {
		t.Errorf("Expected placeholders in normalized form, got %s", stats[0].NormalizedQuery)
	}
}
