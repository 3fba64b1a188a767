package monitor

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type captureSink struct {
	findings []Finding
	records  []Record
}

func (c *captureSink) Emit(f Finding)         { c.findings = append(c.findings, f) }
func (c *captureSink) ObserveRecord(r Record) { c.records = append(c.records, r) }

func TestObserveRoutesSlowQueries(t *testing.T) {
	sink := &captureSink{}
	m := New(DefaultConfig(), sink)

	// Distinct query shapes so the repetition tracker stays quiet.
	m.Observe(Record{SQL: "SELECT a FROM ta ORDER BY a", DurationMS: 50})
	if len(sink.findings) != 0 {
		t.Errorf("Expected no findings below threshold, got %d", len(sink.findings))
	}

	m.Observe(Record{SQL: "SELECT b FROM tb ORDER BY b", DurationMS: 100})
	if len(sink.findings) != 0 {
		t.Errorf("Expected no finding at exactly the threshold, got %d", len(sink.findings))
	}

	m.Observe(Record{SQL: "SELECT c FROM tc ORDER BY c", DurationMS: 101})
	if len(sink.findings) != 1 {
		t.Fatalf("Expected 1 finding above threshold, got %d", len(sink.findings))
	}

	f := sink.findings[0]
	if f.Kind != KindSlowQuery {
		t.Errorf("Expected kind %q, got %q", KindSlowQuery, f.Kind)
	}
	if f.SlowQuery == nil || f.NPlusOne != nil {
		t.Errorf("Expected only the slow-query payload to be set")
	}
	if len(f.SlowQuery.Suggestions) == 0 {
		t.Errorf("Expected suggestions for an unbounded ORDER BY")
	}
}

func TestObserveRoutesNPlusOne(t *testing.T) {
	sink := &captureSink{}
	m := New(DefaultConfig(), sink)

	for i := 0; i < 3; i++ {
		m.Observe(Record{
			SQL:       fmt.Sprintf("SELECT * FROM posts WHERE user_id = %d", i),
			RequestID: "req-1",
			Source:    "app",
		})
	}

	if len(sink.findings) != 1 {
		t.Fatalf("Expected 1 finding, got %d", len(sink.findings))
	}
	f := sink.findings[0]
	if f.Kind != KindNPlusOne {
		t.Errorf("Expected kind %q, got %q", KindNPlusOne, f.Kind)
	}
	if f.Model != "Post" {
		t.Errorf("Expected model Post, got %q", f.Model)
	}
	if f.RequestID != "req-1" {
		t.Errorf("Expected request ID req-1, got %q", f.RequestID)
	}
	if f.Source != "app" {
		t.Errorf("Expected source app, got %q", f.Source)
	}
}

func TestObserveCanEmitBothKinds(t *testing.T) {
	sink := &captureSink{}
	m := New(DefaultConfig(), sink)

	// Third repetition that is also slow: one finding of each kind.
	m.Observe(Record{SQL: "SELECT * FROM posts WHERE user_id = 1", RequestID: "r"})
	m.Observe(Record{SQL: "SELECT * FROM posts WHERE user_id = 2", RequestID: "r"})
	m.Observe(Record{SQL: "SELECT * FROM posts WHERE user_id = 3", RequestID: "r", DurationMS: 500})

	if len(sink.findings) != 2 {
		t.Fatalf("Expected 2 findings, got %d", len(sink.findings))
	}
	if sink.findings[0].Kind != KindNPlusOne || sink.findings[1].Kind != KindSlowQuery {
		t.Errorf("Expected nplusone then slowquery, got %q then %q",
			sink.findings[0].Kind, sink.findings[1].Kind)
	}
}

func TestRecordObserverSeesEveryRecord(t *testing.T) {
	sink := &captureSink{}
	m := New(DefaultConfig(), sink)

	m.Observe(Record{SQL: "UPDATE t SET x=1", DurationMS: 1})
	m.Observe(Record{SQL: "SELECT 1", DurationMS: 1})

	if len(sink.records) != 2 {
		t.Errorf("Expected 2 observed records, got %d", len(sink.records))
	}
	if len(sink.findings) != 0 {
		t.Errorf("Expected no findings, got %d", len(sink.findings))
	}
}

func TestStatsCounters(t *testing.T) {
	m := New(DefaultConfig())

	for i := 0; i < 3; i++ {
		m.Observe(Record{SQL: "SELECT * FROM posts WHERE user_id = 1", RequestID: "r"})
	}
	m.Observe(Record{SQL: "SELECT 1", DurationMS: 999})
	m.ObserveCache(true)
	m.ObserveCache(false)

	s := m.Stats()
	if s.Records != 4 {
		t.Errorf("Expected 4 records, got %d", s.Records)
	}
	if s.NPlusOneFindings != 1 {
		t.Errorf("Expected 1 N+1 finding, got %d", s.NPlusOneFindings)
	}
	if s.SlowQueryFindings != 1 {
		t.Errorf("Expected 1 slow-query finding, got %d", s.SlowQueryFindings)
	}
	if s.Cache.Hits != 1 || s.Cache.Misses != 1 {
		t.Errorf("Expected 1 hit / 1 miss, got %d / %d", s.Cache.Hits, s.Cache.Misses)
	}
}

func TestKeyedEndRequest(t *testing.T) {
	sink := &captureSink{}
	m := New(DefaultConfig(), sink)

	m.Observe(Record{SQL: "SELECT * FROM posts WHERE id = 1", RequestID: "r"})
	m.Observe(Record{SQL: "SELECT * FROM posts WHERE id = 2", RequestID: "r"})
	m.EndRequest("r")
	m.Observe(Record{SQL: "SELECT * FROM posts WHERE id = 3", RequestID: "r"})

	if len(sink.findings) != 0 {
		t.Errorf("Expected no finding after the scope was released, got %d", len(sink.findings))
	}
}

func TestSingleScopeConfig(t *testing.T) {
	sink := &captureSink{}
	cfg := DefaultConfig()
	cfg.Keyed = false
	m := New(cfg, sink)

	// EndRequest must be harmless on the single-scope tracker.
	m.EndRequest("whatever")

	for i := 0; i < 3; i++ {
		m.Observe(Record{SQL: "SELECT * FROM posts WHERE id = 1", RequestID: "r"})
	}
	if len(sink.findings) != 1 {
		t.Errorf("Expected 1 finding from single-scope tracker, got %d", len(sink.findings))
	}
}

func TestRecentSlowAndReset(t *testing.T) {
	m := New(DefaultConfig())

	for i := 0; i < 5; i++ {
		m.Observe(Record{SQL: fmt.Sprintf("SELECT %d", i), DurationMS: 200})
	}

	if got := len(m.RecentSlow(3)); got != 3 {
		t.Errorf("Expected 3 recent slow queries, got %d", got)
	}

	m.Reset()
	if got := len(m.RecentSlow(10)); got != 0 {
		t.Errorf("Expected empty history after reset, got %d", got)
	}
}

func TestChannelSinkNeverBlocks(t *testing.T) {
	sink := NewChannelSink(2)

	for i := 0; i < 10; i++ {
		sink.Emit(Finding{Kind: KindSlowQuery})
	}

	if got := len(sink.C); got != 2 {
		t.Errorf("Expected 2 buffered findings, got %d", got)
	}
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewMetricsSink(reg)
	m := New(DefaultConfig(), sink)

	m.Observe(Record{SQL: "SELECT 1", DurationMS: 300})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"querywatch_records_total",
		"querywatch_findings_total",
		"querywatch_query_duration_ms",
	} {
		if !names[want] {
			t.Errorf("Expected metric %q to be registered, got %v", want, names)
		}
	}
}
