package source

import (
	"testing"
)

func extract(t *testing.T, line, sourceName string) *Event {
	t.Helper()
	return Extract(ParseLine(line), sourceName)
}

func TestExtractMarkerQuery(t *testing.T) {
	line := `Oct  3 21:53:30.924888 TRC pkg/repository/user/repository.go:108 > [sql]: SELECT * FROM "users" WHERE id = $1 db.operation=select db.rows=1 db.table=users duration=21.697855 request_id=508e6ccc`

	ev := extract(t, line, "api")
	if ev == nil || ev.Record == nil {
		t.Fatal("Expected a query record")
	}

	rec := ev.Record
	if rec.SQL != `SELECT * FROM "users" WHERE id = $1` {
		t.Errorf("Expected statement after marker, got %q", rec.SQL)
	}
	if rec.DurationMS != 21.697855 {
		t.Errorf("Expected duration 21.697855, got %v", rec.DurationMS)
	}
	if rec.OperationName != "select" {
		t.Errorf("Expected operation select, got %q", rec.OperationName)
	}
	if rec.RequestID != "508e6ccc" {
		t.Errorf("Expected request_id 508e6ccc, got %q", rec.RequestID)
	}
	if rec.Source != "api" {
		t.Errorf("Expected source api, got %q", rec.Source)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Expected timestamp to be stamped")
	}
}

func TestExtractTypeQueryLine(t *testing.T) {
	line := `{"msg":"SELECT * FROM orders WHERE user_id = 5","type":"query","duration_ms":12.5,"request_id":"r-9"}`

	ev := extract(t, line, "worker")
	if ev == nil || ev.Record == nil {
		t.Fatal("Expected a query record")
	}
	if ev.Record.SQL != "SELECT * FROM orders WHERE user_id = 5" {
		t.Errorf("Expected message to be the statement, got %q", ev.Record.SQL)
	}
	if ev.Record.DurationMS != 12.5 {
		t.Errorf("Expected duration 12.5, got %v", ev.Record.DurationMS)
	}
}

func TestExtractDBStatementField(t *testing.T) {
	line := `2026-08-25T09:15:00Z INFO request finished db.statement="SELECT count(*) FROM jobs" db.duration=3.2 request_id=aa41`

	ev := extract(t, line, "api")
	if ev == nil || ev.Record == nil {
		t.Fatal("Expected a query record")
	}
	if ev.Record.SQL != "SELECT count(*) FROM jobs" {
		t.Errorf("Expected statement from db.statement, got %q", ev.Record.SQL)
	}
	if ev.Record.DurationMS != 3.2 {
		t.Errorf("Expected db.duration fallback 3.2, got %v", ev.Record.DurationMS)
	}
}

func TestExtractDurationPrecedence(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want float64
	}{
		{
			name: "duration_ms wins over duration",
			line: `INFO [sql]: SELECT 1 duration_ms=5.5 duration=9.9`,
			want: 5.5,
		},
		{
			name: "ms suffix is tolerated",
			line: `INFO [sql]: SELECT 1 duration=15ms`,
			want: 15,
		},
		{
			name: "missing duration defaults to zero",
			line: `INFO [sql]: SELECT 1 request_id=x`,
			want: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev := extract(t, tc.line, "api")
			if ev == nil || ev.Record == nil {
				t.Fatal("Expected a query record")
			}
			if ev.Record.DurationMS != tc.want {
				t.Errorf("Expected duration %v, got %v", tc.want, ev.Record.DurationMS)
			}
		})
	}
}

func TestExtractCacheEvents(t *testing.T) {
	hit := extract(t, `DEBUG cache read type=cache cache.hit=true key=users/7`, "api")
	if hit == nil || hit.CacheHit == nil {
		t.Fatal("Expected a cache event")
	}
	if !*hit.CacheHit {
		t.Error("Expected a cache hit")
	}
	if hit.Record != nil {
		t.Error("Cache events should not carry a query record")
	}

	miss := extract(t, `DEBUG cache read type=cache cache.hit=false key=users/8`, "api")
	if miss == nil || miss.CacheHit == nil {
		t.Fatal("Expected a cache event")
	}
	if *miss.CacheHit {
		t.Error("Expected a cache miss")
	}
}

func TestExtractIgnoresPlainLines(t *testing.T) {
	for _, line := range []string{
		"Server started on port 3000",
		"",
		`{"level":"info","msg":"listening"}`,
		`INFO GET /users 200 duration_ms=3.1`,
	} {
		if ev := extract(t, line, "api"); ev != nil {
			t.Errorf("Expected no event for %q, got %+v", line, ev)
		}
	}
}

func TestExtractSchemaOperationPassesThrough(t *testing.T) {
	line := `TRC [sql]: SELECT * FROM information_schema.tables db.operation=SCHEMA duration=0.2`

	ev := extract(t, line, "api")
	if ev == nil || ev.Record == nil {
		t.Fatal("Expected a query record")
	}
	if ev.Record.OperationName != "SCHEMA" {
		t.Errorf("Expected operation SCHEMA to pass through, got %q", ev.Record.OperationName)
	}
}
