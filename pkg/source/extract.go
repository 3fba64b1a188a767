package source

import (
	"strconv"
	"strings"
	"time"

	"query-watcher/pkg/monitor"
)

// sqlMarker flags query lines in plain-text logs: everything after the
// marker is the statement.
const sqlMarker = "[sql]:"

// Event is one observation extracted from a log line: a query record,
// or a cache hit/miss.
type Event struct {
	Record   *monitor.Record
	CacheHit *bool
}

// Extract pulls a query or cache event out of a parsed line. Returns
// nil when the line carries neither.
//
// Query lines come in three shapes:
//   - a "[sql]:" marker in the message, statement after the marker
//   - type=query, the whole message is the statement
//   - a db.statement field holding the statement
func Extract(entry *Entry, sourceName string) *Event {
	if entry == nil {
		return nil
	}

	if entry.Fields["type"] == "cache" {
		hit := entry.Fields["cache.hit"] == "true"
		return &Event{CacheHit: &hit}
	}

	sql := extractSQL(entry)
	if sql == "" {
		return nil
	}

	rec := &monitor.Record{
		SQL:           sql,
		DurationMS:    extractDuration(entry.Fields),
		OperationName: entry.Fields["db.operation"],
		RequestID:     entry.Fields["request_id"],
		Source:        sourceName,
		Timestamp:     time.Now(),
	}
	return &Event{Record: rec}
}

func extractSQL(entry *Entry) string {
	if idx := strings.Index(entry.Message, sqlMarker); idx >= 0 {
		return strings.TrimSpace(entry.Message[idx+len(sqlMarker):])
	}
	if entry.Fields["type"] == "query" {
		return strings.TrimSpace(entry.Message)
	}
	if stmt := entry.Fields["db.statement"]; stmt != "" {
		return strings.TrimSpace(stmt)
	}
	return ""
}

func extractDuration(fields map[string]string) float64 {
	for _, key := range []string{"duration_ms", "duration", "db.duration"} {
		if v, ok := fields[key]; ok {
			v = strings.TrimSuffix(v, "ms")
			if d, err := strconv.ParseFloat(v, 64); err == nil {
				return d
			}
		}
	}
	return 0
}
