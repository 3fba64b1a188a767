// Package source extracts query-execution records from structured
// application logs, either from files or from live Docker container
// streams. Lines that don't carry a query or cache event are dropped;
// malformed lines never stop a stream.
package source

import (
	"bufio"
	"encoding/json"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Entry is one parsed log line. Fields holds key=value pairs from the
// line body; for JSON lines, scalar values are flattened into Fields so
// extraction works the same way for both formats.
type Entry struct {
	Raw       string            `json:"raw"`
	Timestamp string            `json:"timestamp"`
	Level     string            `json:"level"`
	File      string            `json:"file"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields"`
	IsJSON    bool              `json:"isJson"`
}

var (
	timestampRegex = regexp.MustCompile(`(\d{4}[-/]\d{2}[-/]\d{2}[T\s]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?|\d{1,2}\s+\w+\s+\d{4}\s+\d{2}:\d{2}:\d{2}(?:\.\d+)?|\w+\s+\d+\s+\d+:\d+:\d+(?:\.\d+)?|\d{2}:\d{2}:\d{2}(?:\.\d+)?)`)
	levelRegex     = regexp.MustCompile(`\b(FATAL|DEBUG|INFO|WARN|ERROR|DBG|TRC|INF|WRN|ERR)\b`)
	// Source references from instrumented apps: Go, Ruby, Python, JS.
	fileRegex = regexp.MustCompile(`([\w/.-]+\.(?:go|rb|py|js|ts):\d+)`)
	ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHfABCDsuJSTlh]|\x1b\][^\x07]*\x07|\x1b[>=]|\x1b\[?[\d;]*[a-zA-Z]`)
)

// newLineScanner builds a scanner sized for long statement lines.
func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}

func stripANSI(s string) string {
	cleaned := ansiRegex.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, cleaned)
}

// ParseLine never fails; unrecognized lines come back with the whole
// text in Message and empty Fields.
func ParseLine(line string) *Entry {
	entry := &Entry{
		Raw:    line,
		Fields: make(map[string]string),
	}

	if strings.TrimSpace(line) == "" {
		return entry
	}

	line = stripANSI(line)

	if parseJSONLine(line, entry) {
		return entry
	}

	remaining := line

	if m := timestampRegex.FindStringSubmatch(remaining); len(m) > 1 {
		entry.Timestamp = m[1]
		idx := strings.Index(remaining, m[1])
		remaining = strings.TrimSpace(remaining[idx+len(m[1]):])
	}

	if m := levelRegex.FindStringSubmatch(remaining); len(m) > 0 {
		entry.Level = m[0]
		remaining = strings.TrimSpace(strings.Replace(remaining, m[0], "", 1))
	}

	if m := fileRegex.FindStringSubmatch(remaining); len(m) > 1 {
		entry.File = m[1]
		remaining = strings.TrimSpace(strings.Replace(remaining, m[0], "", 1))
	}

	remaining = strings.TrimSpace(strings.TrimPrefix(remaining, ">"))

	fields := parseKeyValuePairs(remaining)
	if len(fields) == 0 {
		entry.Message = remaining
		return entry
	}
	entry.Fields = fields

	// Everything before the first field assignment is the message.
	firstIdx := -1
	for k := range fields {
		if idx := strings.Index(remaining, k+"="); idx >= 0 && (firstIdx < 0 || idx < firstIdx) {
			firstIdx = idx
		}
	}
	if firstIdx > 0 {
		entry.Message = strings.TrimSpace(remaining[:firstIdx])
	}

	return entry
}

func parseJSONLine(line string, entry *Entry) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !json.Valid([]byte(trimmed)) {
		return false
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return false
	}
	entry.IsJSON = true

	// Flatten scalars so field lookups work like key=value lines.
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			entry.Fields[k] = val
		case float64:
			entry.Fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			entry.Fields[k] = strconv.FormatBool(val)
		}
	}

	for _, key := range []string{"timestamp", "@timestamp", "time", "ts"} {
		if ts, ok := entry.Fields[key]; ok {
			entry.Timestamp = ts
			break
		}
	}
	for _, key := range []string{"level", "severity", "lvl"} {
		if lvl, ok := entry.Fields[key]; ok {
			entry.Level = lvl
			break
		}
	}
	for _, key := range []string{"message", "msg", "log"} {
		if msg, ok := entry.Fields[key]; ok {
			entry.Message = msg
			break
		}
	}
	return true
}

// parseKeyValuePairs scans key=value pairs, honoring double-quoted
// values with escapes and balancing {...} and [...] values.
func parseKeyValuePairs(s string) map[string]string {
	fields := make(map[string]string)
	i := 0

	for i < len(s) {
		keyStart := i
		for i < len(s) && isKeyChar(s[i]) {
			i++
		}
		if i >= len(s) || s[i] != '=' || i == keyStart {
			i++
			continue
		}
		key := s[keyStart:i]
		i++
		if i >= len(s) {
			break
		}

		var value string
		value, i = scanValue(s, i)
		fields[key] = value

		for i < len(s) && s[i] == ' ' {
			i++
		}
	}
	return fields
}

func isKeyChar(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func scanValue(s string, i int) (string, int) {
	switch s[i] {
	case '"':
		i++
		start := i
		for i < len(s) && s[i] != '"' {
			if s[i] == '\\' && i+1 < len(s) {
				i += 2
			} else {
				i++
			}
		}
		value := s[start:i]
		if i < len(s) {
			i++
		}
		return value, i
	case '{':
		return scanBalanced(s, i, '{', '}')
	case '[':
		return scanBalanced(s, i, '[', ']')
	default:
		start := i
		for i < len(s) && s[i] != ' ' {
			i++
		}
		return s[start:i], i
	}
}

func scanBalanced(s string, i int, open, close byte) (string, int) {
	start := i
	depth := 1
	i++
	for i < len(s) && depth > 0 {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
		}
		i++
	}
	return s[start:i], i
}
