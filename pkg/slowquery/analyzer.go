// Package slowquery turns slow SQL statements into deterministic,
// human-readable optimization hints by scanning the raw text. The rules
// are string heuristics, not a query planner: they trade exactness for
// zero overhead and total behavior on arbitrary input.
package slowquery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"query-watcher/pkg/sqlnorm"
)

const (
	// DefaultSlowThresholdMS is the advisory duration cutoff callers
	// compare against before invoking Analyze.
	DefaultSlowThresholdMS = 100.0

	// DefaultHistoryLimit bounds the in-memory finding history.
	DefaultHistoryLimit = 1000

	// DefaultRecentLimit is used by Recent when no limit is given.
	DefaultRecentLimit = 10

	storedSQLLimit = 500
	largeLimitMax  = 1000
	maxJoinCount   = 3
)

const (
	suggestAddIndex        = "Consider adding an index for the columns in the WHERE clause"
	suggestExplicitColumns = "Avoid SELECT * - select only the columns you need"
	suggestPagination      = "Large LIMIT value - consider paginating with smaller batches"
	suggestBoundedSort     = "ORDER BY without LIMIT may sort the entire result set"
	suggestSubquery        = "Subquery detected - consider rewriting as a JOIN or CTE"
	suggestLeadingWildcard = "Leading wildcard in LIKE prevents index usage"
	suggestUnionForOr      = "OR in WHERE may prevent index usage - consider UNION of indexed queries"
)

var (
	selectStarRegex   = regexp.MustCompile(`(?i)\bSELECT\s+\*`)
	limitValueRegex   = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	likeWildcardRegex = regexp.MustCompile(`(?i)\bLIKE\s*['"]%`)
	standaloneOrRegex = regexp.MustCompile(`\bOR\b`)
)

// Finding is the diagnostic record for one analyzed query. SQL is
// truncated to 500 chars for storage; Suggestions always reflect the
// untruncated text.
type Finding struct {
	SQL           string    `json:"sql"`
	DurationMS    float64   `json:"durationMs"`
	OperationName string    `json:"operationName,omitempty"`
	DetectedAt    time.Time `json:"detectedAt"`
	Suggestions   []string  `json:"suggestions"`
}

// Config controls the analyzer. Zero values fall back to the defaults
// above. SlowThresholdMS is exported for callers; Analyze itself never
// filters by duration, so the same analyzer serves different policies.
type Config struct {
	HistoryLimit    int
	SlowThresholdMS float64
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit:    DefaultHistoryLimit,
		SlowThresholdMS: DefaultSlowThresholdMS,
	}
}

// Analyzer applies the suggestion rules and retains a bounded,
// insertion-ordered history of findings. Safe for concurrent use.
type Analyzer struct {
	mu      sync.Mutex
	cfg     Config
	history []Finding
}

func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.SlowThresholdMS <= 0 {
		cfg.SlowThresholdMS = DefaultSlowThresholdMS
	}
	return &Analyzer{cfg: cfg}
}

// SlowThresholdMS exposes the configured advisory cutoff.
func (a *Analyzer) SlowThresholdMS() float64 {
	return a.cfg.SlowThresholdMS
}

// Analyze always succeeds: any text yields a well-formed finding, with
// an empty suggestion list when nothing matches. The caller decides
// what counts as slow; no threshold check happens here.
func (a *Analyzer) Analyze(sql string, durationMS float64, operationName string) Finding {
	finding := Finding{
		SQL:           sqlnorm.Truncate(sql, storedSQLLimit),
		DurationMS:    durationMS,
		OperationName: operationName,
		DetectedAt:    time.Now(),
		Suggestions:   Suggestions(sql),
	}

	a.mu.Lock()
	a.history = append(a.history, finding)
	if len(a.history) > a.cfg.HistoryLimit {
		a.history = a.history[len(a.history)-a.cfg.HistoryLimit:]
	}
	a.mu.Unlock()

	return finding
}

// Recent returns the last limit findings in insertion order. A
// non-positive limit means DefaultRecentLimit.
func (a *Analyzer) Recent(limit int) []Finding {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if limit > len(a.history) {
		limit = len(a.history)
	}
	out := make([]Finding, limit)
	copy(out, a.history[len(a.history)-limit:])
	return out
}

// Reset clears the history.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.history = nil
	a.mu.Unlock()
}

// Suggestions applies every rule to the full SQL text and returns the
// matches in rule order. Rules are independent: each match contributes
// exactly one suggestion regardless of what else matched.
func Suggestions(sql string) []string {
	upper := strings.ToUpper(sql)
	out := make([]string, 0)

	whereIdx := strings.Index(upper, "WHERE")

	if whereIdx >= 0 && !strings.Contains(upper, "INDEX") {
		out = append(out, suggestAddIndex)
	}
	if selectStarRegex.MatchString(sql) {
		out = append(out, suggestExplicitColumns)
	}
	if m := limitValueRegex.FindStringSubmatch(sql); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > largeLimitMax {
			out = append(out, suggestPagination)
		}
	}
	if strings.Contains(upper, "ORDER BY") && !strings.Contains(upper, "LIMIT") {
		out = append(out, suggestBoundedSort)
	}
	if joins := strings.Count(upper, "JOIN"); joins > maxJoinCount {
		out = append(out, fmt.Sprintf("Query has %d JOINs - consider restructuring or denormalizing", joins))
	}
	if strings.Count(upper, "SELECT") > 1 {
		out = append(out, suggestSubquery)
	}
	if likeWildcardRegex.MatchString(sql) {
		out = append(out, suggestLeadingWildcard)
	}
	if whereIdx >= 0 && standaloneOrRegex.MatchString(upper[whereIdx:]) {
		out = append(out, suggestUnionForOr)
	}

	return out
}
