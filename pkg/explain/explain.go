// Package explain runs slow statements through PostgreSQL's EXPLAIN and
// turns the JSON plan into something reviewable: a rendered plan tree,
// index hints pulled from sequential scans, and the same heuristic
// suggestions the analyzer would emit for the statement.
package explain

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	_ "github.com/lib/pq"

	"query-watcher/pkg/slowquery"
)

// Request describes a statement to plan. Variables hold positional bind
// values keyed by number ("1", "2", ...), matching the $1/$2 placeholders
// the application logs alongside the statement.
type Request struct {
	Query            string            `json:"query"`
	Variables        map[string]string `json:"variables,omitempty"`
	ConnectionString string            `json:"connectionString,omitempty"`
}

// Response carries the plan back to the caller. Failures are reported in
// Error rather than as a request failure, so a statement that cannot be
// planned still comes back formatted and with suggestions.
type Response struct {
	QueryPlan      []map[string]interface{} `json:"queryPlan,omitempty"`
	PlanText       string                   `json:"planText,omitempty"`
	Hints          []IndexHint              `json:"hints,omitempty"`
	Suggestions    []string                 `json:"suggestions,omitempty"`
	Error          string                   `json:"error,omitempty"`
	Query          string                   `json:"query"`
	FormattedQuery string                   `json:"formattedQuery"`
}

// Planner holds the connection used for EXPLAIN queries.
type Planner struct {
	db *sql.DB
}

// Open connects to the database EXPLAIN runs against. An empty connection
// string falls back to DATABASE_URL, then to a local PostgreSQL instance.
func Open(connStr string) (*Planner, error) {
	if connStr == "" {
		connStr = os.Getenv("DATABASE_URL")
	}
	if connStr == "" {
		connStr = "host=localhost port=5432 user=postgres password=postgres dbname=postgres sslmode=disable"
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open explain database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping explain database: %w", err)
	}

	return &Planner{db: db}, nil
}

// Close closes the underlying connection. Safe on a nil planner.
func (p *Planner) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Explain plans the request's query and fills in the rendered tree, index
// hints, and heuristic suggestions. The formatted query and suggestions
// are populated even when no database is reachable.
func (p *Planner) Explain(req Request) Response {
	resp := Response{
		Query:       req.Query,
		Suggestions: slowquery.Suggestions(req.Query),
	}

	query := req.Query
	displayQuery := query
	if len(req.Variables) > 0 {
		displayQuery = substituteVariables(query, req.Variables)
	}
	resp.Query = displayQuery
	resp.FormattedQuery = FormatSQL(displayQuery)

	var targetDB *sql.DB
	if req.ConnectionString != "" {
		// A per-request connection string overrides the default database.
		tempDB, err := sql.Open("postgres", req.ConnectionString)
		if err != nil {
			resp.Error = fmt.Sprintf("Error connecting to database: %v", err)
			return resp
		}
		defer tempDB.Close()
		if err := tempDB.Ping(); err != nil {
			resp.Error = fmt.Sprintf("Error connecting to database: %v", err)
			return resp
		}
		targetDB = tempDB
	} else {
		if p == nil || p.db == nil {
			resp.Error = "Database connection not configured. Set DATABASE_URL or provide connectionString."
			return resp
		}
		targetDB = p.db
	}

	// Writes are planned without ANALYZE so they never execute. The check
	// is substring-based to catch writes wrapped in CTEs.
	queryUpper := strings.ToUpper(query)
	explainQuery := "EXPLAIN (ANALYZE, COSTS, VERBOSE, BUFFERS, FORMAT JSON) " + query
	if strings.Contains(queryUpper, "INSERT INTO") ||
		strings.Contains(queryUpper, "UPDATE ") ||
		strings.Contains(queryUpper, "DELETE FROM") {
		explainQuery = "EXPLAIN (COSTS, VERBOSE, FORMAT JSON) " + query
	}

	var (
		rows *sql.Rows
		err  error
	)
	if len(req.Variables) > 0 {
		args := make([]interface{}, 0, len(req.Variables))
		for i := 1; ; i++ {
			val, ok := req.Variables[fmt.Sprintf("%d", i)]
			if !ok {
				break
			}
			args = append(args, val)
		}
		slog.Info("running EXPLAIN", "query", explainQuery, "args", args,
			"connection", redactConnectionString(req.ConnectionString))
		rows, err = targetDB.Query(explainQuery, args...)
	} else {
		slog.Debug("running EXPLAIN", "query", explainQuery)
		rows, err = targetDB.Query(explainQuery)
	}
	if err != nil {
		resp.Error = fmt.Sprintf("Error running EXPLAIN: %v", err)
		return resp
	}
	defer rows.Close()

	var planJSON string
	for rows.Next() {
		var chunk string
		if err := rows.Scan(&chunk); err != nil {
			resp.Error = fmt.Sprintf("Error scanning result: %v", err)
			return resp
		}
		planJSON += chunk
	}
	if err := rows.Err(); err != nil {
		resp.Error = fmt.Sprintf("Error iterating results: %v", err)
		return resp
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal([]byte(planJSON), &raw); err != nil {
		resp.Error = fmt.Sprintf("Error parsing EXPLAIN JSON: %v", err)
		return resp
	}
	resp.QueryPlan = raw

	if plans, err := DecodePlans(raw); err == nil {
		resp.PlanText = FormatPlanText(plans)
		resp.Hints = PlanHints(plans)
	}

	return resp
}

var (
	placeholderRegex = regexp.MustCompile(`\$(\d+)`)
	numberValueRegex = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

	// Compound keywords come first so "LEFT JOIN" is consumed as a unit
	// before the bare "JOIN" alternative can split it.
	sqlKeywordRegex = regexp.MustCompile(`(?i)\b(INNER JOIN|LEFT JOIN|RIGHT JOIN|GROUP BY|ORDER BY|UNION ALL|INSERT INTO|DELETE FROM|SELECT|FROM|WHERE|AND|OR|JOIN|UNION|HAVING|LIMIT|OFFSET|UPDATE|VALUES|SET)\b`)
)

// substituteVariables inlines $1, $2, ... placeholders for display.
// Values are typed loosely: NULL and booleans pass through, numbers stay
// bare, everything else is quoted with embedded quotes doubled.
func substituteVariables(query string, variables map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(query, func(match string) string {
		val, ok := variables[match[1:]]
		if !ok {
			return match
		}
		trimmed := strings.TrimSpace(val)
		if trimmed == "" || strings.EqualFold(trimmed, "NULL") {
			return "NULL"
		}
		switch val {
		case "true", "false", "TRUE", "FALSE":
			return val
		}
		if numberValueRegex.MatchString(val) {
			return val
		}
		return fmt.Sprintf("'%s'", strings.ReplaceAll(val, "'", "''"))
	})
}

// FormatSQL breaks a statement into one clause per line. The statement is
// collapsed to a single line first so indentation from the source log does
// not leak into the output; AND/OR are indented under their clause.
func FormatSQL(query string) string {
	query = strings.Join(strings.Fields(query), " ")

	query = sqlKeywordRegex.ReplaceAllStringFunc(query, func(match string) string {
		upper := strings.ToUpper(match)
		if upper == "AND" || upper == "OR" {
			return "\n  " + upper
		}
		return "\n" + upper
	})

	var formatted []string
	for _, line := range strings.Split(query, "\n") {
		line = strings.TrimRight(line, " ")
		if line != "" {
			formatted = append(formatted, line)
		}
	}
	return strings.Join(formatted, "\n")
}

// redactConnectionString strips credentials from a postgres:// URL before
// it reaches the logs.
func redactConnectionString(connStr string) string {
	parts := strings.Split(connStr, "@")
	if len(parts) != 2 {
		return connStr
	}
	return "postgres://" + parts[1]
}
