package report

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

// WriteHTML renders a comparison as a standalone HTML page.
func WriteHTML(w io.Writer, cmp *Comparison) error {
	tmpl := template.Must(template.New("comparison").Funcs(template.FuncMap{
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
	}).Parse(htmlTemplate))

	data := struct {
		*Comparison
		Generated time.Time
	}{
		Comparison: cmp,
		Generated:  time.Now(),
	}
	return tmpl.Execute(w, data)
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Query Comparison Report</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif;
            background: #0d1117;
            color: #c9d1d9;
            padding: 20px;
            line-height: 1.6;
        }
        .container { max-width: 1200px; margin: 0 auto; }
        h1 { color: #58a6ff; margin-bottom: 10px; font-size: 1.8rem; }
        h2 { color: #8b949e; margin: 25px 0 10px; font-size: 1.1rem; text-transform: uppercase; letter-spacing: 0.05em; }
        .timestamp { color: #8b949e; font-size: 0.8rem; margin-bottom: 20px; }
        .metrics { display: grid; grid-template-columns: repeat(4, 1fr); gap: 10px; margin-bottom: 10px; }
        .metric { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px; }
        .metric-label { font-size: 0.75rem; color: #8b949e; text-transform: uppercase; }
        .metric-value { font-size: 1.3rem; font-weight: bold; color: #58a6ff; margin-top: 4px; }
        .query-item { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 10px; margin-bottom: 8px; }
        .query-item.regression { border-left: 3px solid #f85149; }
        .query-item.improvement { border-left: 3px solid #3fb950; }
        .query-header { display: flex; gap: 15px; font-size: 0.85rem; margin-bottom: 6px; }
        .diff-up { color: #f85149; font-weight: bold; }
        .diff-down { color: #3fb950; font-weight: bold; }
        .query-calls { color: #79c0ff; }
        .query-text { font-family: monospace; font-size: 0.82rem; background: #0d1117; padding: 8px; border-radius: 3px; overflow-x: auto; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Query Comparison Report</h1>
        <div class="timestamp">Generated: {{.Generated.Format "2006-01-02 15:04:05 MST"}}</div>

        <div class="metrics">
            <div class="metric">
                <div class="metric-label">Run #{{.Run1.ID}} {{.Run1.Label}}</div>
                <div class="metric-value">{{.Run1.TotalQueries}} queries</div>
            </div>
            <div class="metric">
                <div class="metric-label">Run #{{.Run1.ID}} total</div>
                <div class="metric-value">{{formatFloat .Run1.TotalDurationMS}}ms</div>
            </div>
            <div class="metric">
                <div class="metric-label">Run #{{.Run2.ID}} {{.Run2.Label}}</div>
                <div class="metric-value">{{.Run2.TotalQueries}} queries</div>
            </div>
            <div class="metric">
                <div class="metric-label">Run #{{.Run2.ID}} total</div>
                <div class="metric-value">{{formatFloat .Run2.TotalDurationMS}}ms</div>
            </div>
        </div>

        {{if .Regressions}}
        <h2>Regressions</h2>
        {{range .Regressions}}
        <div class="query-item regression">
            <div class="query-header">
                <span class="diff-up">+{{formatFloat .DiffPercent}}%</span>
                <span>{{formatFloat .AvgDuration1}}ms &rarr; {{formatFloat .AvgDuration2}}ms</span>
                <span class="query-calls">{{.Calls1}}x &rarr; {{.Calls2}}x</span>
            </div>
            <div class="query-text">{{.SampleSQL}}</div>
        </div>
        {{end}}
        {{end}}

        {{if .Improvements}}
        <h2>Improvements</h2>
        {{range .Improvements}}
        <div class="query-item improvement">
            <div class="query-header">
                <span class="diff-down">{{formatFloat .DiffPercent}}%</span>
                <span>{{formatFloat .AvgDuration1}}ms &rarr; {{formatFloat .AvgDuration2}}ms</span>
                <span class="query-calls">{{.Calls1}}x &rarr; {{.Calls2}}x</span>
            </div>
            <div class="query-text">{{.SampleSQL}}</div>
        </div>
        {{end}}
        {{end}}

        {{if .OnlyIn1}}
        <h2>Only in run #{{.Run1.ID}}</h2>
        {{range .OnlyIn1}}
        <div class="query-item">
            <div class="query-header"><span class="query-calls">{{.Calls}}x</span></div>
            <div class="query-text">{{.NormalizedQuery}}</div>
        </div>
        {{end}}
        {{end}}

        {{if .OnlyIn2}}
        <h2>Only in run #{{.Run2.ID}}</h2>
        {{range .OnlyIn2}}
        <div class="query-item">
            <div class="query-header"><span class="query-calls">{{.Calls}}x</span></div>
            <div class="query-text">{{.NormalizedQuery}}</div>
        </div>
        {{end}}
        {{end}}
    </div>
</body>
</html>
`
