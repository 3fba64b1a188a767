package report

import (
	"fmt"
	"io"

	"query-watcher/pkg/monitor"
	"query-watcher/pkg/sqlnorm"
	"query-watcher/pkg/store"
)

const statementWidth = 100

// RenderRun writes a plain-text summary of a run.
func RenderRun(w io.Writer, detail *store.RunDetail) {
	run := detail.Run

	label := run.Label
	if label == "" {
		label = "unlabeled"
	}
	fmt.Fprintf(w, "Run #%d %q", run.ID, label)
	if run.Source != "" {
		fmt.Fprintf(w, " (%s)", run.Source)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "Finished: %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Queries:  %d (total %.2fms)\n", run.TotalQueries, run.TotalDurationMS)

	if len(detail.Findings) > 0 {
		fmt.Fprintf(w, "\nFindings (%d)\n", len(detail.Findings))
		for _, f := range detail.Findings {
			renderFinding(w, f)
		}
	}

	if len(detail.QueryStats) > 0 {
		fmt.Fprintf(w, "\nTop statements by total time\n")
		fmt.Fprintf(w, "%7s %11s %9s %9s  %s\n", "CALLS", "TOTAL", "AVG", "MAX", "STATEMENT")
		for _, s := range detail.QueryStats {
			fmt.Fprintf(w, "%7d %9.2fms %7.2fms %7.2fms  %s\n",
				s.Calls, s.TotalDurationMS, s.AvgDurationMS, s.MaxDurationMS,
				sqlnorm.Truncate(s.NormalizedQuery, statementWidth))
		}
	}
}

func renderFinding(w io.Writer, f store.Finding) {
	switch f.Kind {
	case monitor.KindNPlusOne:
		fmt.Fprintf(w, "  [%s] %dx %s", f.Kind, f.RepeatCount, sqlnorm.Truncate(f.SQL, statementWidth))
		if f.Model != "" {
			fmt.Fprintf(w, " (model %s)", f.Model)
		}
		if f.RequestID != "" {
			fmt.Fprintf(w, " request=%s", f.RequestID)
		}
		fmt.Fprintln(w)
	case monitor.KindSlowQuery:
		fmt.Fprintf(w, "  [%s] %.2fms %s\n", f.Kind, f.DurationMS, sqlnorm.Truncate(f.SQL, statementWidth))
		for _, s := range f.Suggestions {
			fmt.Fprintf(w, "      - %s\n", s)
		}
	default:
		fmt.Fprintf(w, "  [%s] %s\n", f.Kind, sqlnorm.Truncate(f.SQL, statementWidth))
	}
}

// RenderComparison writes a plain-text diff of two runs.
func RenderComparison(w io.Writer, cmp *Comparison) {
	fmt.Fprintf(w, "Comparing run #%d %q -> run #%d %q\n",
		cmp.Run1.ID, cmp.Run1.Label, cmp.Run2.ID, cmp.Run2.Label)
	fmt.Fprintf(w, "Queries: %d -> %d, total %.2fms -> %.2fms\n",
		cmp.Run1.TotalQueries, cmp.Run2.TotalQueries,
		cmp.Run1.TotalDurationMS, cmp.Run2.TotalDurationMS)

	if len(cmp.Improvements) > 0 {
		fmt.Fprintf(w, "\nImprovements (avg duration down more than %.0f%%)\n", significantPercent)
		for _, sc := range cmp.Improvements {
			renderStatComparison(w, sc)
		}
	}
	if len(cmp.Regressions) > 0 {
		fmt.Fprintf(w, "\nRegressions (avg duration up more than %.0f%%)\n", significantPercent)
		for _, sc := range cmp.Regressions {
			renderStatComparison(w, sc)
		}
	}
	if len(cmp.OnlyIn1) > 0 {
		fmt.Fprintf(w, "\nOnly in run #%d (%d)\n", cmp.Run1.ID, len(cmp.OnlyIn1))
		for _, s := range cmp.OnlyIn1 {
			fmt.Fprintf(w, "  %dx %s\n", s.Calls, sqlnorm.Truncate(s.NormalizedQuery, statementWidth))
		}
	}
	if len(cmp.OnlyIn2) > 0 {
		fmt.Fprintf(w, "\nOnly in run #%d (%d)\n", cmp.Run2.ID, len(cmp.OnlyIn2))
		for _, s := range cmp.OnlyIn2 {
			fmt.Fprintf(w, "  %dx %s\n", s.Calls, sqlnorm.Truncate(s.NormalizedQuery, statementWidth))
		}
	}
	if len(cmp.Improvements) == 0 && len(cmp.Regressions) == 0 &&
		len(cmp.OnlyIn1) == 0 && len(cmp.OnlyIn2) == 0 {
		fmt.Fprintln(w, "\nNo significant differences.")
	}
}

func renderStatComparison(w io.Writer, sc StatComparison) {
	fmt.Fprintf(w, "  %+6.1f%%  %.2fms -> %.2fms", sc.DiffPercent, sc.AvgDuration1, sc.AvgDuration2)
	if delta := sc.CallsDelta(); delta != 0 {
		fmt.Fprintf(w, "  (%dx -> %dx)", sc.Calls1, sc.Calls2)
	}
	fmt.Fprintf(w, "  %s\n", sqlnorm.Truncate(sc.NormalizedQuery, statementWidth))
}
