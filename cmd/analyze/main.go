// Command analyze runs the query analyzers over a captured log file and
// prints a report, optionally archiving the run so it can be compared
// against a later one.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"query-watcher/pkg/monitor"
	"query-watcher/pkg/report"
	"query-watcher/pkg/source"
	"query-watcher/pkg/store"
)

type Config struct {
	FilePath   string
	OutputFile string
	DBPath     string
	Label      string
	Save       bool
	Compare    bool
	Run1       int64
	Run2       int64
	JSON       bool
	Threshold  int
	SlowMS     float64
	Keyed      bool
}

func main() {
	config := parseFlags()

	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevel,
	})))

	if config.Compare {
		if config.Run1 == 0 || config.Run2 == 0 {
			flag.Usage()
			fmt.Fprintf(os.Stderr, "\nError: Both run IDs are required\n")
			os.Exit(1)
		}
		if config.DBPath == "" {
			flag.Usage()
			fmt.Fprintf(os.Stderr, "\nError: -db is required for comparison\n")
			os.Exit(1)
		}
		if err := runCompare(config); err != nil {
			slog.Error("comparison failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if config.Save && config.DBPath == "" {
		flag.Usage()
		fmt.Fprintf(os.Stderr, "\nError: -save requires -db\n")
		os.Exit(1)
	}

	if err := runAnalyze(config); err != nil {
		slog.Error("analysis failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() Config {
	var config Config

	flag.StringVar(&config.FilePath, "file", "-", "log file to analyze, - for stdin")
	flag.StringVar(&config.OutputFile, "output", "", "output file (defaults to stdout)")
	flag.StringVar(&config.DBPath, "db", "", "SQLite path for archiving and comparing runs")
	flag.StringVar(&config.Label, "label", "", "label for the archived run")
	flag.BoolVar(&config.Save, "save", false, "archive the analyzed run to -db")
	flag.BoolVar(&config.Compare, "compare", false, "compare two archived runs instead of analyzing a file")
	flag.Int64Var(&config.Run1, "run1", 0, "first run ID for comparison")
	flag.Int64Var(&config.Run2, "run2", 0, "second run ID for comparison")
	flag.BoolVar(&config.JSON, "json", false, "emit the report as JSON")
	flag.IntVar(&config.Threshold, "nplusone-threshold", 0, "repetitions that raise a finding (0 = default)")
	flag.Float64Var(&config.SlowMS, "slow-ms", 0, "slow-query threshold in milliseconds (0 = default)")
	flag.BoolVar(&config.Keyed, "keyed", true, "track repetitions per request ID, for interleaved sources")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Analyze a query log for N+1 patterns and slow statements, or compare\ntwo archived runs.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	return config
}

// captureSink accumulates findings in detection order.
type captureSink struct {
	findings []monitor.Finding
}

func (s *captureSink) Emit(f monitor.Finding) {
	s.findings = append(s.findings, f)
}

func runAnalyze(config Config) error {
	cfg := monitor.DefaultConfig()
	cfg.Keyed = config.Keyed
	if config.Threshold > 0 {
		cfg.NPlusOneThreshold = config.Threshold
	}
	if config.SlowMS > 0 {
		cfg.SlowQueryMS = config.SlowMS
	}

	detail, findings, err := analyzeFile(cfg, config.FilePath, config.Label)
	if err != nil {
		return err
	}

	if config.Save {
		if err := archiveRun(config.DBPath, detail, findings); err != nil {
			return err
		}
	}

	var output []byte
	if config.JSON {
		output, err = json.MarshalIndent(detail, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		output = append(output, '\n')
	} else {
		var buf bytes.Buffer
		report.RenderRun(&buf, detail)
		output = buf.Bytes()
	}
	return writeOutput(output, config.OutputFile)
}

// analyzeFile feeds every record in the file through the analyzers and
// builds the run report. The returned findings are the raw detections,
// kept for archiving.
func analyzeFile(cfg monitor.Config, path, label string) (*store.RunDetail, []monitor.Finding, error) {
	if path == "" {
		path = "-"
	}

	capture := &captureSink{}
	collector := report.NewCollector()
	mon := monitor.New(cfg, capture, collector)

	src := &source.FileSource{Path: path}
	events := make(chan source.Event, 256)
	errCh := make(chan error, 1)
	go func() {
		err := src.Run(context.Background(), events)
		close(events)
		errCh <- err
	}()

	started := time.Now()
	for ev := range events {
		if ev.CacheHit != nil {
			mon.ObserveCache(*ev.CacheHit)
		}
		if ev.Record != nil {
			mon.Observe(*ev.Record)
		}
	}
	if err := <-errCh; err != nil {
		return nil, nil, err
	}

	finished := time.Now()
	totalQueries, totalDuration := collector.Totals()
	detail := &store.RunDetail{
		Run: store.Run{
			Label:           label,
			Source:          sourceLabel(path),
			StartedAt:       started,
			FinishedAt:      &finished,
			TotalQueries:    totalQueries,
			TotalDurationMS: totalDuration,
		},
		Findings:   make([]store.Finding, 0, len(capture.findings)),
		QueryStats: collector.Stats(),
	}
	for _, f := range capture.findings {
		detail.Findings = append(detail.Findings, store.NewFinding(0, f))
	}
	return detail, capture.findings, nil
}

func sourceLabel(path string) string {
	if path == "-" {
		return "stdin"
	}
	return "file:" + path
}

func archiveRun(dbPath string, detail *store.RunDetail, findings []monitor.Finding) error {
	db, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer db.Close()

	runID, err := db.CreateRun(&detail.Run)
	if err != nil {
		return err
	}
	if err := db.SaveFindings(runID, findings); err != nil {
		return err
	}
	if err := db.SaveQueryStats(runID, detail.QueryStats); err != nil {
		return err
	}
	if err := db.FinishRun(runID, detail.Run.TotalQueries, detail.Run.TotalDurationMS); err != nil {
		return err
	}

	detail.Run.ID = runID
	slog.Info("run archived", "runId", runID, "db", dbPath)
	return nil
}

func runCompare(config Config) error {
	db, err := store.NewStore(config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer db.Close()

	run1, err := db.GetRun(config.Run1)
	if err != nil {
		return fmt.Errorf("failed to load run %d: %w", config.Run1, err)
	}
	if run1 == nil {
		return fmt.Errorf("run %d not found", config.Run1)
	}

	run2, err := db.GetRun(config.Run2)
	if err != nil {
		return fmt.Errorf("failed to load run %d: %w", config.Run2, err)
	}
	if run2 == nil {
		return fmt.Errorf("run %d not found", config.Run2)
	}

	stats1, err := db.GetQueryStats(config.Run1)
	if err != nil {
		return err
	}
	stats2, err := db.GetQueryStats(config.Run2)
	if err != nil {
		return err
	}

	cmp := report.Compare(*run1, *run2, stats1, stats2)

	var output []byte
	if config.JSON {
		output, err = json.MarshalIndent(cmp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode comparison: %w", err)
		}
		output = append(output, '\n')
	} else {
		var buf bytes.Buffer
		report.RenderComparison(&buf, cmp)
		output = buf.Bytes()
	}
	return writeOutput(output, config.OutputFile)
}

func writeOutput(output []byte, path string) error {
	if path != "" {
		if err := os.WriteFile(path, output, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		slog.Info("report written", "path", path)
		return nil
	}
	os.Stdout.Write(output)
	return nil
}
