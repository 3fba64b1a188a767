package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"query-watcher/pkg/store"
)

func TestIntegrationSaveAndCompare(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "watch.db")

	beforeLines := []string{
		`{"type":"query","message":"SELECT * FROM owls WHERE id = 1","duration_ms":1.5,"request_id":"req-1"}`,
		`{"type":"query","message":"SELECT * FROM owls WHERE id = 2","duration_ms":1.5,"request_id":"req-1"}`,
		`{"type":"query","message":"SELECT * FROM owls WHERE id = 3","duration_ms":1.5,"request_id":"req-1"}`,
		`{"type":"query","message":"SELECT * FROM herons WHERE colony_id = 7","duration_ms":250,"request_id":"req-1"}`,
	}
	afterLines := []string{
		`{"type":"query","message":"SELECT * FROM owls WHERE id = 4","duration_ms":1.5,"request_id":"req-9"}`,
		`{"type":"query","message":"SELECT * FROM herons WHERE colony_id = 7","duration_ms":20,"request_id":"req-9"}`,
	}

	if err := runAnalyze(Config{
		FilePath:   writeTempLog(t, beforeLines),
		OutputFile: filepath.Join(tmpDir, "before.txt"),
		DBPath:     dbPath,
		Label:      "before",
		Save:       true,
		Keyed:      true,
	}); err != nil {
		t.Fatalf("Failed to analyze first run: %v", err)
	}

	if err := runAnalyze(Config{
		FilePath:   writeTempLog(t, afterLines),
		OutputFile: filepath.Join(tmpDir, "after.txt"),
		DBPath:     dbPath,
		Label:      "after",
		Save:       true,
		Keyed:      true,
	}); err != nil {
		t.Fatalf("Failed to analyze second run: %v", err)
	}

	db, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	runs, err := db.ListRuns()
	db.Close()
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 archived runs, got %d", len(runs))
	}

	var beforeID, afterID int64
	for _, r := range runs {
		switch r.Label {
		case "before":
			beforeID = r.ID
		case "after":
			afterID = r.ID
		}
		if r.FinishedAt == nil {
			t.Errorf("Expected run %d to be finished", r.ID)
		}
	}
	if beforeID == 0 || afterID == 0 {
		t.Fatalf("Expected runs labeled before and after, got %+v", runs)
	}

	outPath := filepath.Join(tmpDir, "comparison.txt")
	if err := runCompare(Config{
		Compare:    true,
		DBPath:     dbPath,
		Run1:       beforeID,
		Run2:       afterID,
		OutputFile: outPath,
	}); err != nil {
		t.Fatalf("Comparison failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("Failed to read comparison: %v", err)
	}
	output := string(data)

	if !strings.Contains(output, `"before"`) || !strings.Contains(output, `"after"`) {
		t.Errorf("Comparison should name both runs, got:\n%s", output)
	}
	if !strings.Contains(output, "Improvements") {
		t.Errorf("Comparison should report the faster statement, got:\n%s", output)
	}

	if err := runCompare(Config{Compare: true, DBPath: dbPath, Run1: 9999, Run2: afterID}); err == nil {
		t.Error("Expected error for unknown run ID")
	}
}
