package store

import (
	"log/slog"

	"query-watcher/pkg/monitor"
)

// RunRecorder persists findings as they fire during a live run. Save
// failures are logged, never propagated, so a broken disk can't stall
// detection.
type RunRecorder struct {
	store  *Store
	runID  int64
	logger *slog.Logger
}

// Recorder returns a sink that writes findings against the given run.
func (s *Store) Recorder(runID int64, logger *slog.Logger) *RunRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRecorder{store: s, runID: runID, logger: logger}
}

func (r *RunRecorder) Emit(f monitor.Finding) {
	if err := r.store.AddFinding(r.runID, f); err != nil {
		r.logger.Error("failed to save finding", "error", err, "kind", f.Kind)
	}
}
