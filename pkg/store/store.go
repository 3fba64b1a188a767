// Package store persists analysis runs, their findings, and per-query
// statistics in SQLite. The schema is owned by the embedded goose
// migrations; gorm only maps rows.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"query-watcher/pkg/monitor"
)

// Store manages the SQLite database for saved analysis runs.
type Store struct {
	db *gorm.DB
}

// Run is one saved analysis pass over a log source.
type Run struct {
	ID              int64      `json:"id" gorm:"primaryKey"`
	Label           string     `json:"label"`
	Source          string     `json:"source"`
	StartedAt       time.Time  `json:"startedAt" gorm:"column:started_at"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty" gorm:"column:finished_at"`
	TotalQueries    int64      `json:"totalQueries" gorm:"column:total_queries"`
	TotalDurationMS float64    `json:"totalDurationMs" gorm:"column:total_duration_ms"`
}

// Finding is a persisted detection, either a repeated-query pattern or
// a slow statement.
type Finding struct {
	ID              int64     `json:"id" gorm:"primaryKey"`
	RunID           int64     `json:"runId" gorm:"column:run_id"`
	Kind            string    `json:"kind"`
	DetectedAt      time.Time `json:"detectedAt" gorm:"column:detected_at"`
	Source          string    `json:"source"`
	RequestID       string    `json:"requestId,omitempty" gorm:"column:request_id"`
	Model           string    `json:"model,omitempty"`
	SQL             string    `json:"sql" gorm:"column:sql_text"`
	NormalizedQuery string    `json:"normalizedQuery,omitempty" gorm:"column:normalized_query"`
	RepeatCount     int       `json:"repeatCount,omitempty" gorm:"column:repeat_count"`
	DurationMS      float64   `json:"durationMs,omitempty" gorm:"column:duration_ms"`
	Suggestions     []string  `json:"suggestions,omitempty" gorm:"serializer:json"`
}

// QueryStat aggregates every execution of one normalized statement
// within a run.
type QueryStat struct {
	ID              int64   `json:"id" gorm:"primaryKey"`
	RunID           int64   `json:"runId" gorm:"column:run_id"`
	NormalizedQuery string  `json:"normalizedQuery" gorm:"column:normalized_query"`
	Calls           int64   `json:"calls"`
	TotalDurationMS float64 `json:"totalDurationMs" gorm:"column:total_duration_ms"`
	AvgDurationMS   float64 `json:"avgDurationMs" gorm:"column:avg_duration_ms"`
	MaxDurationMS   float64 `json:"maxDurationMs" gorm:"column:max_duration_ms"`
	SampleSQL       string  `json:"sampleSql" gorm:"column:sample_sql"`
}

// RunDetail bundles a run with everything recorded during it.
type RunDetail struct {
	Run        Run         `json:"run"`
	Findings   []Finding   `json:"findings"`
	QueryStats []QueryStat `json:"queryStats"`
}

// NewStore opens (or creates) the database and applies migrations.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap database handle: %w", err)
	}
	if err := RunMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to unwrap database handle: %w", err)
	}
	return sqlDB.Close()
}

// CreateRun starts a new run record.
func (s *Store) CreateRun(run *Run) (int64, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if err := s.db.Create(run).Error; err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}
	return run.ID, nil
}

// FinishRun stamps the end of a run and its totals.
func (s *Store) FinishRun(id int64, totalQueries int64, totalDurationMS float64) error {
	now := time.Now().UTC()
	err := s.db.Model(&Run{}).Where("id = ?", id).Updates(map[string]interface{}{
		"finished_at":       &now,
		"total_queries":     totalQueries,
		"total_duration_ms": totalDurationMS,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID, or nil when it doesn't exist.
func (s *Store) GetRun(id int64) (*Run, error) {
	var run Run
	err := s.db.First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves all runs, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	runs := []Run{}
	if err := s.db.Order("started_at DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// DeleteRun deletes a run; findings and stats cascade with it.
func (s *Store) DeleteRun(id int64) error {
	if err := s.db.Delete(&Run{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// NewFinding flattens a detection envelope into a persistable row.
func NewFinding(runID int64, f monitor.Finding) Finding {
	row := Finding{
		RunID:       runID,
		Kind:        f.Kind,
		DetectedAt:  f.At,
		Source:      f.Source,
		RequestID:   f.RequestID,
		Model:       f.Model,
		Suggestions: []string{},
	}
	switch {
	case f.NPlusOne != nil:
		row.SQL = f.NPlusOne.SQL
		row.NormalizedQuery = f.NPlusOne.NormalizedQuery
		row.RepeatCount = f.NPlusOne.Count
	case f.SlowQuery != nil:
		row.SQL = f.SlowQuery.SQL
		row.DurationMS = f.SlowQuery.DurationMS
		if len(f.SlowQuery.Suggestions) > 0 {
			row.Suggestions = f.SlowQuery.Suggestions
		}
	}
	return row
}

// AddFinding persists a single detection against a run.
func (s *Store) AddFinding(runID int64, f monitor.Finding) error {
	row := NewFinding(runID, f)
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save finding: %w", err)
	}
	return nil
}

// SaveFindings persists a batch of detections against a run.
func (s *Store) SaveFindings(runID int64, findings []monitor.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	rows := make([]Finding, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, NewFinding(runID, f))
	}
	if err := s.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to save findings: %w", err)
	}
	return nil
}

// ListFindings retrieves findings for a run, optionally filtered by
// kind, in detection order.
func (s *Store) ListFindings(runID int64, kind string) ([]Finding, error) {
	findings := []Finding{}
	q := s.db.Where("run_id = ?", runID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Order("detected_at, id").Find(&findings).Error; err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	return findings, nil
}

// SaveQueryStats persists aggregated per-statement statistics.
func (s *Store) SaveQueryStats(runID int64, stats []QueryStat) error {
	if len(stats) == 0 {
		return nil
	}
	for i := range stats {
		stats[i].RunID = runID
		stats[i].ID = 0
	}
	if err := s.db.Create(&stats).Error; err != nil {
		return fmt.Errorf("failed to save query stats: %w", err)
	}
	return nil
}

// GetQueryStats retrieves a run's statistics, heaviest first.
func (s *Store) GetQueryStats(runID int64) ([]QueryStat, error) {
	stats := []QueryStat{}
	err := s.db.Where("run_id = ?", runID).
		Order("total_duration_ms DESC").
		Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get query stats: %w", err)
	}
	return stats, nil
}

// GetRunDetail retrieves a run with its findings and statistics, or
// nil when the run doesn't exist.
func (s *Store) GetRunDetail(id int64) (*RunDetail, error) {
	run, err := s.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}

	findings, err := s.ListFindings(id, "")
	if err != nil {
		return nil, err
	}
	stats, err := s.GetQueryStats(id)
	if err != nil {
		return nil, err
	}

	return &RunDetail{
		Run:        *run,
		Findings:   findings,
		QueryStats: stats,
	}, nil
}
