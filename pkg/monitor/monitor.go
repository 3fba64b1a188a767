// Package monitor routes query-execution records through the analyzers
// and fans findings out to reporting sinks. It is the glue between
// record sources (log streams, in-process callbacks) and the passive
// core in pkg/nplusone and pkg/slowquery.
package monitor

import (
	"sync"
	"time"

	"query-watcher/pkg/cachestats"
	"query-watcher/pkg/nplusone"
	"query-watcher/pkg/slowquery"
)

// Record is one observed query execution. Transient: the monitor never
// retains it beyond the Observe call.
type Record struct {
	SQL           string    `json:"sql"`
	DurationMS    float64   `json:"durationMs"`
	OperationName string    `json:"operationName,omitempty"`
	RequestID     string    `json:"requestId,omitempty"`
	Source        string    `json:"source,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Finding kinds.
const (
	KindNPlusOne  = "nplusone"
	KindSlowQuery = "slowquery"
)

// Finding is the envelope delivered to sinks: exactly one of NPlusOne
// or SlowQuery is set, according to Kind.
type Finding struct {
	Kind      string             `json:"kind"`
	At        time.Time          `json:"at"`
	Source    string             `json:"source,omitempty"`
	RequestID string             `json:"requestId,omitempty"`
	Model     string             `json:"model,omitempty"`
	NPlusOne  *nplusone.Finding  `json:"nPlusOne,omitempty"`
	SlowQuery *slowquery.Finding `json:"slowQuery,omitempty"`
}

// Sink receives findings as they are produced. Emit must not block;
// slow consumers should buffer or drop internally.
type Sink interface {
	Emit(Finding)
}

// RecordObserver is an optional extension for sinks that want every
// record, not just findings (e.g. metrics).
type RecordObserver interface {
	ObserveRecord(Record)
}

// Config assembles the analyzer settings. Zero values fall back to the
// package defaults of the respective analyzers.
type Config struct {
	NPlusOneThreshold int
	CallerHint        bool
	// Keyed selects the request-keyed tracker, which tolerates
	// interleaved requests from concurrent sources.
	Keyed           bool
	MaxScopes       int
	SlowQueryMS     float64
	HistoryLimit    int
	CacheWindowSize int
}

func DefaultConfig() Config {
	return Config{
		NPlusOneThreshold: nplusone.DefaultThreshold,
		Keyed:             true,
		MaxScopes:         nplusone.DefaultMaxScopes,
		SlowQueryMS:       slowquery.DefaultSlowThresholdMS,
		HistoryLimit:      slowquery.DefaultHistoryLimit,
		CacheWindowSize:   cachestats.DefaultWindowSize,
	}
}

// Stats are the monitor's own counters, exposed through the HTTP API.
type Stats struct {
	Records           uint64           `json:"records"`
	NPlusOneFindings  uint64           `json:"nPlusOneFindings"`
	SlowQueryFindings uint64           `json:"slowQueryFindings"`
	Cache             cachestats.Stats `json:"cache"`
	StartedAt         time.Time        `json:"startedAt"`
}

type checker interface {
	Check(sql, operationName, requestID string) *nplusone.Finding
}

// Monitor is safe for concurrent use by multiple record sources.
type Monitor struct {
	cfg      Config
	tracker  checker
	keyed    *nplusone.KeyedTracker
	analyzer *slowquery.Analyzer
	cache    *cachestats.Tracker
	sinks    []Sink

	mu                sync.Mutex
	records           uint64
	nPlusOneFindings  uint64
	slowQueryFindings uint64
	startedAt         time.Time
}

func New(cfg Config, sinks ...Sink) *Monitor {
	if cfg.SlowQueryMS <= 0 {
		cfg.SlowQueryMS = slowquery.DefaultSlowThresholdMS
	}

	m := &Monitor{
		cfg: cfg,
		analyzer: slowquery.NewAnalyzer(slowquery.Config{
			HistoryLimit:    cfg.HistoryLimit,
			SlowThresholdMS: cfg.SlowQueryMS,
		}),
		cache:     cachestats.NewTracker(cfg.CacheWindowSize),
		sinks:     sinks,
		startedAt: time.Now(),
	}

	trackerCfg := nplusone.Config{Threshold: cfg.NPlusOneThreshold, CallerHint: cfg.CallerHint}
	if cfg.Keyed {
		m.keyed = nplusone.NewKeyedTracker(trackerCfg, cfg.MaxScopes)
		m.tracker = m.keyed
	} else {
		m.tracker = nplusone.NewTracker(trackerCfg)
	}
	return m
}

// AddSink attaches another sink. Not safe to call concurrently with
// Observe; wire sinks up before starting sources.
func (m *Monitor) AddSink(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Observe runs one record through both analyzers and forwards any
// findings. It never fails: malformed records simply produce nothing.
func (m *Monitor) Observe(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.records++
	m.mu.Unlock()

	for _, s := range m.sinks {
		if ro, ok := s.(RecordObserver); ok {
			ro.ObserveRecord(rec)
		}
	}

	if f := m.tracker.Check(rec.SQL, rec.OperationName, rec.RequestID); f != nil {
		m.mu.Lock()
		m.nPlusOneFindings++
		m.mu.Unlock()
		m.emit(Finding{
			Kind:      KindNPlusOne,
			At:        time.Now(),
			Source:    rec.Source,
			RequestID: rec.RequestID,
			Model:     f.Model,
			NPlusOne:  f,
		})
	}

	if rec.DurationMS > m.cfg.SlowQueryMS {
		f := m.analyzer.Analyze(rec.SQL, rec.DurationMS, rec.OperationName)
		m.mu.Lock()
		m.slowQueryFindings++
		m.mu.Unlock()
		m.emit(Finding{
			Kind:      KindSlowQuery,
			At:        time.Now(),
			Source:    rec.Source,
			RequestID: rec.RequestID,
			SlowQuery: &f,
		})
	}
}

// ObserveCache records a cache read outcome.
func (m *Monitor) ObserveCache(hit bool) {
	if hit {
		m.cache.RecordHit()
	} else {
		m.cache.RecordMiss()
	}
}

// EndRequest releases the scope of a completed request when the keyed
// tracker is in use; otherwise it is a no-op.
func (m *Monitor) EndRequest(requestID string) {
	if m.keyed != nil {
		m.keyed.EndRequest(requestID)
	}
}

// RecentSlow exposes the slow-query history for the API.
func (m *Monitor) RecentSlow(limit int) []slowquery.Finding {
	return m.analyzer.Recent(limit)
}

// Reset clears the slow-query history, the cache counters, and the
// monitor's own counters. Repetition scopes are left alone; they reset
// themselves per request.
func (m *Monitor) Reset() {
	m.analyzer.Reset()
	m.cache.Reset()

	m.mu.Lock()
	m.records = 0
	m.nPlusOneFindings = 0
	m.slowQueryFindings = 0
	m.mu.Unlock()
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Records:           m.records,
		NPlusOneFindings:  m.nPlusOneFindings,
		SlowQueryFindings: m.slowQueryFindings,
		Cache:             m.cache.Snapshot(),
		StartedAt:         m.startedAt,
	}
}

func (m *Monitor) emit(f Finding) {
	for _, s := range m.sinks {
		s.Emit(f)
	}
}
