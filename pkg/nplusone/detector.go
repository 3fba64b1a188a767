// Package nplusone detects the N+1 query anti-pattern: structurally
// identical SELECT statements, differing only in bound values, executed
// repeatedly within one logical request. Detection is advisory and
// best-effort; malformed input never produces an error, only the
// absence of a finding.
package nplusone

import (
	"container/list"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"query-watcher/pkg/sqlnorm"
)

const (
	// DefaultThreshold is the repeat count at which a finding fires.
	DefaultThreshold = 3

	// DefaultMaxScopes bounds concurrent request scopes in KeyedTracker.
	DefaultMaxScopes = 256

	sampleSQLLimit = 200
)

// Entry tracks one normalized query within a request scope.
type Entry struct {
	NormalizedQuery string
	Count           int
	FirstSeen       time.Time
	SampleSQL       string
}

// Finding reports a query that crossed the repetition threshold. SQL
// carries the first-seen sample, truncated to 200 chars.
type Finding struct {
	SQL             string    `json:"sql"`
	NormalizedQuery string    `json:"normalizedQuery"`
	Count           int       `json:"count"`
	Model           string    `json:"model"`
	RequestID       string    `json:"requestId"`
	Location        string    `json:"location,omitempty"`
	FirstSeen       time.Time `json:"firstSeen"`
}

// Config controls detection. A zero Threshold falls back to
// DefaultThreshold; CallerHint enables best-effort stack inspection to
// locate the application code issuing the repeated query.
type Config struct {
	Threshold  int
	CallerHint bool
}

// Tracker is the single-scope detector: it assumes calls for one
// logical request arrive without interleaving from another request.
// State for the previous request is discarded the moment a different
// request identifier is observed. Hosts that service requests
// concurrently on a shared instance should use KeyedTracker instead.
type Tracker struct {
	mu        sync.Mutex
	cfg       Config
	requestID string
	started   bool
	entries   map[string]*Entry
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Tracker{cfg: cfg, entries: make(map[string]*Entry)}
}

// Check observes one executed statement and returns a finding exactly
// once per normalized query per scope, at the instant its count reaches
// the threshold. Non-SELECT statements and framework-internal SCHEMA
// lookups never count. A request identifier different from the last
// observed one discards all tracked state first, including on the very
// first call.
func (t *Tracker) Check(sql, operationName, requestID string) *Finding {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || requestID != t.requestID {
		t.entries = make(map[string]*Entry)
		t.requestID = requestID
		t.started = true
	}

	if skip(sql, operationName) {
		return nil
	}
	return track(t.entries, t.cfg, sql, requestID)
}

// KeyedTracker keys scopes by request identifier instead of replacing a
// single active scope, so interleaved requests on one shared instance
// cannot contaminate each other's counts. Scopes are evicted least
// recently touched first once MaxScopes is exceeded, or eagerly via
// EndRequest when the host knows a request completed.
type KeyedTracker struct {
	mu        sync.Mutex
	cfg       Config
	maxScopes int
	scopes    map[string]*scope
	order     *list.List
}

type scope struct {
	requestID string
	entries   map[string]*Entry
	elem      *list.Element
}

func NewKeyedTracker(cfg Config, maxScopes int) *KeyedTracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if maxScopes <= 0 {
		maxScopes = DefaultMaxScopes
	}
	return &KeyedTracker{
		cfg:       cfg,
		maxScopes: maxScopes,
		scopes:    make(map[string]*scope),
		order:     list.New(),
	}
}

// Check has the same contract as Tracker.Check but isolates counts per
// request identifier.
func (kt *KeyedTracker) Check(sql, operationName, requestID string) *Finding {
	if skip(sql, operationName) {
		return nil
	}

	kt.mu.Lock()
	defer kt.mu.Unlock()

	sc, ok := kt.scopes[requestID]
	if !ok {
		sc = &scope{requestID: requestID, entries: make(map[string]*Entry)}
		sc.elem = kt.order.PushFront(sc)
		kt.scopes[requestID] = sc
		kt.evict()
	} else {
		kt.order.MoveToFront(sc.elem)
	}
	return track(sc.entries, kt.cfg, sql, requestID)
}

// EndRequest drops the scope for a completed request.
func (kt *KeyedTracker) EndRequest(requestID string) {
	kt.mu.Lock()
	defer kt.mu.Unlock()

	if sc, ok := kt.scopes[requestID]; ok {
		kt.order.Remove(sc.elem)
		delete(kt.scopes, requestID)
	}
}

// ActiveScopes returns the number of request scopes currently held.
func (kt *KeyedTracker) ActiveScopes() int {
	kt.mu.Lock()
	defer kt.mu.Unlock()
	return len(kt.scopes)
}

func (kt *KeyedTracker) evict() {
	for len(kt.scopes) > kt.maxScopes {
		oldest := kt.order.Back()
		if oldest == nil {
			return
		}
		sc := oldest.Value.(*scope)
		kt.order.Remove(oldest)
		delete(kt.scopes, sc.requestID)
	}
}

func skip(sql, operationName string) bool {
	return operationName == "SCHEMA" || !sqlnorm.IsSelect(sql)
}

func track(entries map[string]*Entry, cfg Config, sql, requestID string) *Finding {
	normalized := sqlnorm.Normalize(sql)

	entry, ok := entries[normalized]
	if !ok {
		entry = &Entry{
			NormalizedQuery: normalized,
			FirstSeen:       time.Now(),
			SampleSQL:       sql,
		}
		entries[normalized] = entry
	}
	entry.Count++

	// Only the crossing instant fires; earlier and later repeats stay quiet.
	if entry.Count != cfg.Threshold {
		return nil
	}

	finding := &Finding{
		SQL:             sqlnorm.Truncate(entry.SampleSQL, sampleSQLLimit),
		NormalizedQuery: normalized,
		Count:           entry.Count,
		Model:           sqlnorm.GuessModel(entry.SampleSQL),
		RequestID:       requestID,
		FirstSeen:       entry.FirstSeen,
	}
	if cfg.CallerHint {
		finding.Location = callerLocation()
	}
	return finding
}

// callerLocation walks the stack for the first frame outside this
// module, the runtime, and the testing harness, which is usually the
// application code that issued the query. Empty when no such frame
// exists, e.g. when records arrive from a log stream instead of an
// in-process callback.
func callerLocation() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function == "" {
			break
		}
		if !strings.HasPrefix(frame.Function, "query-watcher/") &&
			!strings.HasPrefix(frame.Function, "runtime.") &&
			!strings.HasPrefix(frame.Function, "testing.") {
			return fmt.Sprintf("%s:%d", frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return ""
}
