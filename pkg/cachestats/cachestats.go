// Package cachestats keeps hit/miss bookkeeping for cache reads: total
// counters for the lifetime of the process and a rolling window over
// the most recent outcomes, so a recently degraded hit rate is visible
// even on a long-lived process.
package cachestats

import "sync"

// DefaultWindowSize is the rolling-window capacity.
const DefaultWindowSize = 1024

// Stats is a point-in-time snapshot.
type Stats struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Total         uint64  `json:"total"`
	HitRate       float64 `json:"hitRate"`
	WindowHitRate float64 `json:"windowHitRate"`
	WindowSize    int     `json:"windowSize"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	hits       uint64
	misses     uint64
	window     []bool
	next       int
	filled     int
	windowHits int
}

func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Tracker{window: make([]bool, windowSize)}
}

func (t *Tracker) RecordHit()  { t.record(true) }
func (t *Tracker) RecordMiss() { t.record(false) }

func (t *Tracker) record(hit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if hit {
		t.hits++
	} else {
		t.misses++
	}

	if t.filled == len(t.window) {
		if t.window[t.next] {
			t.windowHits--
		}
	} else {
		t.filled++
	}
	t.window[t.next] = hit
	if hit {
		t.windowHits++
	}
	t.next = (t.next + 1) % len(t.window)
}

// Snapshot never divides by zero: empty trackers report zero rates.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Hits:       t.hits,
		Misses:     t.misses,
		Total:      t.hits + t.misses,
		WindowSize: len(t.window),
	}
	if s.Total > 0 {
		s.HitRate = float64(t.hits) / float64(s.Total)
	}
	if t.filled > 0 {
		s.WindowHitRate = float64(t.windowHits) / float64(t.filled)
	}
	return s
}

// Reset clears both the lifetime counters and the window.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.hits = 0
	t.misses = 0
	t.next = 0
	t.filled = 0
	t.windowHits = 0
}
