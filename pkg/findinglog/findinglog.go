// Package findinglog is the bounded in-memory finding history behind
// the HTTP API and the live feed: insertion-ordered storage with
// secondary indexes for the common lookups, evicted by count and age.
package findinglog

import (
	"container/list"
	"sync"
	"time"

	"query-watcher/pkg/monitor"
)

const (
	DefaultMaxFindings = 10000
	DefaultMaxAge      = 24 * time.Hour
)

// Store holds findings most-recent-first. The secondary indexes hold
// elements of the main list so removal can fix up every index.
type Store struct {
	mu sync.RWMutex

	findings *list.List

	byKind    map[string]*list.List
	byRequest map[string]*list.List
	byModel   map[string]*list.List

	maxFindings int
	maxAge      time.Duration

	count int
}

func New(maxFindings int, maxAge time.Duration) *Store {
	if maxFindings <= 0 {
		maxFindings = DefaultMaxFindings
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		findings:    list.New(),
		byKind:      make(map[string]*list.List),
		byRequest:   make(map[string]*list.List),
		byModel:     make(map[string]*list.List),
		maxFindings: maxFindings,
		maxAge:      maxAge,
	}
}

// Emit implements monitor.Sink.
func (s *Store) Emit(f monitor.Finding) {
	s.Add(&f)
}

// Add inserts a finding and maintains the count and age bounds.
func (s *Store) Add(f *monitor.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem := s.findings.PushFront(f)
	s.count++

	s.indexInto(s.byKind, f.Kind, elem)
	s.indexInto(s.byRequest, f.RequestID, elem)
	s.indexInto(s.byModel, f.Model, elem)

	for s.count > s.maxFindings {
		back := s.findings.Back()
		if back == nil {
			break
		}
		s.remove(back, back.Value.(*monitor.Finding))
	}

	s.evictExpired()
}

func (s *Store) indexInto(index map[string]*list.List, key string, elem *list.Element) {
	if key == "" {
		return
	}
	if index[key] == nil {
		index[key] = list.New()
	}
	index[key].PushFront(elem)
}

func (s *Store) evictExpired() {
	cutoff := time.Now().Add(-s.maxAge)
	for {
		elem := s.findings.Back()
		if elem == nil {
			break
		}
		f := elem.Value.(*monitor.Finding)
		if f.At.After(cutoff) {
			break
		}
		s.remove(elem, f)
	}
}

func (s *Store) remove(elem *list.Element, f *monitor.Finding) {
	s.findings.Remove(elem)
	s.count--

	s.unindexFrom(s.byKind, f.Kind, elem)
	s.unindexFrom(s.byRequest, f.RequestID, elem)
	s.unindexFrom(s.byModel, f.Model, elem)
}

func (s *Store) unindexFrom(index map[string]*list.List, key string, elem *list.Element) {
	if key == "" {
		return
	}
	keyList := index[key]
	if keyList == nil {
		return
	}
	for e := keyList.Front(); e != nil; e = e.Next() {
		if e.Value.(*list.Element) == elem {
			keyList.Remove(e)
			break
		}
	}
	if keyList.Len() == 0 {
		delete(index, key)
	}
}

// FilterOptions are ANDed together; zero values mean no constraint.
type FilterOptions struct {
	Kind      string
	RequestID string
	Model     string
	Since     *time.Time
}

// Filter returns up to limit findings matching all options, most
// recent first. The narrowest available index drives the scan.
func (s *Store) Filter(opts FilterOptions, limit int) []*monitor.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = s.count
	}

	indexed := s.pickIndex(opts)
	results := make([]*monitor.Finding, 0, min(limit, s.count))

	if indexed == nil {
		for e := s.findings.Front(); e != nil && len(results) < limit; e = e.Next() {
			f := e.Value.(*monitor.Finding)
			if matches(f, opts) {
				results = append(results, f)
			}
		}
		return results
	}

	for e := indexed.Front(); e != nil && len(results) < limit; e = e.Next() {
		f := e.Value.(*list.Element).Value.(*monitor.Finding)
		if matches(f, opts) {
			results = append(results, f)
		}
	}
	return results
}

func (s *Store) pickIndex(opts FilterOptions) *list.List {
	var best *list.List
	consider := func(index map[string]*list.List, key string) {
		if key == "" {
			return
		}
		if l := index[key]; l != nil && (best == nil || l.Len() < best.Len()) {
			best = l
		}
	}
	consider(s.byRequest, opts.RequestID)
	consider(s.byModel, opts.Model)
	consider(s.byKind, opts.Kind)
	return best
}

func matches(f *monitor.Finding, opts FilterOptions) bool {
	if opts.Kind != "" && f.Kind != opts.Kind {
		return false
	}
	if opts.RequestID != "" && f.RequestID != opts.RequestID {
		return false
	}
	if opts.Model != "" && f.Model != opts.Model {
		return false
	}
	if opts.Since != nil && f.At.Before(*opts.Since) {
		return false
	}
	return true
}

// Recent returns the limit most recent findings, newest first.
func (s *Store) Recent(limit int) []*monitor.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = s.count
	}
	results := make([]*monitor.Finding, 0, min(limit, s.count))
	for e := s.findings.Front(); e != nil && len(results) < limit; e = e.Next() {
		results = append(results, e.Value.(*monitor.Finding))
	}
	return results
}

// Clear drops every stored finding.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.findings.Init()
	s.byKind = make(map[string]*list.List)
	s.byRequest = make(map[string]*list.List)
	s.byModel = make(map[string]*list.List)
	s.count = 0
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *Store) CountByKind(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyList := s.byKind[kind]
	if keyList == nil {
		return 0
	}
	return keyList.Len()
}
