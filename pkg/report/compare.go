package report

import (
	"sort"

	"query-watcher/pkg/store"
)

// significantPercent is the average-duration change that counts as an
// improvement or regression rather than noise.
const significantPercent = 10.0

// Comparison is the result of diffing two runs statement by statement.
type Comparison struct {
	Run1 store.Run `json:"run1"`
	Run2 store.Run `json:"run2"`

	OnlyIn1 []store.QueryStat `json:"onlyIn1,omitempty"`
	OnlyIn2 []store.QueryStat `json:"onlyIn2,omitempty"`

	Common       []StatComparison `json:"common"`
	Improvements []StatComparison `json:"improvements,omitempty"`
	Regressions  []StatComparison `json:"regressions,omitempty"`
}

// StatComparison pairs one normalized statement across both runs.
type StatComparison struct {
	NormalizedQuery string  `json:"normalizedQuery"`
	SampleSQL       string  `json:"sampleSql"`
	Calls1          int64   `json:"calls1"`
	Calls2          int64   `json:"calls2"`
	AvgDuration1    float64 `json:"avgDuration1"`
	AvgDuration2    float64 `json:"avgDuration2"`
	DiffPercent     float64 `json:"diffPercent"`
	Improvement     bool    `json:"improvement"`
}

// CallsDelta is positive when the second run executes the statement
// more often. A large jump usually means a new repeated-query problem.
func (sc StatComparison) CallsDelta() int64 {
	return sc.Calls2 - sc.Calls1
}

// Compare diffs the statistics of two runs.
func Compare(run1, run2 store.Run, stats1, stats2 []store.QueryStat) *Comparison {
	cmp := &Comparison{Run1: run1, Run2: run2}

	map1 := make(map[string]store.QueryStat, len(stats1))
	map2 := make(map[string]store.QueryStat, len(stats2))
	for _, s := range stats1 {
		map1[s.NormalizedQuery] = s
	}
	for _, s := range stats2 {
		map2[s.NormalizedQuery] = s
	}

	for _, s := range stats1 {
		if _, exists := map2[s.NormalizedQuery]; !exists {
			cmp.OnlyIn1 = append(cmp.OnlyIn1, s)
		}
	}
	for _, s := range stats2 {
		if _, exists := map1[s.NormalizedQuery]; !exists {
			cmp.OnlyIn2 = append(cmp.OnlyIn2, s)
		}
	}

	for _, s1 := range stats1 {
		s2, exists := map2[s1.NormalizedQuery]
		if !exists {
			continue
		}

		sc := StatComparison{
			NormalizedQuery: s1.NormalizedQuery,
			SampleSQL:       s1.SampleSQL,
			Calls1:          s1.Calls,
			Calls2:          s2.Calls,
			AvgDuration1:    s1.AvgDurationMS,
			AvgDuration2:    s2.AvgDurationMS,
		}
		if s1.AvgDurationMS > 0 {
			sc.DiffPercent = ((s2.AvgDurationMS - s1.AvgDurationMS) / s1.AvgDurationMS) * 100
			sc.Improvement = s2.AvgDurationMS < s1.AvgDurationMS
		}

		cmp.Common = append(cmp.Common, sc)

		if sc.Improvement && sc.DiffPercent < -significantPercent {
			cmp.Improvements = append(cmp.Improvements, sc)
		} else if !sc.Improvement && sc.DiffPercent > significantPercent {
			cmp.Regressions = append(cmp.Regressions, sc)
		}
	}

	// Biggest movers first.
	sort.Slice(cmp.Improvements, func(i, j int) bool {
		return cmp.Improvements[i].DiffPercent < cmp.Improvements[j].DiffPercent
	})
	sort.Slice(cmp.Regressions, func(i, j int) bool {
		return cmp.Regressions[i].DiffPercent > cmp.Regressions[j].DiffPercent
	})
	sort.Slice(cmp.Common, func(i, j int) bool {
		return cmp.Common[i].NormalizedQuery < cmp.Common[j].NormalizedQuery
	})

	return cmp
}
