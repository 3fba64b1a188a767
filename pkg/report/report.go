// Package report aggregates query records into per-statement
// statistics, compares two recorded runs, and renders the results.
package report

import (
	"sort"
	"sync"

	"query-watcher/pkg/monitor"
	"query-watcher/pkg/sqlnorm"
	"query-watcher/pkg/store"
)

// Collector accumulates per-statement statistics as records arrive. It
// plugs into the monitor as a record observer.
type Collector struct {
	mu    sync.Mutex
	stats map[string]*store.QueryStat

	totalQueries    int64
	totalDurationMS float64
}

func NewCollector() *Collector {
	return &Collector{stats: make(map[string]*store.QueryStat)}
}

// Emit implements monitor.Sink. Findings carry no statistics; the
// collector only consumes records.
func (c *Collector) Emit(monitor.Finding) {}

// ObserveRecord folds one execution into the running statistics.
func (c *Collector) ObserveRecord(rec monitor.Record) {
	norm := sqlnorm.Normalize(rec.SQL)
	if norm == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalQueries++
	c.totalDurationMS += rec.DurationMS

	stat, ok := c.stats[norm]
	if !ok {
		stat = &store.QueryStat{
			NormalizedQuery: norm,
			SampleSQL:       rec.SQL,
		}
		c.stats[norm] = stat
	}
	stat.Calls++
	stat.TotalDurationMS += rec.DurationMS
	stat.AvgDurationMS = stat.TotalDurationMS / float64(stat.Calls)
	if rec.DurationMS > stat.MaxDurationMS {
		stat.MaxDurationMS = rec.DurationMS
	}
}

// Stats returns the collected statistics, heaviest first.
func (c *Collector) Stats() []store.QueryStat {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]store.QueryStat, 0, len(c.stats))
	for _, stat := range c.stats {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalDurationMS != out[j].TotalDurationMS {
			return out[i].TotalDurationMS > out[j].TotalDurationMS
		}
		return out[i].NormalizedQuery < out[j].NormalizedQuery
	})
	return out
}

// Totals returns the overall query count and summed duration.
func (c *Collector) Totals() (int64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalQueries, c.totalDurationMS
}
