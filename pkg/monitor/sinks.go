package monitor

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LogSink writes findings to slog. A nil Logger means slog.Default at
// emit time, so it follows whatever handler the binary installed.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Emit(f Finding) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch f.Kind {
	case KindNPlusOne:
		logger.Warn("possible N+1 query detected",
			"model", f.NPlusOne.Model,
			"count", f.NPlusOne.Count,
			"request_id", f.NPlusOne.RequestID,
			"sql", f.NPlusOne.SQL,
		)
	case KindSlowQuery:
		logger.Warn("slow query",
			"duration_ms", f.SlowQuery.DurationMS,
			"suggestions", len(f.SlowQuery.Suggestions),
			"sql", f.SlowQuery.SQL,
		)
	}
}

// ChannelSink forwards findings to a channel without ever blocking the
// observe path: when the buffer is full the finding is dropped. Used
// for the live WebSocket feed.
type ChannelSink struct {
	C chan Finding
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{C: make(chan Finding, buffer)}
}

func (s *ChannelSink) Emit(f Finding) {
	select {
	case s.C <- f:
	default:
	}
}

// MetricsSink exports Prometheus counters for records and findings and
// a histogram of observed query durations.
type MetricsSink struct {
	records   prometheus.Counter
	findings  *prometheus.CounterVec
	durations prometheus.Histogram
}

// NewMetricsSink registers the metrics with reg. Pass
// prometheus.DefaultRegisterer in binaries; tests use a fresh registry
// to avoid duplicate registration panics.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	factory := promauto.With(reg)
	return &MetricsSink{
		records: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch",
			Name:      "records_total",
			Help:      "Query execution records observed",
		}),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "querywatch",
			Name:      "findings_total",
			Help:      "Findings produced, by kind",
		}, []string{"kind"}),
		durations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "querywatch",
			Name:      "query_duration_ms",
			Help:      "Observed query durations in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
}

func (s *MetricsSink) Emit(f Finding) {
	s.findings.WithLabelValues(f.Kind).Inc()
}

func (s *MetricsSink) ObserveRecord(rec Record) {
	s.records.Inc()
	s.durations.Observe(rec.DurationMS)
}
