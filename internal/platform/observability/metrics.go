package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"

	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	SchedulerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profilewatch_scheduler_fires_total",
		Help: "Report producer invocations by frequency and outcome",
	}, []string{"frequency", "status"})

	SchedulerLoopErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "profilewatch_scheduler_loop_errors_total",
		Help: "Scheduler ticks that failed before evaluating any clock",
	})

	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profilewatch_store_writes_total",
		Help: "Profile collection writes by operation and outcome",
	}, []string{"op", "status"})

	StoreLoadSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "profilewatch_store_load_skipped_records_total",
		Help: "Profile records skipped while loading the collection",
	})

	Profiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "profilewatch_profiles",
		Help: "Number of profiles in the collection",
	})

	MatchCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profilewatch_match_cache_total",
		Help: "Search result cache lookups by result",
	}, []string{"result"})

	SourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profilewatch_source_errors_total",
		Help: "Message source scan failures by source",
	}, []string{"source"})

	SourceSkippedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profilewatch_source_skipped_messages_total",
		Help: "Messages that could not be decoded and were skipped",
	}, []string{"source"})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "profilewatch_search_duration_seconds",
		Help:    "Duration of one uncached criterion search across all sources",
		Buckets: prometheus.DefBuckets,
	})

	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profilewatch_alerts_sent_total",
		Help: "Degraded-ratio alerts by outcome",
	}, []string{"status"})

	ReportsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profilewatch_reports_dispatched_total",
		Help: "Report deliveries by channel and outcome",
	}, []string{"channel", "status"})
)
