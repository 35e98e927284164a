// Package metrics provides Prometheus metrics for the TruthRank engine.
//
// Every recorder is safe to call on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "truthrank"

// Trigger labels.
const (
	TriggerInteractive = "interactive"
	TriggerBatch       = "batch"
)

// Outcome labels.
const (
	OutcomeUpgraded    = "upgraded"
	OutcomeUnchanged   = "unchanged"
	OutcomeUpdated     = "updated"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Metrics holds every collector the engine exports.
type Metrics struct {
	recalculations  *prometheus.CounterVec
	upgrades        *prometheus.CounterVec
	storeConflicts  prometheus.Counter
	resolutions     *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobUsers        *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheRefreshes  *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	notifications   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers the collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)

	return &Metrics{
		recalculations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalculations_total",
			Help:      "Rank recalculations by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		upgrades: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upgrades_total",
			Help:      "Rank upgrades by destination rank.",
		}, []string{"rank"}),
		storeConflicts: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Optimistic concurrency collisions on user stats writes.",
		}),
		resolutions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_recorded_total",
			Help:      "Prediction resolutions applied to user counters.",
		}, []string{"result"}),
		jobRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Batch job runs by job and status.",
		}, []string{"job", "status"}),
		jobDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Batch job run duration.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		jobUsers: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "users_processed_total",
			Help:      "Users processed by batch jobs.",
		}, []string{"job"}),
		jobErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "user_errors_total",
			Help:      "Per-user failures recorded by batch jobs.",
		}, []string{"job"}),
		cacheLookups: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "lookups_total",
			Help:      "Leaderboard reads by rank and result (hit, miss, stale).",
		}, []string{"rank", "result"}),
		cacheRefreshes: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "refreshes_total",
			Help:      "Leaderboard snapshot rebuilds by rank.",
		}, []string{"rank"}),
		refreshDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "refresh_duration_seconds",
			Help:      "Time to rebuild one leaderboard snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
		notifications: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifier calls by kind and status.",
		}, []string{"kind", "status"}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordRecalculation counts one recalculation.
func (m *Metrics) RecordRecalculation(trigger, outcome string) {
	if m == nil {
		return
	}
	m.recalculations.WithLabelValues(trigger, outcome).Inc()
}

// RecordUpgrade counts an upgrade into rank.
func (m *Metrics) RecordUpgrade(rank string) {
	if m == nil {
		return
	}
	m.upgrades.WithLabelValues(rank).Inc()
}

// RecordStoreConflict counts an optimistic-lock collision.
func (m *Metrics) RecordStoreConflict() {
	if m == nil {
		return
	}
	m.storeConflicts.Inc()
}

// RecordResolution counts an applied resolution ("correct", "incorrect", "skipped").
func (m *Metrics) RecordResolution(result string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(result).Inc()
}

// RecordJobRun records a finished job run.
func (m *Metrics) RecordJobRun(job string, duration time.Duration, processed, errors int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	} else if errors > 0 {
		status = "partial"
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	m.jobUsers.WithLabelValues(job).Add(float64(processed))
	m.jobErrors.WithLabelValues(job).Add(float64(errors))
}

// RecordCacheLookup records a leaderboard read ("hit", "miss", "stale").
func (m *Metrics) RecordCacheLookup(rank, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(rank, result).Inc()
}

// RecordCacheRefresh records one snapshot rebuild.
func (m *Metrics) RecordCacheRefresh(rank string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheRefreshes.WithLabelValues(rank).Inc()
	m.refreshDuration.Observe(duration.Seconds())
}

// RecordNotification records a notifier call ("upgraded", "inactive").
func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notifications.WithLabelValues(kind, status).Inc()
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(route, method, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, code).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}
