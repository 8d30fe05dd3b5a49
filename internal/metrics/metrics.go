// Package metrics collects every Prometheus collector this service
// exposes at /metrics, registered once at startup. Grounded on
// services/torrent-engine/internal/metrics/metrics.go's package-level var
// block + single Register(reg) call.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "duckflix",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})

	JobsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "jobs_started_total",
		Help:      "Total VOD jobs started.",
	})

	JobsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "jobs_completed_total",
		Help:      "Total VOD jobs that reached completed.",
	})

	JobsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "jobs_failed_total",
		Help:      "Total VOD jobs that reached error, by error kind.",
	}, []string{"kind"})

	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "duckflix",
		Name:      "job_duration_seconds",
		Help:      "Duration from job creation to its terminal state.",
		Buckets:   []float64{1, 3, 5, 10, 20, 30, 60, 120, 300},
	})

	CandidatePromotionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "duckflix",
		Name:      "candidate_promotion_duration_seconds",
		Help:      "Duration of one candidate's promotion attempt, by provenance.",
		Buckets:   []float64{0.5, 1, 3, 5, 10, 30, 60},
	}, []string{"provenance"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "link_cache_hits_total",
		Help:      "Total LinkCache lookups that returned a live entry.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "link_cache_misses_total",
		Help:      "Total LinkCache lookups that missed or evicted a dead entry.",
	})

	ActiveJobsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "duckflix",
		Name:      "jobs_active",
		Help:      "Number of jobs currently in the registry's active map.",
	})

	SessionCheckLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "duckflix",
		Name:      "session_check_latency_seconds",
		Help:      "Latency of SessionArbiter.Check.",
		Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05},
	})

	SessionDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "session_denied_total",
		Help:      "Total SessionArbiter.Check calls denied because the debrid key was already in use.",
	})

	LiveTVSegmentFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "livetv_segment_failures_total",
		Help:      "Total live-TV segment fetch failures by channel.",
	}, []string{"channel"})

	LiveTVSourceRotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "livetv_source_rotations_total",
		Help:      "Total live-TV active-source rotations by channel.",
	}, []string{"channel"})

	RangeProxyBytesServed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "rangeproxy_bytes_served_total",
		Help:      "Total bytes served by RangeProxy.",
	})

	RangeProxyStatTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "duckflix",
		Name:      "rangeproxy_stat_timeouts_total",
		Help:      "Total RangeProxy stat/open calls that hit FS_STAT_TIMEOUT.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		JobsStartedTotal,
		JobsCompletedTotal,
		JobsFailedTotal,
		JobDuration,
		CandidatePromotionDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		ActiveJobsGauge,
		SessionCheckLatency,
		SessionDeniedTotal,
		LiveTVSegmentFailuresTotal,
		LiveTVSourceRotationsTotal,
		RangeProxyBytesServed,
		RangeProxyStatTimeoutsTotal,
	)
}
