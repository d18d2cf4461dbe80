package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Transitions          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobflow_lifecycle_transitions_total", Help: "Lifecycle status writes by resulting status"}, []string{"status"})
	Cascades             = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobflow_cascades_total", Help: "Automatic department cascades by source department"}, []string{"department"})
	VersionConflicts     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobflow_version_conflicts_total", Help: "Optimistic concurrency conflicts by entity"}, []string{"entity"})
	HistoryAppendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobflow_history_append_failures_total", Help: "Best-effort history/activity appends that failed"}, []string{"log"})
	EventsPublished      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobflow_events_published_total", Help: "Events published on the bus by domain"}, []string{"domain"})
	BroadcastFailures    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobflow_broadcast_failures_total", Help: "Event subscriber failures"}, []string{"subscriber"})
	BroadcastDropped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobflow_broadcast_dropped_total", Help: "Messages dropped because a connection queue was full"})
	Connections          = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobflow_realtime_connections", Help: "Open realtime connections"})
	NotificationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobflow_notifications_total", Help: "Notifications created by priority"}, []string{"priority"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobflow_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	DeadlineChecks       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobflow_deadline_checks_total", Help: "Deadline checks processed by kind and outcome"}, []string{"kind", "outcome"})
	DeadlineQueueDepth   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobflow_deadline_queue_depth", Help: "Scheduled deadline checks"})
	ArchivedJobs         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobflow_archived_jobs_total", Help: "History archives written by outcome"}, []string{"outcome"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Transitions,
			Cascades,
			VersionConflicts,
			HistoryAppendFailure,
			EventsPublished,
			BroadcastFailures,
			BroadcastDropped,
			Connections,
			NotificationsCreated,
			RateLimitRejects,
			DeadlineChecks,
			DeadlineQueueDepth,
			ArchivedJobs,
		)
	})
	return promhttp.Handler()
}
