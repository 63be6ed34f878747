// Package metrics exposes the Prometheus collectors of the ranking engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finrank"

type Metrics struct {
	registry *prometheus.Registry

	eventsApplied         *prometheus.CounterVec
	eventsAbsorbed        *prometheus.CounterVec
	eventsRejected        *prometheus.CounterVec
	pointsAwarded         *prometheus.CounterVec
	badgesUnlocked        *prometheus.CounterVec
	achievementsCompleted *prometheus.CounterVec
	commitConflicts       prometheus.Counter
	rolloverUsers         *prometheus.CounterVec
	rolloverDuration      prometheus.Histogram
	cacheLookups          *prometheus.CounterVec
	httpRequests          *prometheus.CounterVec
	httpDuration          *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_applied_total",
			Help: "Score events that changed a user's state.",
		}, []string{"kind"}),
		eventsAbsorbed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_absorbed_total",
			Help: "Duplicate or out-of-order score events absorbed without effect.",
		}, []string{"kind"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_rejected_total",
			Help: "Score events rejected before any mutation.",
		}, []string{"reason"}),
		pointsAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "points_awarded_total",
			Help: "Points awarded by event kind.",
		}, []string{"kind"}),
		badgesUnlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "badges_unlocked_total",
			Help: "Badge unlocks by badge id.",
		}, []string{"badge"}),
		achievementsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "achievements_completed_total",
			Help: "Achievement completions by achievement id.",
		}, []string{"achievement"}),
		commitConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commit_conflicts_total",
			Help: "Optimistic concurrency conflicts on user state commits.",
		}),
		rolloverUsers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rollover_users_total",
			Help: "Per-user season rollover outcomes.",
		}, []string{"outcome"}),
		rolloverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "rollover_duration_seconds",
			Help:    "Duration of a season rollover run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "leaderboard_cache_lookups_total",
			Help: "Leaderboard cache lookups by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsApplied, m.eventsAbsorbed, m.eventsRejected, m.pointsAwarded,
		m.badgesUnlocked, m.achievementsCompleted, m.commitConflicts,
		m.rolloverUsers, m.rolloverDuration, m.cacheLookups,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventApplied(kind string, points int64) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(kind).Inc()
	m.pointsAwarded.WithLabelValues(kind).Add(float64(points))
}

func (m *Metrics) EventAbsorbed(kind string) {
	if m == nil {
		return
	}
	m.eventsAbsorbed.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) BadgeUnlocked(id string) {
	if m == nil {
		return
	}
	m.badgesUnlocked.WithLabelValues(id).Inc()
}

func (m *Metrics) AchievementCompleted(id string) {
	if m == nil {
		return
	}
	m.achievementsCompleted.WithLabelValues(id).Inc()
}

func (m *Metrics) CommitConflict() {
	if m == nil {
		return
	}
	m.commitConflicts.Inc()
}

// RolloverUser records one user's rollover outcome: rolled or failed.
func (m *Metrics) RolloverUser(outcome string) {
	if m == nil {
		return
	}
	m.rolloverUsers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RolloverFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.rolloverDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) HTTPRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
