// Package metrics exposes Prometheus instruments for the sync worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
)

const namespace = "gradesync"

// Metrics holds every collector of the process. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	userSyncs       *prometheus.CounterVec
	userSyncSeconds *prometheus.HistogramVec
	changes         *prometheus.CounterVec
	tokenRefreshes  *prometheus.CounterVec
	passSeconds     prometheus.Histogram
	passUsers       *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpSeconds     *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		userSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_syncs_total",
			Help:      "Per-user sync attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		userSyncSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "user_sync_duration_seconds",
			Help:      "Duration of a single user sync.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"strategy"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grade_changes_total",
			Help:      "Detected grade changes by kind.",
		}, []string{"kind"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Session refresh attempts by outcome.",
		}, []string{"outcome"}),
		passSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of a whole population pass.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		passUsers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_users_total",
			Help:      "Users visited by population passes by result.",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Change-set deliveries by channel and result.",
		}, []string{"channel", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.userSyncs, m.userSyncSeconds, m.changes, m.tokenRefreshes,
		m.passSeconds, m.passUsers, m.dispatches,
		m.httpRequests, m.httpSeconds,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TokenRefreshed counts a session refresh attempt.
func (m *Metrics) TokenRefreshed(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// UserSynced records one user sync. changes is nil when nothing was diffed.
func (m *Metrics) UserSynced(strategy, outcome string, elapsed time.Duration, changes *grade.ChangeSet) {
	if m == nil {
		return
	}
	m.userSyncs.WithLabelValues(strategy, outcome).Inc()
	m.userSyncSeconds.WithLabelValues(strategy).Observe(elapsed.Seconds())
	if changes != nil {
		m.changes.WithLabelValues("new").Add(float64(len(changes.New)))
		m.changes.WithLabelValues("updated").Add(float64(len(changes.Updated)))
		m.changes.WithLabelValues("removed").Add(float64(len(changes.Removed)))
	}
}

// PassCompleted records a population pass summary.
func (m *Metrics) PassCompleted(elapsed time.Duration, synced, failed, skipped int) {
	if m == nil {
		return
	}
	m.passSeconds.Observe(elapsed.Seconds())
	m.passUsers.WithLabelValues("synced").Add(float64(synced))
	m.passUsers.WithLabelValues("failed").Add(float64(failed))
	m.passUsers.WithLabelValues("skipped").Add(float64(skipped))
}

// Dispatched counts one delivery attempt on a channel.
func (m *Metrics) Dispatched(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dispatches.WithLabelValues(channel, result).Inc()
}

// Middleware instruments HTTP handlers by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
