// Package metrics exposes Prometheus collectors for the HTTP surface and the
// authentication path.
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

	"backoffice/internal/auth"
)

const namespace = "backoffice"

type Metrics struct {
	registry          *prometheus.Registry
	inFlight          prometheus.Gauge
	requests          *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	authRejections    *prometheus.CounterVec
	tenantResolutions *prometheus.CounterVec
	loginAttempts     *prometheus.CounterVec
}

// New builds the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejections_total",
			Help:      "Requests rejected by the auth pipeline.",
		}, []string{"stage", "reason"}),
		tenantResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_resolutions_total",
			Help:      "Tenant resolution outcomes.",
		}, []string{"outcome"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by level and result.",
		}, []string{"level", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inFlight, m.requests, m.duration,
		m.authRejections, m.tenantResolutions, m.loginAttempts,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument records count and latency per route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		m.requests.WithLabelValues(r.Method, route, code).Inc()
		m.duration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
	})
}

// AuthRejected matches auth.WithRejectionHook.
func (m *Metrics) AuthRejected(stage, reason string) {
	m.authRejections.WithLabelValues(stage, reason).Inc()
}

// TenantResolved matches tenancy.WithObserver.
func (m *Metrics) TenantResolved(outcome string) {
	m.tenantResolutions.WithLabelValues(outcome).Inc()
}

// LoginAttempt matches account.WithLoginObserver.
func (m *Metrics) LoginAttempt(level auth.Level, result string) {
	m.loginAttempts.WithLabelValues(string(level), result).Inc()
}
