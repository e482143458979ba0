package http

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry  *prometheus.Registry
	startedAt time.Time

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	sessions        prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startedAt: time.Now(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdm_ui",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled by this app.",
		}, []string{"method", "path", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rdm_ui",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rdm_ui",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "In-flight HTTP requests currently served by this app.",
		}),

		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdm_ui",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Outbound calls to the backend and RDM platforms.",
		}, []string{"target", "operation", "outcome"}), // outcome: ok, error

		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rdm_ui",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Outbound call duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"target", "operation"}),

		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rdm_ui",
			Name:      "sessions_active",
			Help:      "Page sessions currently held in memory.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.inFlight,
		m.gatewayRequests,
		m.gatewayDuration,
		m.sessions,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one outbound gateway call.
func (m *Metrics) ObserveRequest(target, operation string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayRequests.WithLabelValues(target, operation, outcome).Inc()
	m.gatewayDuration.WithLabelValues(target, operation).Observe(d.Seconds())
}

func (m *Metrics) sessionOpened() { m.sessions.Inc() }
func (m *Metrics) sessionClosed() { m.sessions.Dec() }

// appMetricsSummaryHandler reports a small JSON digest of the registry for
// humans and health dashboards.
func appMetricsSummaryHandler(m *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		families, err := m.registry.Gather()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to gather metrics"})
			return
		}

		var httpTotal, gatewayTotal, gatewayErrors, sessions, inFlight float64
		byOperation := map[string]map[string]float64{}
		for _, mf := range families {
			switch mf.GetName() {
			case "rdm_ui_http_requests_total":
				for _, mm := range mf.GetMetric() {
					httpTotal += mm.GetCounter().GetValue()
				}
			case "rdm_ui_gateway_requests_total":
				for _, mm := range mf.GetMetric() {
					v := mm.GetCounter().GetValue()
					gatewayTotal += v
					op := labelValue(mm, "target") + "/" + labelValue(mm, "operation")
					outcome := labelValue(mm, "outcome")
					if outcome == "error" {
						gatewayErrors += v
					}
					if byOperation[op] == nil {
						byOperation[op] = map[string]float64{}
					}
					byOperation[op][outcome] += v
				}
			case "rdm_ui_sessions_active":
				sessions = firstGauge(mf)
			case "rdm_ui_http_in_flight_requests":
				inFlight = firstGauge(mf)
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"uptime_seconds":       int64(time.Since(m.startedAt).Seconds()),
				"http_requests_total":  httpTotal,
				"http_in_flight":       inFlight,
				"sessions_active":      sessions,
				"gateway_requests":     gatewayTotal,
				"gateway_errors":       gatewayErrors,
				"gateway_by_operation": byOperation,
			},
		})
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func firstGauge(mf *dto.MetricFamily) float64 {
	if ms := mf.GetMetric(); len(ms) > 0 {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func observabilityMiddleware(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := normalizeMetricPath(r.URL.Path)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// normalizeMetricPath collapses session ids so label cardinality stays
// bounded.
func normalizeMetricPath(path string) string {
	switch {
	case path == "/", path == "/metrics", path == "/health", path == "/ready", path == "/favicon.ico":
		return path
	case path == "/api/v1/metrics/app":
		return path
	case strings.HasPrefix(path, "/s/"):
		rest := strings.Trim(strings.TrimPrefix(path, "/s/"), "/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) < 2 {
			return "/s/{session}/"
		}
		if _, ok := sessionActions[parts[1]]; ok || parts[1] == "state" || parts[1] == "events" {
			return "/s/{session}/" + parts[1]
		}
		return "/s/{session}/{unknown}"
	default:
		return "other"
	}
}
