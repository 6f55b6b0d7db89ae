package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics for the governance loop.
var (
	auditCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topiary_audit_cycles_total",
			Help: "Completed audit cycles per category.",
		},
		[]string{"category"},
	)

	polishActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topiary_polish_actions_total",
			Help: "Polish actions by result (renamed, re_pinned, skipped, failed).",
		},
		[]string{"result"},
	)

	policyDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topiary_policy_denials_total",
			Help: "Policy gate denials by action kind.",
		},
		[]string{"action"},
	)

	approvalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topiary_approval_transitions_total",
			Help: "Approval state machine transitions by target state.",
		},
		[]string{"state"},
	)

	capacityUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "topiary_capacity_utilization",
			Help: "Latest observed per-category topic utilization.",
		},
		[]string{"category"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		auditCyclesTotal, polishActionsTotal, policyDenialsTotal,
		approvalTransitions, capacityUtilization,
	)
}

// ObserveAuditCycle counts a completed audit cycle.
func ObserveAuditCycle(category string) {
	auditCyclesTotal.WithLabelValues(category).Inc()
}

// ObservePolishAction counts one polish outcome (renamed, re_pinned, skipped, failed).
func ObservePolishAction(result string, n int) {
	if n > 0 {
		polishActionsTotal.WithLabelValues(result).Add(float64(n))
	}
}

// ObservePolicyDenial counts a gate denial for the given action kind.
func ObservePolicyDenial(action string) {
	policyDenialsTotal.WithLabelValues(action).Inc()
}

// ObserveApprovalTransition counts a state machine transition.
func ObserveApprovalTransition(state string) {
	approvalTransitions.WithLabelValues(state).Inc()
}

// SetCapacityUtilization records the latest utilization sample for a category.
func SetCapacityUtilization(category string, utilization float64) {
	capacityUtilization.WithLabelValues(category).Set(utilization)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps next with RPS/latency/in-flight accounting.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric cardinality stays
// bounded: /v1/proposals/<id> becomes /v1/proposals/:id.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	if len(parts) == 4 && parts[1] == "v1" {
		switch parts[2] {
		case "proposals", "topics":
			if parts[3] != "" {
				parts[3] = ":id"
				return strings.Join(parts, "/")
			}
		}
	}
	return path
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
