package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_login_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	tokenRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_token_rejections_total",
			Help: "Rejected bearer, refresh and challenge tokens by reason.",
		},
		[]string{"reason"},
	)

	apiKeyRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_apikey_rejections_total",
			Help: "Rejected API keys by reason.",
		},
		[]string{"reason"},
	)

	abilityDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_ability_decisions_total",
			Help: "Ability evaluations by decision reason.",
		},
		[]string{"reason"},
	)

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginTotal, tokenRejections, apiKeyRejections, abilityDecisions,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthMetrics records auth decisions. It satisfies auth.Observer.
type AuthMetrics struct{}

func (AuthMetrics) ObserveLogin(outcome string) { loginTotal.WithLabelValues(outcome).Inc() }

func (AuthMetrics) ObserveTokenRejection(reason string) {
	tokenRejections.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func (AuthMetrics) ObserveAPIKeyRejection(reason string) {
	apiKeyRejections.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func (AuthMetrics) ObserveAbilityDecision(reason string) {
	abilityDecisions.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Instrument measures request rate, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers in known routes so metric label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "api-keys" {
		switch {
		case len(parts) == 3:
			parts[2] = ":id"
		case len(parts) == 4 && (parts[3] == "rotate" || parts[3] == "active"):
			parts[2] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
