package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels use the chi route pattern so ids in paths do not explode
// cardinality.
var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelhost",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelhost",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 30, 60, 300},
	}, []string{"route", "method", "status"})

	httpInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "modelhost",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Requests currently being served.",
	}, []string{"route"})

	httpRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelhost",
		Subsystem: "http",
		Name:      "backpressure_total",
		Help:      "Requests answered 429 by reason code.",
	}, []string{"reason"})
)

// statusRecorder captures the response status. It forwards Flush so the
// event stream still works behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware counts and times requests.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		began := time.Now()
		next.ServeHTTP(sr, r)
		// chi fills the pattern in while routing, so read it afterwards.
		route, code := routeOf(r), strconv.Itoa(sr.status)
		httpRequests.WithLabelValues(route, r.Method, code).Inc()
		httpLatency.WithLabelValues(route, r.Method, code).Observe(time.Since(began).Seconds())
	})
}

// inflightMiddleware must be mounted inside the router.
func inflightMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := httpInflight.WithLabelValues(routeOf(r))
		g.Inc()
		defer g.Dec()
		next.ServeHTTP(w, r)
	})
}

func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// IncrementBackpressure records a 429 answer.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	httpRejected.WithLabelValues(reason).Inc()
}
