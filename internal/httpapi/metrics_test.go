package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"modelhost/internal/errs"
)

func TestMetricsUseRoutePattern(t *testing.T) {
	h := NewMux(&mockService{})
	before := testutil.ToFloat64(httpRequests.WithLabelValues("/downloads/{id}", http.MethodPost, "202"))
	do(t, h, http.MethodPost, "/downloads/gemma-3-4b", "")
	do(t, h, http.MethodPost, "/downloads/qwen2.5-3b", "")
	after := testutil.ToFloat64(httpRequests.WithLabelValues("/downloads/{id}", http.MethodPost, "202"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests on the route pattern, got %v", after-before)
	}

	w := do(t, h, http.MethodGet, "/metrics", "")
	body := w.Body.String()
	if !strings.Contains(body, "modelhost_http_requests_total") || !strings.Contains(body, `route="/downloads/{id}"`) {
		t.Fatalf("metrics output lacks the request family")
	}
	if strings.Contains(body, `route="/downloads/gemma-3-4b"`) {
		t.Fatalf("raw paths must not be used as labels")
	}
}

func TestMetricsFallBackToPath(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	before := testutil.ToFloat64(httpRequests.WithLabelValues("/plain", http.MethodGet, "418"))
	MetricsMiddleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("/plain", http.MethodGet, "418")); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}
}

func TestBackpressureCountedOnTooBusy(t *testing.T) {
	before := testutil.ToFloat64(httpRejected.WithLabelValues(string(errs.TooBusy)))
	do(t, NewMux(&mockService{inferErr: errs.New(errs.TooBusy, "queue full")}), http.MethodPost, "/infer", `{"prompt":"hi"}`)
	if got := testutil.ToFloat64(httpRejected.WithLabelValues(string(errs.TooBusy))); got != before+1 {
		t.Fatalf("backpressure = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(httpRejected.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if got := testutil.ToFloat64(httpRejected.WithLabelValues("unspecified")); got != before+1 {
		t.Fatalf("empty reason not mapped to unspecified")
	}
}

func TestInflightReturnsToZero(t *testing.T) {
	h := NewMux(&mockService{})
	do(t, h, http.MethodGet, "/status", "")
	if got := testutil.ToFloat64(httpInflight.WithLabelValues("/status")); got != 0 {
		t.Fatalf("inflight = %v after request completed", got)
	}
}
