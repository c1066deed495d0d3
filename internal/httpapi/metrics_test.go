package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T) []byte {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
	return rr.Body.Bytes()
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rr.Code)
	}

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/items/{id}", "GET", "418"))
	if got < 1 {
		t.Fatalf("expected route pattern label, counter=%v", got)
	}
	if bytes.Contains(scrape(t), []byte(`path="/items/42"`)) {
		t.Fatalf("raw path leaked into labels")
	}
}

func TestMetricsMiddleware_FallsBackToPath(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	MetricsMiddleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))
	if !bytes.Contains(scrape(t), []byte("prunejuice_http_requests_total")) {
		t.Fatalf("request counter missing from /metrics")
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/plain", "GET", "200")); got < 1 {
		t.Fatalf("counter=%v", got)
	}
}

func TestMetricsMiddleware_InflightByMethod(t *testing.T) {
	var during float64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(httpInflight.WithLabelValues(http.MethodPatch))
	})
	for _, p := range []string{"/scan/a1", "/scan/b2", "/scan/c3"} {
		MetricsMiddleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, p, nil))
	}
	if during != 1 {
		t.Fatalf("inflight during request=%v", during)
	}
	if got := testutil.ToFloat64(httpInflight.WithLabelValues(http.MethodPatch)); got != 0 {
		t.Fatalf("inflight after request=%v", got)
	}
	for _, line := range bytes.Split(scrape(t), []byte("\n")) {
		if bytes.HasPrefix(line, []byte("prunejuice_http_inflight_requests{")) && bytes.Contains(line, []byte("/scan/")) {
			t.Fatalf("scanned path became a gauge label: %s", line)
		}
	}
}

func TestItoa(t *testing.T) {
	for n, want := range map[int]string{0: "0", 7: "7", 200: "200", 507: "507"} {
		if got := itoa(n); got != want {
			t.Fatalf("itoa(%d) = %q", n, got)
		}
	}
}

func TestSetMaxBodyBytes(t *testing.T) {
	t.Cleanup(func() { SetMaxBodyBytes(0) })
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
}
