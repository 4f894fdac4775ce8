package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/api-keys":              "/v1/api-keys",
		"/v1/api-keys/01HX":         "/v1/api-keys/:id",
		"/v1/api-keys/01HX/rotate":  "/v1/api-keys/:id/rotate",
		"/v1/api-keys/01HX/active":  "/v1/api-keys/:id/active",
		"/v1/api-keys/01HX/other":   "/v1/api-keys/01HX/other",
		"/v1/auth/login?next=/home": "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestAuthMetricsCount(t *testing.T) {
	before := counterValue(t, tokenRejections.WithLabelValues("expired"))
	AuthMetrics{}.ObserveTokenRejection("expired")
	AuthMetrics{}.ObserveTokenRejection("")
	if got := counterValue(t, tokenRejections.WithLabelValues("expired")); got != before+1 {
		t.Fatalf("expected counter to increase by one, got %v -> %v", before, got)
	}
	if got := counterValue(t, tokenRejections.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("expected empty reason to count as unknown, got %v", got)
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/api-keys/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/api-keys/abc", nil))
	after := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/api-keys/:id", "418"))
	if after != before+1 {
		t.Fatalf("expected request to be counted, got %v -> %v", before, after)
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("debug", &buf)
	l.Debug("hello", "k", "v")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
