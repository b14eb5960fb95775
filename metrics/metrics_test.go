package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveLogin("admitted")
	m.SetOnline(3)
	m.ObserveStream(http.StatusOK, 10)
	m.ObserveHTTP("/x", http.MethodGet, http.StatusOK, time.Millisecond)
}

func TestCollectorsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveLogin("admitted")
	m.ObserveLogin("admitted")
	m.ObserveLogin("capacity_exceeded")
	m.SetOnline(4)
	m.ObserveStream(http.StatusPartialContent, 100)

	if got := testutil.ToFloat64(m.LoginAttempts.WithLabelValues("admitted")); got != 2 {
		t.Errorf("admitted logins = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.OnlineSessions); got != 4 {
		t.Errorf("online = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.StreamBytes); got != 100 {
		t.Errorf("stream bytes = %v, want 100", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetOnline(2)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "audiodrama_online_sessions 2") {
		t.Fatalf("metrics output missing gauge:\n%s", rr.Body.String())
	}
}
