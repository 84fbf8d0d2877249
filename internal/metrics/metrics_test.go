package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ReminderCreated("high")
	m.Transition("triggered", "timer")
	m.TransitionSkipped("remote")
	m.Publish("mqtt", errors.New("down"))
	m.SyncEvent("applied")
	m.Route("macro", "high")
	m.GenerationFallback("ollama")
	m.ObserveDueScan(time.Millisecond)
	if m.Registry() != nil {
		t.Error("nil Metrics returned a registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.Transition("completed", "remote")
	m.Transition("completed", "remote")
	m.Publish("mqtt", nil)
	m.Publish("mqtt", errors.New("broker unreachable"))

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("completed", "remote")); got != 2 {
		t.Errorf("transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.publishes.WithLabelValues("mqtt", "error")); got != 1 {
		t.Errorf("publish errors = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Route("template", "low")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `carewatch_router_decisions_total{level="low",route="template"} 1`) {
		t.Errorf("route counter missing from exposition:\n%s", body)
	}
}
