package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestCounters(t *testing.T) {
	m := New()
	m.AgentInvocation("mcp", "stream")
	m.AgentInvocation("mcp", "stream")
	m.ToolCall("weather", "error")
	m.CompletionError()
	m.DocumentIndexed()
	m.ObserveHTTP("GET", "/health", 200, 5*time.Millisecond)

	if got := counterValue(t, m, "stackpilot_agent_invocations_total", map[string]string{"surface": "mcp", "mode": "stream"}); got != 2 {
		t.Errorf("agent_invocations_total = %v, want 2", got)
	}
	if got := counterValue(t, m, "stackpilot_tool_calls_total", map[string]string{"tool": "weather", "outcome": "error"}); got != 1 {
		t.Errorf("tool_calls_total = %v, want 1", got)
	}
	if got := counterValue(t, m, "stackpilot_http_requests_total", map[string]string{"route": "/health", "status": "200"}); got != 1 {
		t.Errorf("http_requests_total = %v, want 1", got)
	}
	if got := counterValue(t, m, "stackpilot_documents_indexed_total", nil); got != 1 {
		t.Errorf("documents_indexed_total = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.CompletionError()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "stackpilot_completion_errors_total 1") {
		t.Errorf("body missing completion_errors_total:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AgentInvocation("chat", "complete")
	m.ToolCall("x", "ok")
	m.CompletionError()
	m.DocumentIndexed()
	m.ObserveHTTP("GET", "/", 200, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}
