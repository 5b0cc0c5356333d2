package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/types"
)

func TestObserveTurnIncrementsCounter(t *testing.T) {
	m := New()
	m.ObserveTurn(types.OwnerCommand)
	m.ObserveTurn(types.OwnerCommand)
	m.ObserveTurn(types.UntrustedEvent)

	body := scrape(t, m)
	require.Contains(t, body, `agentd_turns_processed_total{trust="owner_command"} 2`)
	require.Contains(t, body, `agentd_turns_processed_total{trust="untrusted_event"} 1`)
}

func TestObserveToolCallTagsOutcome(t *testing.T) {
	m := New()
	m.ObserveToolCall("shell", nil)
	m.ObserveToolCall("shell", errors.New("boom"))

	body := scrape(t, m)
	require.Contains(t, body, `agentd_tool_calls_total{outcome="ok",tool="shell"} 1`)
	require.Contains(t, body, `agentd_tool_calls_total{outcome="error",tool="shell"} 1`)
}

func TestObserveApprovalLatencyRecorded(t *testing.T) {
	m := New()
	m.ObserveApprovalLatency(1500 * 1e6) // 1.5s in time.Duration units

	body := scrape(t, m)
	require.Contains(t, body, "agentd_approval_latency_seconds")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
