package turn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/metrics"
	"github.com/agentd-run/agentd/internal/tools"
	"github.com/agentd-run/agentd/internal/types"
)

func TestParseJobScope(t *testing.T) {
	require.True(t, parseJobScope("all").permits("anything"))
	require.True(t, parseJobScope("").permits("anything"))
	require.True(t, parseJobScope("ALL").permits("anything"))

	scoped := parseJobScope(" read_file, search_memory ,")
	require.True(t, scoped.permits("read_file"))
	require.True(t, scoped.permits("search_memory"))
	require.False(t, scoped.permits("exec_shell"))
}

func TestFilterSchemas(t *testing.T) {
	schemas := []types.ToolSchema{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	require.Equal(t, schemas, filterSchemas(schemas, fullScope()))

	restricted := filterSchemas(schemas, toolScope{allowed: map[string]bool{"b": true}})
	require.Len(t, restricted, 1)
	require.Equal(t, "b", restricted[0].Name)

	require.Empty(t, filterSchemas(schemas, emptyScope()))
}

func TestScopedExecutorDeniesOutOfScopeToolWithoutTouchingInner(t *testing.T) {
	registry := tools.NewRegistry(nil)
	registry.Register(echoTool{})
	inner := tools.NewExecutor(registry, noPriorApproval{}, nil, tools.SanitizationConfig{})

	scope := toolScope{allowed: map[string]bool{"other": true}}
	m := metrics.New()
	se := newScopedExecutor(inner, scope, m)

	_, err := se.Execute(context.Background(), types.ToolCall{ID: "1", Name: "echo"})
	require.Error(t, err)
}

func TestScopedExecutorAllowsInScopeTool(t *testing.T) {
	registry := tools.NewRegistry(nil)
	registry.Register(echoTool{})
	inner := tools.NewExecutor(registry, noPriorApproval{}, nil, tools.SanitizationConfig{})

	se := newScopedExecutor(inner, fullScope(), metrics.New())
	out, err := se.Execute(context.Background(), types.ToolCall{ID: "1", Name: "echo", Arguments: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.Equal(t, "echoed", out)
}

func TestScopedExecutorSkipsMetricsOnApprovalRequired(t *testing.T) {
	registry := tools.NewRegistry(nil)
	registry.Register(echoTool{})
	// require approval for "echo" with a checker that never consumes one,
	// so Execute always returns ApprovalRequiredError.
	inner := tools.NewExecutor(registry, noPriorApproval{}, []string{"echo"}, tools.SanitizationConfig{})

	se := newScopedExecutor(inner, fullScope(), metrics.New())
	_, err := se.Execute(context.Background(), types.ToolCall{ID: "1", Name: "echo", Arguments: json.RawMessage(`{}`)})

	var approvalErr *tools.ApprovalRequiredError
	require.True(t, errors.As(err, &approvalErr))
}

func TestSinkRegistryLookupByChannelPrefix(t *testing.T) {
	r := newSinkRegistry()
	sink := &stubSink{}
	r.Register("telegram", sink)

	got, ok := r.lookup("telegram:12345")
	require.True(t, ok)
	require.Same(t, sink, got)

	_, ok = r.lookup("cli:owner")
	require.False(t, ok)
}
