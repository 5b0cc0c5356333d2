package modelclient

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/types"
)

// stubProvider exists only so Chain's provider-tag lookup succeeds; the
// actual behavior under test is driven by each test's call function, not
// by stubProvider's own methods.
type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Chat(context.Context, ResolvedConfig, []types.Message, []types.ToolSchema) (Response, error) {
	return Response{}, nil
}
func (s stubProvider) ChatStream(context.Context, ResolvedConfig, []types.Message, []types.ToolSchema) (<-chan StreamChunk, error) {
	return nil, nil
}

func registryWithFallback(t *testing.T, policy FallbackPolicy) (*ConfigRegistry, map[string]Provider) {
	t.Helper()
	reg, err := NewConfigRegistry([]ModelConfig{
		{Alias: "primary", Provider: "stub-primary", Model: "m1", FallbackModels: []string{"secondary"}, FallbackPolicy: policy},
		{Alias: "secondary", Provider: "stub-secondary", Model: "m2"},
	})
	require.NoError(t, err)
	providers := map[string]Provider{
		"stub-primary":   stubProvider{name: "stub-primary"},
		"stub-secondary": stubProvider{name: "stub-secondary"},
	}
	return reg, providers
}

func TestChainFallsBackOnAllowMatch(t *testing.T) {
	reg, providers := registryWithFallback(t, FallbackPolicy{Allow: []string{"5*"}})
	chain := NewChain(reg, providers)

	calls := 0
	resp, err := chain.Invoke(context.Background(), "primary", func(_ context.Context, cfg ResolvedConfig, _ Provider) (Response, error) {
		calls++
		if cfg.Alias == "primary" {
			return Response{}, &StatusError{Status: 503, Err: fmt.Errorf("overloaded")}
		}
		return Response{Content: "ok from secondary"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok from secondary", resp.Content)
	require.Equal(t, 2, calls)
}

func TestChainAbortsOnDenyMatch(t *testing.T) {
	reg, providers := registryWithFallback(t, FallbackPolicy{Deny: []string{"4*"}})
	chain := NewChain(reg, providers)

	calls := 0
	_, err := chain.Invoke(context.Background(), "primary", func(_ context.Context, cfg ResolvedConfig, _ Provider) (Response, error) {
		calls++
		return Response{}, &StatusError{Status: 401, Err: fmt.Errorf("unauthorized")}
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "deny policy")
	require.Equal(t, 1, calls)
}

func TestChainDefaultPolicyAborts(t *testing.T) {
	reg, providers := registryWithFallback(t, FallbackPolicy{Default: "abort"})
	chain := NewChain(reg, providers)

	calls := 0
	_, err := chain.Invoke(context.Background(), "primary", func(_ context.Context, cfg ResolvedConfig, _ Provider) (Response, error) {
		calls++
		return Response{}, fmt.Errorf("boom")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "default policy")
	require.Equal(t, 1, calls)
}

func TestChainReturnsLastErrorWhenExhausted(t *testing.T) {
	reg, providers := registryWithFallback(t, FallbackPolicy{Allow: []string{"5*"}})
	chain := NewChain(reg, providers)

	_, err := chain.Invoke(context.Background(), "primary", func(_ context.Context, cfg ResolvedConfig, _ Provider) (Response, error) {
		return Response{}, &StatusError{Status: 503, Err: fmt.Errorf("still down on %s", cfg.Alias)}
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "secondary")
}

func TestExtractStatusFallsBackToStringHeuristic(t *testing.T) {
	require.Equal(t, 429, extractStatus(fmt.Errorf("received 429 too many requests")))
	require.Equal(t, 500, extractStatus(fmt.Errorf("connection reset")))
}

func TestChainStopsOnFirstSuccess(t *testing.T) {
	reg, providers := registryWithFallback(t, FallbackPolicy{})
	chain := NewChain(reg, providers)

	calls := 0
	resp, err := chain.Invoke(context.Background(), "primary", func(_ context.Context, cfg ResolvedConfig, _ Provider) (Response, error) {
		calls++
		return Response{Content: "first try"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "first try", resp.Content)
	require.Equal(t, 1, calls)
}
