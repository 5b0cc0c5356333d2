package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubMCPCaller struct {
	gotServer, gotMethod string
	gotParams            any
	result               json.RawMessage
	err                  error
}

func (s *stubMCPCaller) Call(ctx context.Context, name, method string, params any) (json.RawMessage, error) {
	s.gotServer, s.gotMethod, s.gotParams = name, method, params
	return s.result, s.err
}

func TestMCPToolDispatchesToolsCall(t *testing.T) {
	caller := &stubMCPCaller{result: json.RawMessage(`{"content":"ok"}`)}
	tool := &MCPTool{ToolName: "search_docs", ServerName: "docs", RemoteTool: "search", Manager: caller}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"foo"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"content":"ok"}`, out)
	require.Equal(t, "docs", caller.gotServer)
	require.Equal(t, "tools/call", caller.gotMethod)

	params, ok := caller.gotParams.(mcpCallParams)
	require.True(t, ok)
	require.Equal(t, "search", params.Name)
	require.JSONEq(t, `{"query":"foo"}`, string(params.Arguments))
}

func TestMCPToolWrapsUnderlyingError(t *testing.T) {
	caller := &stubMCPCaller{err: context.DeadlineExceeded}
	tool := &MCPTool{ToolName: "search_docs", ServerName: "docs", RemoteTool: "search", Manager: caller}

	_, err := tool.Execute(context.Background(), nil)
	require.ErrorContains(t, err, "search_docs")
}
