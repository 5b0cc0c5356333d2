package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPGetToolCapsAndReturnsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	}))
	defer srv.Close()

	tool := &HTTPGetTool{}
	out, err := tool.Execute(context.Background(), json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL)))
	require.NoError(t, err)
	require.Contains(t, out, "status=200")
	require.Contains(t, out, "pong")
}

func TestHTTPGetToolMissingURL(t *testing.T) {
	tool := &HTTPGetTool{}
	_, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.ErrorContains(t, err, "missing url")
}
