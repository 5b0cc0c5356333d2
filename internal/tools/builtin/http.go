package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agentd-run/agentd/internal/types"
)

// MaxHTTPBody bounds how many response bytes the HTTP GET tool returns.
const MaxHTTPBody = 64 * 1024

// HTTPGetTool performs a byte-capped GET request.
type HTTPGetTool struct {
	Client *http.Client
}

type httpGetArgs struct {
	URL string `json:"url"`
}

func (t *HTTPGetTool) Name() string { return "http_get" }

func (t *HTTPGetTool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        "http_get",
		Description: "Fetch a URL over HTTP GET, capped to 64KB of response body.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"url": {"type": "string"}},
			"required": ["url"]
		}`),
	}
}

func (t *HTTPGetTool) Execute(ctx context.Context, argsJSON json.RawMessage) (string, error) {
	var args httpGetArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil || args.URL == "" {
		return "", fmt.Errorf("missing url")
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxHTTPBody))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("status=%d\n%s", resp.StatusCode, body), nil
}
