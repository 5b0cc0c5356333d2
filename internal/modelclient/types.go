// Package modelclient implements the Model Client (spec.md §4.H): config
// inheritance resolution, provider dispatch, and an ordered fallback chain
// over a fixed set of provider backends.
package modelclient

import (
	"context"
	"time"

	"github.com/agentd-run/agentd/internal/types"
)

// Response is the result of one non-streaming chat call.
type Response struct {
	Content   string
	UsedModel string
	Provider  string
	LatencyMS int64
	ToolCalls []types.ToolCall
}

// StreamChunk is one element of a chat_stream response.
type StreamChunk struct {
	Delta     string
	ToolCalls []types.ToolCall
	Done      bool
	Err       error
}

// Provider is one of the fixed set of backends a ModelConfig's provider tag
// resolves to (Anthropic-compatible, OpenAI-compatible, local-inference,
// CLI-subprocess, or a custom alias).
type Provider interface {
	Name() string
	Chat(ctx context.Context, cfg ResolvedConfig, messages []types.Message, tools []types.ToolSchema) (Response, error)
	ChatStream(ctx context.Context, cfg ResolvedConfig, messages []types.Message, tools []types.ToolSchema) (<-chan StreamChunk, error)
}

// ResolvedConfig is a ModelConfig after inheritance-chain merge, ready to
// hand to a Provider.
type ResolvedConfig struct {
	Alias          string
	Provider       string
	Model          string
	APIKeyEnv      string
	BaseURL        string
	MaxTokens      int
	FallbackModels []string
	FallbackPolicy FallbackPolicy
	Extras         map[string]string
}

func nowMillis() int64 { return time.Now().UnixMilli() }
