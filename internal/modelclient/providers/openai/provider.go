// Package openai adapts github.com/sashabaranov/go-openai to the
// modelclient.Provider contract, backing the "openai" provider tag (and the
// OpenAI-compatible ingress proxy's internal re-dispatch).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	sdk "github.com/sashabaranov/go-openai"

	"github.com/agentd-run/agentd/internal/modelclient"
	"github.com/agentd-run/agentd/internal/types"
)

// Provider backs the "openai" tag in the Model Client's provider dispatch.
type Provider struct {
	defaultAPIKeyEnv string
}

// New returns an OpenAI-compatible provider.
func New(defaultAPIKeyEnv string) *Provider {
	if defaultAPIKeyEnv == "" {
		defaultAPIKeyEnv = "OPENAI_API_KEY"
	}
	return &Provider{defaultAPIKeyEnv: defaultAPIKeyEnv}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) client(cfg modelclient.ResolvedConfig) (*sdk.Client, error) {
	envName := cfg.APIKeyEnv
	if envName == "" {
		envName = p.defaultAPIKeyEnv
	}
	key := os.Getenv(envName)
	if key == "" {
		return nil, fmt.Errorf("openai: missing API key (env %s unset)", envName)
	}

	config := sdk.DefaultConfig(key)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return sdk.NewClientWithConfig(config), nil
}

func toChatMessages(messages []types.Message) []sdk.ChatCompletionMessage {
	out := make([]sdk.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleSystem, Content: m.Content})
		case types.RoleUser:
			out = append(out, sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleUser, Content: m.Content})
		case types.RoleAssistant:
			msg := sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, sdk.ToolCall{
					ID:   tc.ID,
					Type: sdk.ToolTypeFunction,
					Function: sdk.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, msg)
		case types.RoleTool:
			out = append(out, sdk.ChatCompletionMessage{
				Role:       sdk.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func toChatTools(tools []types.ToolSchema) []sdk.Tool {
	out := make([]sdk.Tool, 0, len(tools))
	for _, t := range tools {
		var params any
		_ = json.Unmarshal(t.Parameters, &params)
		out = append(out, sdk.Tool{
			Type: sdk.ToolTypeFunction,
			Function: &sdk.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// Chat issues one non-streaming CreateChatCompletion call.
func (p *Provider) Chat(ctx context.Context, cfg modelclient.ResolvedConfig, messages []types.Message, tools []types.ToolSchema) (modelclient.Response, error) {
	client, err := p.client(cfg)
	if err != nil {
		return modelclient.Response{}, err
	}

	req := sdk.ChatCompletionRequest{
		Model:     cfg.Model,
		Messages:  toChatMessages(messages),
		MaxTokens: maxTokensOrDefault(cfg.MaxTokens),
	}
	if len(tools) > 0 {
		req.Tools = toChatTools(tools)
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return modelclient.Response{}, wrapStatus(err)
	}
	if len(resp.Choices) == 0 {
		return modelclient.Response{}, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0].Message
	var calls []types.ToolCall
	for _, tc := range choice.ToolCalls {
		calls = append(calls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)})
	}

	return modelclient.Response{Content: choice.Content, ToolCalls: calls}, nil
}

// ChatStream issues a streaming CreateChatCompletionStream call.
func (p *Provider) ChatStream(ctx context.Context, cfg modelclient.ResolvedConfig, messages []types.Message, tools []types.ToolSchema) (<-chan modelclient.StreamChunk, error) {
	client, err := p.client(cfg)
	if err != nil {
		return nil, err
	}

	req := sdk.ChatCompletionRequest{
		Model:     cfg.Model,
		Messages:  toChatMessages(messages),
		MaxTokens: maxTokensOrDefault(cfg.MaxTokens),
		Stream:    true,
	}
	if len(tools) > 0 {
		req.Tools = toChatTools(tools)
	}

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapStatus(err)
	}

	out := make(chan modelclient.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		toolCallsByIndex := map[int]*types.ToolCall{}
		for {
			chunk, err := stream.Recv()
			if err != nil {
				if err.Error() == "EOF" {
					break
				}
				out <- modelclient.StreamChunk{Err: wrapStatus(err), Done: true}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				out <- modelclient.StreamChunk{Delta: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				existing, ok := toolCallsByIndex[idx]
				if !ok {
					existing = &types.ToolCall{ID: tc.ID, Name: tc.Function.Name}
					toolCallsByIndex[idx] = existing
				}
				existing.Arguments = append(existing.Arguments, []byte(tc.Function.Arguments)...)
			}
		}

		var calls []types.ToolCall
		for i := 0; i < len(toolCallsByIndex); i++ {
			if tc, ok := toolCallsByIndex[i]; ok {
				calls = append(calls, *tc)
			}
		}
		out <- modelclient.StreamChunk{ToolCalls: calls, Done: true}
	}()

	return out, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

// wrapStatus extracts go-openai's structured *sdk.APIError status code into
// a modelclient.StatusError.
func wrapStatus(err error) error {
	if apiErr, ok := err.(*sdk.APIError); ok {
		return &modelclient.StatusError{Status: apiErr.HTTPStatusCode, Err: err}
	}
	if reqErr, ok := err.(*sdk.RequestError); ok {
		return &modelclient.StatusError{Status: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}
