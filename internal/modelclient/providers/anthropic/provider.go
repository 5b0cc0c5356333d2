// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// modelclient.Provider contract, backing the "anthropic" provider tag.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentd-run/agentd/internal/modelclient"
	"github.com/agentd-run/agentd/internal/types"
)

// Provider backs the "anthropic" tag in the Model Client's provider
// dispatch.
type Provider struct {
	defaultAPIKeyEnv string
}

// New returns an Anthropic provider; defaultAPIKeyEnv names the
// environment variable read when a ResolvedConfig doesn't name its own.
func New(defaultAPIKeyEnv string) *Provider {
	if defaultAPIKeyEnv == "" {
		defaultAPIKeyEnv = "ANTHROPIC_API_KEY"
	}
	return &Provider{defaultAPIKeyEnv: defaultAPIKeyEnv}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) apiKey(cfg modelclient.ResolvedConfig) (string, error) {
	envName := cfg.APIKeyEnv
	if envName == "" {
		envName = p.defaultAPIKeyEnv
	}
	key := os.Getenv(envName)
	if key == "" {
		return "", fmt.Errorf("anthropic: missing API key (env %s unset)", envName)
	}
	return key, nil
}

func (p *Provider) client(cfg modelclient.ResolvedConfig) (*sdk.Client, error) {
	key, err := p.apiKey(cfg)
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)
	return &client, nil
}

func toAnthropicMessages(messages []types.Message) ([]sdk.MessageParam, string) {
	var system string
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case types.RoleUser, types.RoleTool:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case types.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return out, system
}

func toAnthropicTools(tools []types.ToolSchema) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

// Chat issues one non-streaming Messages.New call.
func (p *Provider) Chat(ctx context.Context, cfg modelclient.ResolvedConfig, messages []types.Message, tools []types.ToolSchema) (modelclient.Response, error) {
	client, err := p.client(cfg)
	if err != nil {
		return modelclient.Response{}, err
	}

	msgs, system := toAnthropicMessages(messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(cfg.Model),
		MaxTokens: int64(maxTokensOrDefault(cfg.MaxTokens)),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return modelclient.Response{}, wrapStatus(err)
	}

	var content string
	var calls []types.ToolCall
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			content += v.Text
		case sdk.ToolUseBlock:
			args, _ := json.Marshal(v.Input)
			calls = append(calls, types.ToolCall{ID: v.ID, Name: v.Name, Arguments: args})
		}
	}

	return modelclient.Response{Content: content, ToolCalls: calls}, nil
}

// ChatStream issues a streaming Messages.NewStreaming call, translating
// SSE deltas into modelclient.StreamChunk values.
func (p *Provider) ChatStream(ctx context.Context, cfg modelclient.ResolvedConfig, messages []types.Message, tools []types.ToolSchema) (<-chan modelclient.StreamChunk, error) {
	client, err := p.client(cfg)
	if err != nil {
		return nil, err
	}

	msgs, system := toAnthropicMessages(messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(cfg.Model),
		MaxTokens: int64(maxTokensOrDefault(cfg.MaxTokens)),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	out := make(chan modelclient.StreamChunk)
	stream := client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(out)
		var message sdk.Message
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- modelclient.StreamChunk{Err: err, Done: true}
				return
			}
			if delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
				if textDelta, ok := delta.Delta.AsAny().(sdk.TextDelta); ok {
					out <- modelclient.StreamChunk{Delta: textDelta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- modelclient.StreamChunk{Err: wrapStatus(err), Done: true}
			return
		}

		var calls []types.ToolCall
		for _, block := range message.Content {
			if tu, ok := block.AsAny().(sdk.ToolUseBlock); ok {
				args, _ := json.Marshal(tu.Input)
				calls = append(calls, types.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
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

// wrapStatus extracts the SDK's HTTP status code, if any, into a
// modelclient.StatusError so the fallback chain's glob policy can match on
// it directly rather than scraping the error string.
func wrapStatus(err error) error {
	var apiErr *sdk.Error
	if errorsAsAPIErr(err, &apiErr) {
		return &modelclient.StatusError{Status: apiErr.StatusCode, Err: err}
	}
	return err
}

func errorsAsAPIErr(err error, target **sdk.Error) bool {
	se, ok := err.(*sdk.Error)
	if !ok {
		return false
	}
	*target = se
	return true
}
