// Package bedrock adapts aws-sdk-go-v2's bedrockruntime Converse API to the
// modelclient.Provider contract, backing the "bedrock" provider tag.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/agentd-run/agentd/internal/modelclient"
	"github.com/agentd-run/agentd/internal/types"
)

// Provider backs the "bedrock" tag in the Model Client's provider dispatch.
type Provider struct {
	client *bedrockruntime.Client
}

// New loads the default AWS config (region/credential chain from the
// environment, matching the teacher's Bedrock provider setup) and returns
// a ready Provider.
func New(ctx context.Context) (*Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return &Provider{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (p *Provider) Name() string { return "bedrock" }

func toBedrockMessages(messages []types.Message) ([]brtypes.Message, []brtypes.SystemContentBlock) {
	var system []brtypes.SystemContentBlock
	out := make([]brtypes.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case types.RoleUser, types.RoleTool:
			out = append(out, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case types.RoleAssistant:
			out = append(out, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return out, system
}

func toBedrockToolConfig(tools []types.ToolSchema) *brtypes.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	var specs []brtypes.Tool
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpec{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document(schema)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: specs}
}

// Chat issues one non-streaming Converse call.
func (p *Provider) Chat(ctx context.Context, cfg modelclient.ResolvedConfig, messages []types.Message, tools []types.ToolSchema) (modelclient.Response, error) {
	msgs, system := toBedrockMessages(messages)

	input := &bedrockruntime.ConverseInput{
		ModelId:    aws.String(cfg.Model),
		Messages:   msgs,
		System:     system,
		ToolConfig: toBedrockToolConfig(tools),
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokensOrDefault(cfg.MaxTokens))),
		},
	}

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return modelclient.Response{}, wrapStatus(err)
	}

	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return modelclient.Response{}, fmt.Errorf("bedrock: unexpected converse output shape")
	}

	var content string
	var calls []types.ToolCall
	for _, block := range msgOut.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			content += v.Value
		case *brtypes.ContentBlockMemberToolUse:
			args, _ := json.Marshal(v.Value.Input)
			calls = append(calls, types.ToolCall{ID: aws.ToString(v.Value.ToolUseId), Name: aws.ToString(v.Value.Name), Arguments: args})
		}
	}

	return modelclient.Response{Content: content, ToolCalls: calls}, nil
}

// ChatStream issues a ConverseStream call, the Bedrock streaming analogue
// of Converse.
func (p *Provider) ChatStream(ctx context.Context, cfg modelclient.ResolvedConfig, messages []types.Message, tools []types.ToolSchema) (<-chan modelclient.StreamChunk, error) {
	msgs, system := toBedrockMessages(messages)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:    aws.String(cfg.Model),
		Messages:   msgs,
		System:     system,
		ToolConfig: toBedrockToolConfig(tools),
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokensOrDefault(cfg.MaxTokens))),
		},
	}

	resp, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, wrapStatus(err)
	}

	out := make(chan modelclient.StreamChunk)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			if delta, ok := event.(*brtypes.ConverseStreamOutputMemberContentBlockDelta); ok {
				if textDelta, ok := delta.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
					out <- modelclient.StreamChunk{Delta: textDelta.Value}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- modelclient.StreamChunk{Err: wrapStatus(err), Done: true}
			return
		}
		out <- modelclient.StreamChunk{Done: true}
	}()

	return out, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

// wrapStatus extracts smithy's structured HTTP response status, if any,
// into a modelclient.StatusError.
func wrapStatus(err error) error {
	var apiErr smithy.APIError
	if ok := asSmithyAPIError(err, &apiErr); ok {
		// Bedrock's SDK errors carry fault category rather than a numeric
		// status directly; 429/5xx are surfaced via ErrorCode text, so fall
		// through to the fallback chain's string heuristic rather than
		// guess a number here.
		return fmt.Errorf("bedrock: %s: %w", apiErr.ErrorCode(), err)
	}
	return err
}

func asSmithyAPIError(err error, target *smithy.APIError) bool {
	se, ok := err.(smithy.APIError)
	if !ok {
		return false
	}
	*target = se
	return true
}

// document adapts a plain map into the bedrockruntime document.Interface
// value InputSchema expects; the SDK's document package marshals any Go
// value implementing json.Marshaler-compatible shape.
func document(v map[string]any) smithyDocument {
	return smithyDocument{v: v}
}

type smithyDocument struct{ v map[string]any }

func (d smithyDocument) MarshalSmithyDocument() ([]byte, error) {
	return json.Marshal(d.v)
}

func (d smithyDocument) UnmarshalSmithyDocument(b []byte) error {
	return json.Unmarshal(b, &d.v)
}
