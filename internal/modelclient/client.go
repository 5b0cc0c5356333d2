package modelclient

import (
	"context"
	"fmt"

	"github.com/agentd-run/agentd/internal/types"
)

// Client is the Model Client's public contract (spec.md §4.H): chat,
// chat_stream, summarize, resolve_config.
type Client struct {
	registry *ConfigRegistry
	chain    *Chain
	// summarizeAlias is the alias used for compaction summaries; Summarize
	// fails when it is empty.
	summarizeAlias string
}

// New builds a Client over registry, dispatching providers by tag.
func New(registry *ConfigRegistry, providers map[string]Provider, summarizeAlias string) *Client {
	return &Client{
		registry:       registry,
		chain:          NewChain(registry, providers),
		summarizeAlias: summarizeAlias,
	}
}

// ResolveConfig exposes the inheritance-resolved config for alias.
func (c *Client) ResolveConfig(alias string) (ResolvedConfig, error) {
	return c.registry.Resolve(alias)
}

// Chat issues a non-streaming completion against alias's fallback chain.
func (c *Client) Chat(ctx context.Context, alias string, messages []types.Message, tools []types.ToolSchema) (Response, error) {
	return c.chain.Invoke(ctx, alias, func(ctx context.Context, cfg ResolvedConfig, p Provider) (Response, error) {
		start := nowMillis()
		resp, err := p.Chat(ctx, cfg, messages, tools)
		if err != nil {
			return Response{}, err
		}
		resp.LatencyMS = nowMillis() - start
		resp.UsedModel = cfg.Model
		resp.Provider = cfg.Provider
		return resp, nil
	})
}

// ChatStream issues a streaming completion against alias's primary config
// only — mid-stream provider failover would corrupt partially-delivered
// text, so the fallback chain applies to the connection-setup error only.
func (c *Client) ChatStream(ctx context.Context, alias string, messages []types.Message, tools []types.ToolSchema) (<-chan StreamChunk, error) {
	candidates, err := c.chain.candidates(alias)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, candidateAlias := range candidates {
		candidateCfg, resolveErr := c.registry.Resolve(candidateAlias)
		if resolveErr != nil {
			lastErr = resolveErr
			continue
		}
		provider, ok := c.chain.providers[candidateCfg.Provider]
		if !ok {
			lastErr = fmt.Errorf("modelclient: no provider registered for tag %q", candidateCfg.Provider)
			continue
		}
		stream, startErr := provider.ChatStream(ctx, candidateCfg, messages, tools)
		if startErr == nil {
			return stream, nil
		}
		lastErr = startErr
	}

	return nil, lastErr
}

// Summarize produces a compaction summary over messages, implementing
// session.Summarizer so it can be handed directly to session.Store.Compact.
func (c *Client) Summarize(ctx context.Context, messages []types.Message) (string, error) {
	alias := c.summarizeAlias
	if alias == "" {
		return "", fmt.Errorf("modelclient: no summarize alias configured")
	}
	prompt := types.Message{
		Role:    types.RoleUser,
		Content: "Summarize the preceding conversation into a compact durable memory, preserving facts, decisions, and open threads.",
	}
	resp, err := c.Chat(ctx, alias, append(append([]types.Message(nil), messages...), prompt), nil)
	if err != nil {
		return "", fmt.Errorf("modelclient: summarize: %w", err)
	}
	return resp.Content, nil
}
