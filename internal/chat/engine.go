// Package chat implements the Chat Engine (spec.md §4.I): the per-turn
// tool-loop state machine that drives a session from a freshly appended user
// message through model calls and tool executions to a final text response,
// suspending on approval gates instead of failing the turn outright.
//
// Grounded on the teacher's internal/agent/loop.go state machine
// (Init -> Stream -> ExecuteTools -> Continue -> Complete), generalized from
// its parallel multi-tool-call executor with job-queue async tools down to
// the serial, approval-gated, suspend/resume loop this package implements.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentd-run/agentd/internal/modelclient"
	"github.com/agentd-run/agentd/internal/session"
	"github.com/agentd-run/agentd/internal/tools"
	"github.com/agentd-run/agentd/internal/types"
)

// ErrMaxToolIterations is returned when a single Run or ContinueChat call
// would need more than Config.MaxToolIterations model round-trips to reach a
// text-complete response.
var ErrMaxToolIterations = errors.New("chat: max tool iterations exceeded")

const (
	defaultSoftMarginTokens  = 4000
	defaultMaxToolIterations = 10
)

// ModelCaller is the subset of modelclient.Client the engine depends on.
type ModelCaller interface {
	Chat(ctx context.Context, alias string, messages []types.Message, tools []types.ToolSchema) (modelclient.Response, error)
	ChatStream(ctx context.Context, alias string, messages []types.Message, tools []types.ToolSchema) (<-chan modelclient.StreamChunk, error)
}

// StreamEvent is one element of a streaming Run/ContinueChat call. Exactly
// one of Delta, ApprovalRequired, or Err carries meaning per event; the
// final event always has Done=true, with Response populated only on a
// clean text-complete finish.
type StreamEvent struct {
	Delta            string
	ApprovalRequired *tools.ApprovalRequiredError
	Response         modelclient.Response
	Err              error
	Done             bool
}

// streamEventBufferSize matches the teacher's response-chunk channel buffer.
const streamEventBufferSize = 10

// VisionDescriber produces a text description of an image, used to degrade
// image attachments into plain text for models without vision support.
type VisionDescriber interface {
	Describe(ctx context.Context, image types.ImageAttachment) (string, error)
}

// ToolExecutor is the subset of *tools.Executor the engine depends on,
// narrowed to an interface so a caller (the Turn Controller) can wrap it
// with a tool-scope restriction per trust level without the engine knowing.
type ToolExecutor interface {
	Execute(ctx context.Context, call types.ToolCall) (string, error)
	ExecuteApproved(ctx context.Context, call types.ToolCall) (string, error)
}

// Config holds the per-engine tunables spec.md §4.I and §5 name.
type Config struct {
	// ModelAlias is the modelclient config alias this engine dispatches to.
	ModelAlias string
	// ContextWindow is the model's total token window.
	ContextWindow int
	// ReserveTokens is held back for the model's own response.
	ReserveTokens int
	// SoftMarginTokens pads the soft-threshold predicate below the hard
	// one; defaults to 4000 when zero.
	SoftMarginTokens int
	// VisionSupport is false when the target model cannot accept image
	// content, triggering the vision-degradation step.
	VisionSupport bool
	// MaxToolIterations bounds model round-trips per Run/ContinueChat
	// call; defaults to 10 when zero.
	MaxToolIterations int
}

// Engine runs the tool-loop state machine over one session at a time.
type Engine struct {
	model      ModelCaller
	executor   ToolExecutor
	vision     VisionDescriber
	summarizer session.Summarizer
	cfg        Config
	logger     *slog.Logger
}

// New creates an Engine. vision and summarizer may be nil; a nil vision
// describer with VisionSupport=false degrades images to a fixed placeholder
// instead of a model-produced description, and a nil summarizer disables the
// hard-threshold compaction step.
func New(model ModelCaller, executor ToolExecutor, vision VisionDescriber, summarizer session.Summarizer, cfg Config, logger *slog.Logger) *Engine {
	if cfg.SoftMarginTokens == 0 {
		cfg.SoftMarginTokens = defaultSoftMarginTokens
	}
	if cfg.MaxToolIterations == 0 {
		cfg.MaxToolIterations = defaultMaxToolIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{model: model, executor: executor, vision: vision, summarizer: summarizer, cfg: cfg, logger: logger}
}

// Run executes the full per-turn algorithm for a freshly received user
// message: vision degradation, append, token-budget evaluation, then the
// dispatch/await/tool-execute loop until a text-complete response or a
// suspend condition (approval required, max iterations exceeded).
func (e *Engine) Run(ctx context.Context, store *session.Store, toolSchemas []types.ToolSchema, userMsg types.Message) (modelclient.Response, error) {
	userMsg = e.degradeImages(ctx, userMsg)

	if err := store.Append(userMsg); err != nil {
		return modelclient.Response{}, fmt.Errorf("chat: append user message: %w", err)
	}

	if err := e.evaluateTokenBudget(ctx, store); err != nil {
		return modelclient.Response{}, fmt.Errorf("chat: token budget: %w", err)
	}

	return e.loop(ctx, store, toolSchemas)
}

// RunStream is the streaming-mode counterpart of Run: the same vision
// degradation, append, and token-budget steps happen synchronously (so a
// setup failure surfaces as a normal error return), then the dispatch loop
// runs in a goroutine emitting StreamEvents as the model streams its
// response. Per spec, an approval-gated tool call emits an ApprovalRequired
// event and stops the loop instead of returning a typed error; the caller
// resumes with ApproveToolCall followed by ContinueChatStream.
func (e *Engine) RunStream(ctx context.Context, store *session.Store, toolSchemas []types.ToolSchema, userMsg types.Message) (<-chan *StreamEvent, error) {
	userMsg = e.degradeImages(ctx, userMsg)

	if err := store.Append(userMsg); err != nil {
		return nil, fmt.Errorf("chat: append user message: %w", err)
	}

	if err := e.evaluateTokenBudget(ctx, store); err != nil {
		return nil, fmt.Errorf("chat: token budget: %w", err)
	}

	out := make(chan *StreamEvent, streamEventBufferSize)
	go func() {
		defer close(out)
		e.loopStream(ctx, store, toolSchemas, out)
	}()
	return out, nil
}

// ContinueChatStream is the streaming-mode counterpart of ContinueChat: it
// re-scans the tail of the session for unanswered tool calls from the most
// recent assistant message (calls already answered via ApproveToolCall or
// ProvideToolResult are skipped), executing each through the normal
// approval-gated path, then resumes the dispatch loop. If a still-later call
// in the same batch again requires approval, an ApprovalRequired event is
// emitted and the loop stops again.
func (e *Engine) ContinueChatStream(ctx context.Context, store *session.Store, toolSchemas []types.ToolSchema) <-chan *StreamEvent {
	out := make(chan *StreamEvent, streamEventBufferSize)
	go func() {
		defer close(out)

		snap := store.Snapshot()
		open := snap.OpenToolCallIDs()
		if len(open) > 0 {
			for _, call := range lastToolCalls(snap) {
				if _, stillOpen := open[call.ID]; !stillOpen {
					continue
				}
				result, err := e.executor.Execute(ctx, call)
				if err != nil {
					var approvalErr *tools.ApprovalRequiredError
					if errors.As(err, &approvalErr) {
						out <- &StreamEvent{ApprovalRequired: approvalErr, Done: true}
						return
					}
					result = fmt.Sprintf("Error: %s", err)
				}
				if appendErr := store.Append(types.Message{Role: types.RoleTool, ToolCallID: call.ID, Content: result}); appendErr != nil {
					out <- &StreamEvent{Err: fmt.Errorf("chat: append tool result: %w", appendErr), Done: true}
					return
				}
			}
		}

		e.loopStream(ctx, store, toolSchemas, out)
	}()
	return out
}

// ContinueChat resumes a turn that suspended on an approval gate. It
// re-scans the tail of the session for tool calls from the most recent
// assistant message that remain unanswered, executes each through the
// normal approval-gated path (calls already answered via ApproveToolCall or
// ProvideToolResult are skipped), and then resumes the dispatch loop. If a
// still-later call in the same batch again requires approval, ContinueChat
// returns that *tools.ApprovalRequiredError unchanged.
func (e *Engine) ContinueChat(ctx context.Context, store *session.Store, toolSchemas []types.ToolSchema) (modelclient.Response, error) {
	snap := store.Snapshot()
	open := snap.OpenToolCallIDs()
	if len(open) > 0 {
		for _, call := range lastToolCalls(snap) {
			if _, stillOpen := open[call.ID]; !stillOpen {
				continue
			}
			result, err := e.executor.Execute(ctx, call)
			if err != nil {
				var approvalErr *tools.ApprovalRequiredError
				if errors.As(err, &approvalErr) {
					return modelclient.Response{}, approvalErr
				}
				result = fmt.Sprintf("Error: %s", err)
			}
			if appendErr := store.Append(types.Message{Role: types.RoleTool, ToolCallID: call.ID, Content: result}); appendErr != nil {
				return modelclient.Response{}, fmt.Errorf("chat: append tool result: %w", appendErr)
			}
		}
	}

	return e.loop(ctx, store, toolSchemas)
}

// ApproveToolCall applies an out-of-band approval decision for call: when
// approved it executes the tool immediately (bypassing the approval gate,
// since the caller is the authority that just granted it) and appends the
// result; when denied it appends a fixed "User denied" tool reply. Either
// way the caller must follow with ContinueChat to resume the loop.
func (e *Engine) ApproveToolCall(ctx context.Context, store *session.Store, call types.ToolCall, approved bool) error {
	content := "User denied"
	if approved {
		result, err := e.executor.ExecuteApproved(ctx, call)
		if err != nil {
			content = fmt.Sprintf("Error: %s", err)
		} else {
			content = result
		}
	}
	return store.Append(types.Message{Role: types.RoleTool, ToolCallID: call.ID, Content: content})
}

// ProvideToolResult appends text directly as the reply to call, bypassing
// tool execution entirely. The caller must follow with ContinueChat to
// resume the loop.
func (e *Engine) ProvideToolResult(store *session.Store, call types.ToolCall, text string) error {
	return store.Append(types.Message{Role: types.RoleTool, ToolCallID: call.ID, Content: text})
}

// loop implements Dispatch -> Await-response -> {Text-complete |
// Tool-dispatch -> Per-tool-execute -> Tool-result-appended -> Dispatch} ->
// Done, bounded by Config.MaxToolIterations.
func (e *Engine) loop(ctx context.Context, store *session.Store, toolSchemas []types.ToolSchema) (modelclient.Response, error) {
	for iteration := 0; ; iteration++ {
		if iteration >= e.cfg.MaxToolIterations {
			return modelclient.Response{}, ErrMaxToolIterations
		}

		snap := store.Snapshot()
		resp, err := e.model.Chat(ctx, e.cfg.ModelAlias, snap.Messages, toolSchemas)
		if err != nil {
			return modelclient.Response{}, fmt.Errorf("chat: model call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			if err := store.Append(types.Message{Role: types.RoleAssistant, Content: resp.Content}); err != nil {
				return modelclient.Response{}, fmt.Errorf("chat: append assistant message: %w", err)
			}
			return resp, nil
		}

		if err := store.Append(types.Message{Role: types.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}); err != nil {
			return modelclient.Response{}, fmt.Errorf("chat: append assistant message: %w", err)
		}

		for _, call := range resp.ToolCalls {
			result, err := e.executor.Execute(ctx, call)
			if err != nil {
				var approvalErr *tools.ApprovalRequiredError
				if errors.As(err, &approvalErr) {
					return modelclient.Response{}, approvalErr
				}
				result = fmt.Sprintf("Error: %s", err)
			}
			if appendErr := store.Append(types.Message{Role: types.RoleTool, ToolCallID: call.ID, Content: result}); appendErr != nil {
				return modelclient.Response{}, fmt.Errorf("chat: append tool result: %w", appendErr)
			}
		}
	}
}

// loopStream is the streaming-mode twin of loop: it drives the same
// Dispatch -> Await-response -> {Text-complete | Tool-dispatch ->
// Per-tool-execute -> Tool-result-appended -> Dispatch} -> Done state
// machine, but over ChatStream rather than Chat, relaying each text delta as
// a StreamEvent and emitting an ApprovalRequired event (instead of
// returning a typed error) when an approval-gated call is reached.
func (e *Engine) loopStream(ctx context.Context, store *session.Store, toolSchemas []types.ToolSchema, out chan<- *StreamEvent) {
	for iteration := 0; ; iteration++ {
		if iteration >= e.cfg.MaxToolIterations {
			out <- &StreamEvent{Err: ErrMaxToolIterations, Done: true}
			return
		}

		snap := store.Snapshot()
		chunks, err := e.model.ChatStream(ctx, e.cfg.ModelAlias, snap.Messages, toolSchemas)
		if err != nil {
			out <- &StreamEvent{Err: fmt.Errorf("chat: model call: %w", err), Done: true}
			return
		}

		var content strings.Builder
		var toolCalls []types.ToolCall
		var streamErr error
		for chunk := range chunks {
			if chunk.Err != nil {
				streamErr = chunk.Err
				continue
			}
			if chunk.Delta != "" {
				content.WriteString(chunk.Delta)
				out <- &StreamEvent{Delta: chunk.Delta}
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = chunk.ToolCalls
			}
		}
		if streamErr != nil {
			out <- &StreamEvent{Err: fmt.Errorf("chat: model call: %w", streamErr), Done: true}
			return
		}

		if len(toolCalls) == 0 {
			resp := modelclient.Response{Content: content.String()}
			if err := store.Append(types.Message{Role: types.RoleAssistant, Content: resp.Content}); err != nil {
				out <- &StreamEvent{Err: fmt.Errorf("chat: append assistant message: %w", err), Done: true}
				return
			}
			out <- &StreamEvent{Done: true, Response: resp}
			return
		}

		if err := store.Append(types.Message{Role: types.RoleAssistant, Content: content.String(), ToolCalls: toolCalls}); err != nil {
			out <- &StreamEvent{Err: fmt.Errorf("chat: append assistant message: %w", err), Done: true}
			return
		}

		for _, call := range toolCalls {
			result, err := e.executor.Execute(ctx, call)
			if err != nil {
				var approvalErr *tools.ApprovalRequiredError
				if errors.As(err, &approvalErr) {
					out <- &StreamEvent{ApprovalRequired: approvalErr, Done: true}
					return
				}
				result = fmt.Sprintf("Error: %s", err)
			}
			if appendErr := store.Append(types.Message{Role: types.RoleTool, ToolCallID: call.ID, Content: result}); appendErr != nil {
				out <- &StreamEvent{Err: fmt.Errorf("chat: append tool result: %w", appendErr), Done: true}
				return
			}
		}
	}
}

// evaluateTokenBudget implements the soft/hard token-budget predicates
// against context_window - reserve_tokens: the hard threshold triggers
// summarizing compaction, the softer one (padded by SoftMarginTokens)
// injects a user message asking the model to note durable memory before the
// window fills. Hard compaction, when it fires, supersedes the soft nudge.
func (e *Engine) evaluateTokenBudget(ctx context.Context, store *session.Store) error {
	hardThreshold := e.cfg.ContextWindow - e.cfg.ReserveTokens
	softThreshold := hardThreshold - e.cfg.SoftMarginTokens
	if hardThreshold <= 0 {
		return nil
	}

	count := store.TokenCount()
	switch {
	case count >= hardThreshold && e.summarizer != nil:
		return store.Compact(ctx, e.summarizer)
	case count >= softThreshold:
		return store.Append(types.Message{
			Role:    types.RoleUser,
			Content: "[system] Context window is filling up. Before responding, note any durable facts, decisions, or open threads worth remembering past this conversation.",
		})
	}
	return nil
}

// degradeImages replaces image attachments with text descriptions when the
// target model has no vision support, per spec.md §4.I step 1.
func (e *Engine) degradeImages(ctx context.Context, msg types.Message) types.Message {
	if e.cfg.VisionSupport || len(msg.Images) == 0 {
		return msg
	}

	var descriptions []string
	for _, img := range msg.Images {
		if e.vision == nil {
			descriptions = append(descriptions, "[image attached; no vision support configured]")
			continue
		}
		desc, err := e.vision.Describe(ctx, img)
		if err != nil {
			e.logger.Warn("vision degradation failed", "error", err)
			descriptions = append(descriptions, fmt.Sprintf("[image description unavailable: %s]", err))
			continue
		}
		descriptions = append(descriptions, fmt.Sprintf("[image: %s]", desc))
	}

	if msg.Content != "" {
		msg.Content += "\n"
	}
	msg.Content += strings.Join(descriptions, "\n")
	msg.Images = nil
	return msg
}

// lastToolCalls returns the ToolCalls of the most recent assistant message
// in sess, in their original order, or nil if none.
func lastToolCalls(sess *types.Session) []types.ToolCall {
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == types.RoleAssistant && len(sess.Messages[i].ToolCalls) > 0 {
			return sess.Messages[i].ToolCalls
		}
	}
	return nil
}
