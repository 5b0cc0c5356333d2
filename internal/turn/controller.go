package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/agentd-run/agentd/internal/approval"
	"github.com/agentd-run/agentd/internal/artifact"
	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/chat"
	"github.com/agentd-run/agentd/internal/debounce"
	"github.com/agentd-run/agentd/internal/lock"
	"github.com/agentd-run/agentd/internal/memory"
	"github.com/agentd-run/agentd/internal/metrics"
	"github.com/agentd-run/agentd/internal/modelclient"
	"github.com/agentd-run/agentd/internal/persona"
	"github.com/agentd-run/agentd/internal/scheduler"
	"github.com/agentd-run/agentd/internal/script"
	"github.com/agentd-run/agentd/internal/session"
	"github.com/agentd-run/agentd/internal/tools"
	"github.com/agentd-run/agentd/internal/types"
	"github.com/agentd-run/agentd/internal/workspace"
)

const pollInterval = 500 * time.Millisecond

// clearCommand is the owner's in-band control for resetting a session.
const clearCommand = "!clear"

// noPriorApproval reports no pre-consumed one-shot approvals: every real
// approval in this daemon is requested fresh by the Chat Engine's suspend
// signal and resolved out-of-band through the Approval Coordinator, so
// *tools.Executor's own pre-consumed-token gate (meant for a caller that
// already banked an approval) never has anything to consume here.
type noPriorApproval struct{}

func (noPriorApproval) ConsumeApproval(string) bool { return false }

// Dependencies wires the Turn Controller to every other component it
// drives per turn.
type Dependencies struct {
	Bus       *bus.Bus
	Debounce  *debounce.Manager
	Sessions  *session.Manager
	Memory    *memory.Builder
	Workspace *workspace.Workspace
	Lock      *lock.Lock
	Approval  *approval.Coordinator
	Scripts   *script.Host
	Personas  *persona.Loader
	Artifacts *artifact.Writer
	Metrics   *metrics.Metrics
	Registry  *tools.Registry

	Model      chat.ModelCaller
	Vision     chat.VisionDescriber
	Summarizer session.Summarizer
	ChatConfig chat.Config

	RequireApproval []string
	Sanitize        tools.SanitizationConfig
	ApprovalTimeout time.Duration

	// Jobs maps a scheduler source ("scheduler:<name>") to its configured
	// tool scope, so an EXECUTE_JOB turn arriving through the bus can
	// recover the scope the Scheduler's config assigned it.
	Jobs map[string]scheduler.Job

	Logger *slog.Logger
}

// Controller is the Turn Controller (spec.md §4.M): a single consumer loop
// draining the Ingress Bus through the Debounce Manager.
type Controller struct {
	deps     Dependencies
	executor *tools.Executor
	sinks    *sinkRegistry
	logger   *slog.Logger
}

// New creates a Controller. Call RegisterSink for every interactive
// producer before Run.
func New(deps Dependencies) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		deps:     deps,
		executor: tools.NewExecutor(deps.Registry, noPriorApproval{}, deps.RequireApproval, deps.Sanitize),
		sinks:    newSinkRegistry(),
		logger:   logger.With("component", "turn.controller"),
	}
}

// RegisterSink binds an interactive producer's reply channel under the
// given source prefix (e.g. "telegram", "cli", "httpapi").
func (c *Controller) RegisterSink(channel string, sink ReplySink) {
	c.sinks.Register(channel, sink)
}

// Run drains the bus until ctx is canceled, coalescing per-source bursts
// through the Debounce Manager and processing each flushed event
// independently — a panic or error on one event never aborts the loop.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flushAndProcess(context.Background(), c.deps.Debounce.FlushAll())
			return
		case e, ok := <-c.deps.Bus.Receive():
			if !ok {
				return
			}
			c.deps.Debounce.Ingest(e)
		case <-ticker.C:
			c.flushAndProcess(ctx, c.deps.Debounce.FlushReady(time.Now()))
		}
	}
}

func (c *Controller) flushAndProcess(ctx context.Context, events []types.IngressEvent) {
	for _, e := range events {
		c.processEvent(ctx, e)
	}
}

// processEvent contains a single event's crash blast radius: a panic
// anywhere in handle is recovered and logged, never propagated to the
// consumer loop.
func (c *Controller) processEvent(ctx context.Context, e types.IngressEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("turn panicked, continuing loop", "source", e.Source, "panic", fmt.Sprint(r))
		}
	}()

	if err := c.handle(ctx, e); err != nil {
		c.logger.Error("turn failed", "source", e.Source, "trust", e.Trust, "error", err)
	}
}

func (c *Controller) handle(ctx context.Context, e types.IngressEvent) error {
	guard, err := c.deps.Lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("turn: acquire workspace lock: %w", err)
	}
	defer func() {
		if rerr := guard.Release(); rerr != nil {
			c.logger.Warn("workspace lock release failed", "error", rerr)
		}
	}()

	store, err := c.deps.Sessions.GetOrCreate(e.Source)
	if err != nil {
		return fmt.Errorf("turn: session handle: %w", err)
	}

	var content string
	switch e.Trust {
	case types.OwnerCommand:
		content, err = c.handleOwnerCommand(ctx, store, e)
	case types.TrustedEvent:
		store.Clear()
		content, err = c.handleTrustedEvent(ctx, store, e)
	case types.UntrustedEvent:
		store.Clear()
		content, err = c.handleUntrustedEvent(ctx, store, e)
	default:
		err = fmt.Errorf("turn: unrecognized trust level %q", e.Trust)
	}

	if saveErr := store.Save(); saveErr != nil {
		c.logger.Warn("session checkpoint failed, will retry on next sweep", "source", e.Source, "error", saveErr)
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveTurn(e.Trust)
	}

	if err != nil {
		return err
	}
	return c.deliver(e, content)
}

func (c *Controller) handleOwnerCommand(ctx context.Context, store *session.Store, e types.IngressEvent) (string, error) {
	if strings.TrimSpace(e.Payload) == clearCommand {
		store.Clear()
		return "Session cleared.", nil
	}

	c.ensureSystemMessage(store, c.deps.Memory.Build())

	engine := c.engineFor(fullScope())
	schemas := filterSchemas(c.deps.Registry.Schemas(), fullScope())
	userMsg := types.Message{Role: types.RoleUser, Content: e.Payload, Images: e.Images}

	resp, err := engine.Run(ctx, store, schemas, userMsg)
	for {
		var approvalErr *tools.ApprovalRequiredError
		if !errors.As(err, &approvalErr) {
			break
		}
		approved, rerr := c.runApproval(ctx, e.Source, approvalErr)
		if rerr != nil {
			return "", rerr
		}
		if aerr := engine.ApproveToolCall(ctx, store, approvalErr.Call, approved); aerr != nil {
			return "", fmt.Errorf("turn: apply approval decision: %w", aerr)
		}
		resp, err = engine.ContinueChat(ctx, store, schemas)
	}
	if err != nil {
		return "", fmt.Errorf("turn: chat: %w", err)
	}
	return resp.Content, nil
}

// runApproval extracts the owner's UI chat id from the source tag
// ("<channel>:<chat-id>") and drives one Approval Coordinator round-trip.
func (c *Controller) runApproval(ctx context.Context, source string, approvalErr *tools.ApprovalRequiredError) (bool, error) {
	_, chatID, _ := strings.Cut(source, ":")
	start := time.Now()
	decision, ok := c.deps.Approval.Request(ctx, approvalErr.Call.ID, chatID, approvalErr.ToolName, approvalErr.Call.Arguments, c.deps.ApprovalTimeout)
	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveApprovalLatency(time.Since(start))
	}
	if !ok {
		return false, nil
	}
	return decision == approval.Allowed, nil
}

func (c *Controller) handleTrustedEvent(ctx context.Context, store *session.Store, e types.IngressEvent) (string, error) {
	switch {
	case strings.HasPrefix(e.Payload, "EXECUTE_JOB:"):
		return c.runJob(ctx, store, e)
	case strings.HasPrefix(e.Payload, "EXECUTE_SCRIPT:"):
		return c.runScript(e)
	default:
		return "", fmt.Errorf("turn: unrecognized trusted-event payload %q", e.Payload)
	}
}

func (c *Controller) runJob(ctx context.Context, store *session.Store, e types.IngressEvent) (string, error) {
	ref := strings.TrimSpace(strings.TrimPrefix(e.Payload, "EXECUTE_JOB:"))

	scopeSpec := "all"
	if job, ok := c.deps.Jobs[e.Source]; ok {
		scopeSpec = job.ToolScope
		if ref == "" {
			ref = job.PromptRef
		}
	}
	scope := parseJobScope(scopeSpec)

	personaPrompt, err := c.deps.Personas.Load(ref)
	if err != nil {
		c.logger.Warn("job persona load failed, running with memory context only", "ref", ref, "error", err)
		personaPrompt = ""
	}

	system := strings.TrimSpace(personaPrompt + "\n\n" + c.deps.Memory.Build())
	c.ensureSystemMessage(store, system)

	engine := c.engineFor(scope)
	schemas := filterSchemas(c.deps.Registry.Schemas(), scope)
	userMsg := types.Message{Role: types.RoleUser, Content: "Execute the scheduled job."}

	resp, err := engine.Run(ctx, store, schemas, userMsg)
	resp, err = c.autoResolveApprovals(ctx, store, engine, schemas, resp, err)
	if err != nil {
		return "", fmt.Errorf("turn: job %q: %w", ref, err)
	}
	return resp.Content, nil
}

func (c *Controller) runScript(e types.IngressEvent) (string, error) {
	path := strings.TrimSpace(strings.TrimPrefix(e.Payload, "EXECUTE_SCRIPT:"))
	resolved := c.deps.Workspace.Resolve(path)

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("turn: read script %q: %w", path, err)
	}
	if err := c.deps.Scripts.LoadScript(path, string(data)); err != nil {
		return "", fmt.Errorf("turn: load script %q: %w", path, err)
	}
	return fmt.Sprintf("Script %q loaded.", path), nil
}

func (c *Controller) handleUntrustedEvent(ctx context.Context, store *session.Store, e types.IngressEvent) (string, error) {
	c.ensureSystemMessage(store, c.deps.Personas.Sanitizer())

	engine := c.engineFor(emptyScope())
	userMsg := types.Message{Role: types.RoleUser, Content: e.Payload, Images: e.Images}

	resp, err := engine.Run(ctx, store, nil, userMsg)
	if err != nil {
		return "", fmt.Errorf("turn: sanitize: %w", err)
	}
	return resp.Content, nil
}

// autoResolveApprovals auto-denies any ApprovalRequiredError a non-owner
// turn surfaces — there is no interactive UI to prompt for a job or
// background event, so a tool gated behind approval simply does not run.
func (c *Controller) autoResolveApprovals(ctx context.Context, store *session.Store, engine *chat.Engine, schemas []types.ToolSchema, resp modelclient.Response, err error) (modelclient.Response, error) {
	for {
		var approvalErr *tools.ApprovalRequiredError
		if !errors.As(err, &approvalErr) {
			return resp, err
		}
		c.logger.Info("auto-denying tool approval for non-interactive turn", "tool", approvalErr.ToolName)
		if aerr := engine.ApproveToolCall(ctx, store, approvalErr.Call, false); aerr != nil {
			return modelclient.Response{}, fmt.Errorf("turn: apply auto-denial: %w", aerr)
		}
		resp, err = engine.ContinueChat(ctx, store, schemas)
	}
}

// ensureSystemMessage prepends a system message with the given content if
// the session has no history yet and content is non-empty (so a freshly
// created or just-cleared session starts with exactly one whenever there is
// a system prompt to give it).
func (c *Controller) ensureSystemMessage(store *session.Store, content string) {
	if content == "" {
		return
	}
	if len(store.Snapshot().Messages) > 0 {
		return
	}
	_ = store.Append(types.Message{Role: types.RoleSystem, Content: content})
}

func (c *Controller) engineFor(scope toolScope) *chat.Engine {
	executor := newScopedExecutor(c.executor, scope, c.deps.Metrics)
	return chat.New(c.deps.Model, executor, c.deps.Vision, c.deps.Summarizer, c.deps.ChatConfig, c.logger)
}

func (c *Controller) deliver(e types.IngressEvent, content string) error {
	if content == "" {
		return nil
	}
	if e.Trust == types.OwnerCommand {
		if sink, ok := c.sinks.lookup(e.Source); ok {
			return sink.Deliver(context.Background(), e.Source, content)
		}
	}

	_, err := c.deps.Artifacts.Write(types.Artifact{
		Type:    string(e.Trust),
		Source:  e.Source,
		Trust:   e.Trust,
		Model:   c.deps.ChatConfig.ModelAlias,
		Content: content,
	})
	return err
}
