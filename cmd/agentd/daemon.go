package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/agentd-run/agentd/internal/approval"
	"github.com/agentd-run/agentd/internal/artifact"
	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/chat"
	"github.com/agentd-run/agentd/internal/config"
	"github.com/agentd-run/agentd/internal/debounce"
	"github.com/agentd-run/agentd/internal/ingest/cli"
	"github.com/agentd-run/agentd/internal/ingest/httpapi"
	"github.com/agentd-run/agentd/internal/ingest/openaiproxy"
	"github.com/agentd-run/agentd/internal/ingest/telegram"
	"github.com/agentd-run/agentd/internal/ingest/webhook"
	"github.com/agentd-run/agentd/internal/lock"
	"github.com/agentd-run/agentd/internal/mcp"
	"github.com/agentd-run/agentd/internal/memindex"
	"github.com/agentd-run/agentd/internal/memory"
	"github.com/agentd-run/agentd/internal/metrics"
	"github.com/agentd-run/agentd/internal/modelclient"
	"github.com/agentd-run/agentd/internal/modelclient/providers/anthropic"
	"github.com/agentd-run/agentd/internal/modelclient/providers/bedrock"
	"github.com/agentd-run/agentd/internal/modelclient/providers/openai"
	"github.com/agentd-run/agentd/internal/persona"
	"github.com/agentd-run/agentd/internal/sandbox"
	"github.com/agentd-run/agentd/internal/scheduler"
	"github.com/agentd-run/agentd/internal/script"
	"github.com/agentd-run/agentd/internal/session"
	"github.com/agentd-run/agentd/internal/tools"
	"github.com/agentd-run/agentd/internal/tools/builtin"
	"github.com/agentd-run/agentd/internal/turn"
	"github.com/agentd-run/agentd/internal/types"
	"github.com/agentd-run/agentd/internal/workspace"
)

// Daemon owns every long-lived component the Turn Controller drives, wired
// once from a loaded Config. It is the single place that knows how the
// fifteen components fit together; every CLI subcommand builds one and
// drives it differently (Serve runs forever, Ask/Heartbeat run one turn).
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	ws            *workspace.Workspace
	gate          *workspace.Gate
	lockMgr       *lock.Lock
	sessions      *session.Manager
	memoryBuilder *memory.Builder
	personas      *persona.Loader
	artifacts     *artifact.Writer
	registry      *tools.Registry
	scriptHost    *script.Host
	sandboxRunner *sandbox.Runner
	mcpManager    *mcp.Manager
	memIndex      *memindex.Index
	modelClient   *modelclient.Client
	approvalCoord *approval.Coordinator
	approvalBox   chan approval.UIRequest
	metrics       *metrics.Metrics
	bus           *bus.Bus
	debounceMgr   *debounce.Manager
	controller    *turn.Controller
	sched         *scheduler.Scheduler
	jobs          map[string]scheduler.Job

	cliProducer *cli.Producer

	metricsServer *http.Server
}

// NewDaemon constructs every component from cfg but starts nothing; call
// Serve, Ask, or Heartbeat to actually drive turns. prompt is written before
// each line the CLI channel reads from chatIn; pass "" for a non-interactive
// pipe (serve, one-heartbeat).
func NewDaemon(cfg *config.Config, logger *slog.Logger, chatIn io.Reader, chatOut io.Writer, prompt string) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	strategy := workspace.StrategyOverlay
	if cfg.Workspace.Strategy == "mount" {
		strategy = workspace.StrategyMount
	}
	ws := workspace.New(cfg.Workspace.Path, cfg.Workspace.Project, strategy)
	gate := workspace.NewGate(ws, nil, nil)

	d := &Daemon{
		cfg:           cfg,
		logger:        logger,
		ws:            ws,
		gate:          gate,
		lockMgr:       lock.New(cfg.Lock.Path),
		sessions:      session.NewManager(filepath.Join(cfg.Workspace.StateDir, "sessions"), logger),
		memoryBuilder: memory.New(ws),
		personas:      persona.New(ws),
		artifacts:     artifact.New(ws.ArtifactsDir()),
		metrics:       metrics.New(),
		bus:           bus.New(cfg.Bus.Capacity),
		jobs:          make(map[string]scheduler.Job, len(cfg.Scheduler.Jobs)),
	}

	d.debounceMgr = debounce.New(debounce.Config{
		MaxCount:        cfg.Debounce.MaxCount,
		MaxChars:        cfg.Debounce.MaxChars,
		DebounceSeconds: cfg.Debounce.DebounceSeconds,
	})

	d.approvalBox = make(chan approval.UIRequest, 16)
	d.approvalCoord = approval.New(d.approvalBox)

	if err := d.buildRegistry(); err != nil {
		return nil, fmt.Errorf("daemon: build tool registry: %w", err)
	}

	if err := d.buildModelClient(); err != nil {
		return nil, fmt.Errorf("daemon: build model client: %w", err)
	}

	for _, j := range cfg.Scheduler.Jobs {
		d.jobs["scheduler:"+j.Name] = scheduler.Job{Name: j.Name, Cron: j.Cron, PromptRef: j.PromptRef, ToolScope: j.ToolScope}
	}
	d.sched = scheduler.New(d.bus.NewSender(), logger)
	schedulerJobs := make([]scheduler.Job, 0, len(cfg.Scheduler.Jobs))
	for _, j := range d.jobs {
		schedulerJobs = append(schedulerJobs, j)
	}
	if err := d.sched.Load(schedulerJobs); err != nil {
		return nil, fmt.Errorf("daemon: load scheduler jobs: %w", err)
	}

	d.controller = turn.New(turn.Dependencies{
		Bus:             d.bus,
		Debounce:        d.debounceMgr,
		Sessions:        d.sessions,
		Memory:          d.memoryBuilder,
		Workspace:       ws,
		Lock:            d.lockMgr,
		Approval:        d.approvalCoord,
		Scripts:         d.scriptHost,
		Personas:        d.personas,
		Artifacts:       d.artifacts,
		Metrics:         d.metrics,
		Registry:        d.registry,
		Model:           d.modelClient,
		Summarizer:      d.modelClient,
		ChatConfig:      chatConfigFrom(cfg),
		RequireApproval: cfg.Tools.RequireApproval,
		Sanitize:        tools.SanitizationConfig{Enabled: cfg.Tools.Sanitize.Enabled, MaxChars: cfg.Tools.Sanitize.MaxChars},
		ApprovalTimeout: cfg.Approval.Timeout(),
		Jobs:            d.jobs,
		Logger:          logger,
	})

	if chatIn == nil {
		chatIn = io.LimitReader(nopReader{}, 0)
	}
	cliSource := cfg.Ingest.CLI.Source
	d.cliProducer = cli.New(chatIn, chatOut, d.bus.NewSender(), prompt, logger)
	d.cliProducer.SetApprovalCoordinator(d.approvalCoord)
	d.controller.RegisterSink(channelOf(cliSource), d.cliProducer)

	return d, nil
}

type nopReader struct{}

func (nopReader) Read([]byte) (int, error) { return 0, io.EOF }

func channelOf(source string) string {
	for i, r := range source {
		if r == ':' {
			return source[:i]
		}
	}
	return source
}

func chatConfigFrom(cfg *config.Config) chat.Config {
	return chat.Config{
		ModelAlias:        cfg.DefaultModel,
		ContextWindow:     cfg.Chat.ContextWindow,
		ReserveTokens:     cfg.Chat.ReserveTokens,
		SoftMarginTokens:  cfg.Chat.SoftMarginTokens,
		VisionSupport:     cfg.Chat.VisionSupport,
		MaxToolIterations: cfg.Chat.MaxToolIterations,
	}
}

func (d *Daemon) buildRegistry() error {
	d.registry = tools.NewRegistry(d.logger)
	d.registry.Register(&builtin.ReadFileTool{Gate: d.gate})
	d.registry.Register(&builtin.WriteFileTool{Gate: d.gate})
	d.registry.Register(&builtin.EditFileTool{Gate: d.gate})
	d.registry.Register(&builtin.ShellTool{WorkDir: d.ws.Root})
	d.registry.Register(&builtin.HTTPGetTool{Client: http.DefaultClient})
	d.registry.Register(&builtin.MemorySnippetReadTool{Gate: d.gate})

	idx, err := memindex.Open(filepath.Join(d.cfg.Workspace.StateDir, "memindex.db"))
	if err != nil {
		return fmt.Errorf("open memory index: %w", err)
	}
	d.memIndex = idx
	d.registry.Register(&builtin.MemorySearchTool{Searcher: memindexSearcher{idx}})

	d.sandboxRunner = sandbox.New(d.cfg.Sandbox.ProfileDir, d.logger)
	for _, t := range d.cfg.Sandbox.Tools {
		d.registry.Register(&builtin.ExternalTool{
			ToolName:    t.Name,
			Description: t.Description,
			Executable:  t.Executable,
			Args:        t.Args,
			Runner:      d.sandboxRunner,
			Policy: sandbox.Policy{
				ReadPrefixes:  t.ReadPrefixes,
				WritePrefixes: t.WritePrefixes,
				AllowNetwork:  t.AllowNetwork,
				AllowEnv:      t.AllowEnv,
			},
		})
	}

	d.mcpManager = mcp.NewManager(d.logger)
	if len(d.cfg.MCP.Servers) > 0 {
		configs := make([]mcp.ServerConfig, 0, len(d.cfg.MCP.Servers))
		for _, s := range d.cfg.MCP.Servers {
			configs = append(configs, mcp.ServerConfig{ID: s.ID, Command: s.Command, Args: s.Args, Env: s.Env, WorkDir: s.WorkDir})
		}
		d.mcpManager.Initialize(configs)
		for _, s := range d.cfg.MCP.Servers {
			for _, toolName := range s.Tools {
				d.registry.Register(&builtin.MCPTool{
					ToolName:   s.ID + "_" + toolName,
					ServerName: s.ID,
					RemoteTool: toolName,
					Manager:    d.mcpManager,
				})
			}
		}
	}

	d.scriptHost = script.New(script.Policy{Gate: d.gate, NetworkAllowed: true}, d.bus.NewSender(), d.logger)
	return nil
}

func (d *Daemon) buildModelClient() error {
	providers := map[string]modelclient.Provider{
		"anthropic": anthropic.New("ANTHROPIC_API_KEY"),
		"openai":    openai.New("OPENAI_API_KEY"),
	}
	if bedrockProvider, err := bedrock.New(context.Background()); err == nil {
		providers["bedrock"] = bedrockProvider
	} else {
		d.logger.Warn("bedrock provider unavailable, skipping registration", "error", err)
	}

	registry, err := modelclient.NewConfigRegistry(d.cfg.ModelConfigs())
	if err != nil {
		return err
	}
	d.modelClient = modelclient.New(registry, providers, d.cfg.SummarizeModel)
	return nil
}

// Serve runs every enabled component until ctx is canceled, then shuts them
// down in reverse dependency order.
func (d *Daemon) Serve(ctx context.Context) error {
	d.sessions.Start(ctx)
	defer d.sessions.Stop()

	d.mcpManager.StartReaper()
	defer d.mcpManager.StopReaper()
	defer d.mcpManager.ShutdownAll()

	d.sched.Start()
	defer d.sched.Stop()

	errCh := make(chan error, 8)

	go func() { d.controller.Run(ctx) }()

	go func() { errCh <- d.cliProducer.Run(ctx) }()
	go d.cliProducer.RunApprovals(ctx, d.approvalBox)

	if d.cfg.Ingest.HTTPAPI.Enabled {
		p := httpapi.New(httpapi.Config{Addr: d.cfg.Ingest.HTTPAPI.Addr, Token: d.cfg.Ingest.HTTPAPI.Token}, d.bus.NewSender(), d.logger)
		p.SetModel(d.modelClient, d.cfg.DefaultModel)
		d.controller.RegisterSink(httpapi.Channel, p)
		go func() { errCh <- p.Run(ctx) }()
	}
	if d.cfg.Ingest.Webhook.Enabled {
		p := webhook.New(webhook.Config{Addr: d.cfg.Ingest.Webhook.Addr, Secret: d.cfg.Ingest.Webhook.Secret, Source: d.cfg.Ingest.Webhook.Source}, d.bus.NewSender(), d.logger)
		go func() { errCh <- p.Run(ctx) }()
	}
	if d.cfg.Ingest.Telegram.Enabled {
		p := telegram.New(telegram.Config{BotToken: d.cfg.Ingest.Telegram.BotToken, OwnerChatID: d.cfg.Ingest.Telegram.OwnerChatID}, d.bus.NewSender(), d.logger)
		d.controller.RegisterSink("telegram", p)
		go func() { errCh <- p.Run(ctx) }()
	}
	if d.cfg.Ingest.OpenAIProxy.Enabled {
		p := openaiproxy.New(openaiproxy.Config{Addr: d.cfg.Ingest.OpenAIProxy.Addr, ModelAlias: d.cfg.Ingest.OpenAIProxy.ModelAlias}, d.bus.NewSender(), d.logger)
		d.controller.RegisterSink(openaiproxy.Channel, p)
		go func() { errCh <- p.Run(ctx) }()
	}

	d.metricsServer = &http.Server{Addr: "127.0.0.1:9090", Handler: d.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = d.metricsServer.ListenAndServe() }()

	var firstErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		firstErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = d.metricsServer.Shutdown(shutdownCtx)

	return firstErr
}

// ownerTurnSink is a single-use turn.ReplySink that unblocks Ask/Heartbeat
// once the Turn Controller delivers its reply, mirroring the correlation
// pattern httpapi's Producer uses for its synchronous request handler.
type ownerTurnSink struct {
	replies chan string
}

func (s *ownerTurnSink) Deliver(ctx context.Context, source, content string) error {
	select {
	case s.replies <- content:
	default:
	}
	return nil
}

// Ask runs exactly one OwnerCommand turn with text as the user message and
// returns its reply, then stops every background component it started.
func (d *Daemon) Ask(ctx context.Context, source, text string) (string, error) {
	sink := &ownerTurnSink{replies: make(chan string, 1)}
	d.controller.RegisterSink(channelOf(source), sink)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.controller.Run(runCtx)

	if err := d.bus.Send(ctx, types.IngressEvent{
		ID:      source,
		Source:  source,
		Payload: text,
		Trust:   types.OwnerCommand,
	}); err != nil {
		return "", fmt.Errorf("daemon: send turn: %w", err)
	}

	select {
	case reply := <-sink.replies:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Heartbeat runs the workspace's HEARTBEAT.md content (or a fixed fallback
// prompt if absent) as a single owner turn, for the daemon-control
// "one-heartbeat" subcommand.
func (d *Daemon) Heartbeat(ctx context.Context) (string, error) {
	content, ok := readHeartbeatFile(d.ws.WellKnownPath("HEARTBEAT.md"))
	if !ok {
		content = "Perform your routine check-in: review pending tasks and durable memory, and note anything that needs attention."
	}
	return d.Ask(ctx, "heartbeat:once", content)
}

// Close releases handles NewDaemon opened that Serve/Ask/Heartbeat do not
// already tear down on their own return path.
func (d *Daemon) Close() {
	if d.memIndex != nil {
		_ = d.memIndex.Close()
	}
}

func readHeartbeatFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}
