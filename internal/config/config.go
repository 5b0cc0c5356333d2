// Package config loads the daemon's YAML configuration file, grounded on
// the teacher's internal/config package: os.ExpandEnv-based secret
// expansion, a strict yaml.v3 decoder (KnownFields), post-decode defaulting,
// and an aggregated multi-issue validation error — generalized from the
// teacher's many channel/provider sections down to the sections spec.md's
// modules actually need.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentd-run/agentd/internal/modelclient"
)

// Config is the top-level daemon configuration.
type Config struct {
	Workspace      WorkspaceConfig `yaml:"workspace"`
	Models         []ModelConfig   `yaml:"models"`
	DefaultModel   string          `yaml:"default_model"`
	SummarizeModel string          `yaml:"summarize_model"`
	Chat           ChatConfig      `yaml:"chat"`
	Tools          ToolsConfig     `yaml:"tools"`
	Bus            BusConfig       `yaml:"bus"`
	Debounce       DebounceConfig  `yaml:"debounce"`
	Approval       ApprovalConfig  `yaml:"approval"`
	Lock           LockConfig      `yaml:"lock"`
	Scheduler      SchedulerConfig `yaml:"scheduler"`
	Ingest         IngestConfig    `yaml:"ingest"`
	Logging        LoggingConfig   `yaml:"logging"`
	MCP            MCPConfig       `yaml:"mcp"`
	Sandbox        SandboxConfig   `yaml:"sandbox"`
}

// MCPConfig lists the long-lived subprocess tool servers the Subprocess
// Tool Host manages (spec.md §4.E), plus the remote tools each one exposes
// through the registry as agentd-run/agentd/internal/tools/builtin.MCPTool.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig is the YAML shape of mcp.ServerConfig plus the remote
// tool names this server should be registered under.
type MCPServerConfig struct {
	ID      string   `yaml:"id"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	WorkDir string   `yaml:"work_dir"`
	Tools   []string `yaml:"tools"`
}

// SandboxConfig configures the Sandboxed One-shot Runner (spec.md §4.G)
// and the fixed set of external executables it's allowed to dispatch to.
type SandboxConfig struct {
	ProfileDir string              `yaml:"profile_dir"`
	Tools      []SandboxToolConfig `yaml:"tools"`
}

// SandboxToolConfig describes one pre-approved external executable exposed
// to the registry as agentd-run/agentd/internal/tools/builtin.ExternalTool.
type SandboxToolConfig struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Executable    string   `yaml:"executable"`
	Args          []string `yaml:"args"`
	ReadPrefixes  []string `yaml:"read_prefixes"`
	WritePrefixes []string `yaml:"write_prefixes"`
	AllowNetwork  bool     `yaml:"allow_network"`
	AllowEnv      bool     `yaml:"allow_env"`
}

// WorkspaceConfig points at the daemon's on-disk workspace root and, for the
// mount strategy, the project directory it's paired with.
type WorkspaceConfig struct {
	Path     string `yaml:"path"`
	Project  string `yaml:"project"`
	Strategy string `yaml:"strategy"` // "overlay" (default) or "mount"
	StateDir string `yaml:"state_dir"`
}

// ModelConfig is the YAML shape of one modelclient.ModelConfig entry.
type ModelConfig struct {
	Alias          string               `yaml:"alias"`
	Parent         string               `yaml:"parent"`
	Provider       string               `yaml:"provider"`
	Model          string               `yaml:"model"`
	APIKeyEnv      string               `yaml:"api_key_env"`
	BaseURL        string               `yaml:"base_url"`
	MaxTokens      int                  `yaml:"max_tokens"`
	FallbackModels []string             `yaml:"fallback_models"`
	FallbackPolicy FallbackPolicyConfig `yaml:"fallback_policy"`
	Extras         map[string]string    `yaml:"extras"`
}

// FallbackPolicyConfig is the YAML shape of modelclient.FallbackPolicy.
type FallbackPolicyConfig struct {
	Allow   []string `yaml:"allow"`
	Deny    []string `yaml:"deny"`
	Default string   `yaml:"default"`
}

// ToModelClient converts m into the modelclient package's native shape.
func (m ModelConfig) ToModelClient() modelclient.ModelConfig {
	return modelclient.ModelConfig{
		Alias:     m.Alias,
		Parent:    m.Parent,
		Provider:  m.Provider,
		Model:     m.Model,
		APIKeyEnv: m.APIKeyEnv,
		BaseURL:   m.BaseURL,
		MaxTokens: m.MaxTokens,
		FallbackModels: m.FallbackModels,
		FallbackPolicy: modelclient.FallbackPolicy{
			Allow:   m.FallbackPolicy.Allow,
			Deny:    m.FallbackPolicy.Deny,
			Default: m.FallbackPolicy.Default,
		},
		Extras: m.Extras,
	}
}

// ModelConfigs converts every configured model entry to modelclient's shape.
func (c *Config) ModelConfigs() []modelclient.ModelConfig {
	out := make([]modelclient.ModelConfig, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, m.ToModelClient())
	}
	return out
}

// ChatConfig holds the Chat Engine's per-turn tunables (spec.md §4.I).
type ChatConfig struct {
	ContextWindow     int  `yaml:"context_window"`
	ReserveTokens     int  `yaml:"reserve_tokens"`
	SoftMarginTokens  int  `yaml:"soft_margin_tokens"`
	VisionSupport     bool `yaml:"vision_support"`
	MaxToolIterations int  `yaml:"max_tool_iterations"`
}

// ToolsConfig selects which tools require approval and how tool output gets
// sanitized (spec.md §4.D).
type ToolsConfig struct {
	RequireApproval []string       `yaml:"require_approval"`
	Sanitize        SanitizeConfig `yaml:"sanitize"`
}

// SanitizeConfig is the YAML shape of tools.SanitizationConfig.
type SanitizeConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxChars int  `yaml:"max_chars"`
}

// BusConfig tunes the Ingress Bus (spec.md §4.J).
type BusConfig struct {
	Capacity int `yaml:"capacity"`
}

// DebounceConfig is the YAML shape of debounce.Config (spec.md §4.K).
type DebounceConfig struct {
	MaxCount        int `yaml:"max_count"`
	MaxChars        int `yaml:"max_chars"`
	DebounceSeconds int `yaml:"debounce_seconds"`
}

// ApprovalConfig tunes the Approval Coordinator (spec.md §4.L).
type ApprovalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the approval wait as a time.Duration. It returns 0 when
// unset, which approval.Coordinator.Request treats as DefaultTimeout.
func (a ApprovalConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// LockConfig points at the workspace lock's file path (spec.md §4.A).
type LockConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig lists the cron jobs the Scheduler loads (spec.md §4.N).
type SchedulerConfig struct {
	Jobs []SchedulerJob `yaml:"jobs"`
}

// SchedulerJob is the YAML shape of scheduler.Job.
type SchedulerJob struct {
	Name      string `yaml:"name"`
	Cron      string `yaml:"cron"`
	PromptRef string `yaml:"prompt_ref"`
	ToolScope string `yaml:"tool_scope"`
}

// IngestConfig configures the five in-scope producer surfaces.
type IngestConfig struct {
	CLI         CLIIngestConfig         `yaml:"cli"`
	HTTPAPI     HTTPAPIIngestConfig     `yaml:"httpapi"`
	Webhook     WebhookIngestConfig     `yaml:"webhook"`
	Telegram    TelegramIngestConfig    `yaml:"telegram"`
	OpenAIProxy OpenAIProxyIngestConfig `yaml:"openai_proxy"`
}

type CLIIngestConfig struct {
	Source string `yaml:"source"`
}

type HTTPAPIIngestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Token   string `yaml:"token"`
}

type WebhookIngestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Secret  string `yaml:"secret"`
	Source  string `yaml:"source"`
}

type TelegramIngestConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotToken    string `yaml:"bot_token"`
	OwnerChatID string `yaml:"owner_chat_id"`
}

type OpenAIProxyIngestConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	ModelAlias string `yaml:"model_alias"`
}

// LoggingConfig selects log/slog's handler verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads path, expands ${ENV_VAR} references, decodes strictly (unknown
// fields are rejected), applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain a single YAML document", path)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = "."
	}
	if cfg.Workspace.Strategy == "" {
		cfg.Workspace.Strategy = "overlay"
	}
	if cfg.Workspace.StateDir == "" {
		cfg.Workspace.StateDir = ".agentd"
	}

	if cfg.Chat.ContextWindow == 0 {
		cfg.Chat.ContextWindow = 200_000
	}
	if cfg.Chat.ReserveTokens == 0 {
		cfg.Chat.ReserveTokens = 8_000
	}
	if cfg.Chat.SoftMarginTokens == 0 {
		cfg.Chat.SoftMarginTokens = 4_000
	}
	if cfg.Chat.MaxToolIterations == 0 {
		cfg.Chat.MaxToolIterations = 10
	}

	if cfg.Bus.Capacity == 0 {
		cfg.Bus.Capacity = 100
	}
	if cfg.Debounce.MaxCount == 0 {
		cfg.Debounce.MaxCount = 50
	}
	if cfg.Debounce.MaxChars == 0 {
		cfg.Debounce.MaxChars = 100_000
	}
	if cfg.Debounce.DebounceSeconds == 0 {
		cfg.Debounce.DebounceSeconds = 3
	}
	if cfg.Approval.TimeoutSeconds == 0 {
		cfg.Approval.TimeoutSeconds = 300
	}
	if cfg.Lock.Path == "" {
		cfg.Lock.Path = cfg.Workspace.StateDir + "/agentd.lock"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Ingest.CLI.Source == "" {
		cfg.Ingest.CLI.Source = "cli:owner"
	}
	if cfg.Ingest.Webhook.Source == "" {
		cfg.Ingest.Webhook.Source = "webhook"
	}
	if cfg.Sandbox.ProfileDir == "" {
		cfg.Sandbox.ProfileDir = cfg.Workspace.StateDir + "/sandbox"
	}
}

// ValidationError aggregates every config problem found, so a user fixes
// them all in one pass instead of one-at-a-time.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config: validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	seenAlias := map[string]bool{}
	for i, m := range cfg.Models {
		if strings.TrimSpace(m.Alias) == "" {
			issues = append(issues, fmt.Sprintf("models[%d].alias is required", i))
			continue
		}
		if seenAlias[m.Alias] {
			issues = append(issues, fmt.Sprintf("models[%d].alias %q is duplicated", i, m.Alias))
		}
		seenAlias[m.Alias] = true
		if m.Parent == "" && strings.TrimSpace(m.Provider) == "" {
			issues = append(issues, fmt.Sprintf("models[%d] (%s) must set provider unless it has a parent", i, m.Alias))
		}
	}

	if cfg.DefaultModel != "" && !seenAlias[cfg.DefaultModel] {
		issues = append(issues, fmt.Sprintf("default_model %q has no matching models[] entry", cfg.DefaultModel))
	}
	if cfg.SummarizeModel != "" && !seenAlias[cfg.SummarizeModel] {
		issues = append(issues, fmt.Sprintf("summarize_model %q has no matching models[] entry", cfg.SummarizeModel))
	}

	switch strings.ToLower(cfg.Workspace.Strategy) {
	case "overlay", "mount":
	default:
		issues = append(issues, `workspace.strategy must be "overlay" or "mount"`)
	}

	if cfg.Chat.ContextWindow <= cfg.Chat.ReserveTokens {
		issues = append(issues, "chat.context_window must be greater than chat.reserve_tokens")
	}
	if cfg.Chat.MaxToolIterations < 0 {
		issues = append(issues, "chat.max_tool_iterations must be >= 0")
	}

	if cfg.Bus.Capacity < 0 {
		issues = append(issues, "bus.capacity must be >= 0")
	}

	for i, j := range cfg.Scheduler.Jobs {
		if strings.TrimSpace(j.Name) == "" {
			issues = append(issues, fmt.Sprintf("scheduler.jobs[%d].name is required", i))
		}
		if strings.TrimSpace(j.Cron) == "" {
			issues = append(issues, fmt.Sprintf("scheduler.jobs[%d].cron is required", i))
		}
	}

	if cfg.Ingest.Telegram.Enabled && strings.TrimSpace(cfg.Ingest.Telegram.BotToken) == "" {
		issues = append(issues, "ingest.telegram.bot_token is required when ingest.telegram.enabled is true")
	}
	if cfg.Ingest.Webhook.Enabled && strings.TrimSpace(cfg.Ingest.Webhook.Secret) == "" {
		issues = append(issues, "ingest.webhook.secret is required when ingest.webhook.enabled is true")
	}

	for i, s := range cfg.MCP.Servers {
		if strings.TrimSpace(s.ID) == "" {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].id is required", i))
		}
		if strings.TrimSpace(s.Command) == "" {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].command is required", i))
		}
	}
	for i, t := range cfg.Sandbox.Tools {
		if strings.TrimSpace(t.Name) == "" {
			issues = append(issues, fmt.Sprintf("sandbox.tools[%d].name is required", i))
		}
		if strings.TrimSpace(t.Executable) == "" {
			issues = append(issues, fmt.Sprintf("sandbox.tools[%d].executable is required", i))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
