package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
default_model: default
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ".", cfg.Workspace.Path)
	require.Equal(t, "overlay", cfg.Workspace.Strategy)
	require.Equal(t, 200_000, cfg.Chat.ContextWindow)
	require.Equal(t, 10, cfg.Chat.MaxToolIterations)
	require.Equal(t, 300, cfg.Approval.TimeoutSeconds)
	require.Equal(t, ".agentd/agentd.lock", cfg.Lock.Path)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_AGENTD_KEY_ENV", "MY_API_KEY")
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
    api_key_env: ${TEST_AGENTD_KEY_ENV}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "MY_API_KEY", cfg.Models[0].APIKeyEnv)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
bogus_field: true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMultiDocument(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
---
models: []
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadValidatesDuplicateAlias(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
  - alias: default
    provider: openai
    model: gpt
`)
	_, err := Load(path)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "duplicated")
}

func TestLoadValidatesMissingProviderWithoutParent(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    model: claude-sonnet
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadValidatesUnknownDefaultModel(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
default_model: missing
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadValidatesTelegramRequiresToken(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
ingest:
  telegram:
    enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestModelConfigsConvertsToModelClientShape(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
    fallback_models: [backup]
    fallback_policy:
      allow: ["5*"]
      default: continue
  - alias: backup
    provider: openai
    model: gpt-4o
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	converted := cfg.ModelConfigs()
	require.Len(t, converted, 2)
	require.Equal(t, "default", converted[0].Alias)
	require.Equal(t, []string{"backup"}, converted[0].FallbackModels)
	require.Equal(t, []string{"5*"}, converted[0].FallbackPolicy.Allow)
}
