package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
default_model: default
`)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	changes := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx, func(cfg *Config) { changes <- cfg })

	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - alias: default
    provider: anthropic
    model: claude-opus
default_model: default
`), 0o644))

	select {
	case cfg := <-changes:
		require.Equal(t, "claude-opus", cfg.Models[0].Model)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherIgnoresInvalidReload(t *testing.T) {
	path := writeConfig(t, `
models:
  - alias: default
    provider: anthropic
    model: claude-sonnet
default_model: default
`)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	changes := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx, func(cfg *Config) { changes <- cfg })

	require.NoError(t, os.WriteFile(path, []byte(`not: [valid yaml`), 0o644))

	select {
	case <-changes:
		t.Fatal("onChange should not fire for an invalid reload")
	case <-time.After(700 * time.Millisecond):
	}
}
