package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdout(t *testing.T) {
	r := New(t.TempDir(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := r.Run(ctx, "/bin/sh", []string{"-c", "cat"}, "hello sandbox", Policy{})
	require.NoError(t, err)
	require.Equal(t, "hello sandbox", result.Stdout)
	require.Equal(t, 0, result.ExitCode)
}

func TestRunNonZeroExitSurfacesStderr(t *testing.T) {
	r := New(t.TempDir(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.Run(ctx, "/bin/sh", []string{"-c", "echo boom 1>&2; exit 7"}, "", Policy{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestRunExitCodeIsCaptured(t *testing.T) {
	r := New(t.TempDir(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := r.Run(ctx, "/bin/sh", []string{"-c", "exit 3"}, "", Policy{})
	require.Error(t, err)
	require.Equal(t, 3, result.ExitCode)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	r := New(t.TempDir(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, "/bin/sh", []string{"-c", "sleep 5"}, "", Policy{})
	require.Error(t, err)
}
