package sandbox

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExecRunner(t *testing.T) {
	requireShell(t)
	runner := NewExecRunner(zaptest.NewLogger(t), 1<<20, time.Second)
	ctx := context.Background()

	t.Run("CapturesStreamsSeparately", func(t *testing.T) {
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"/bin/sh", "-c", "echo out; echo err >&2"},
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "out\n", out.Stdout)
		assert.Equal(t, "err\n", out.Stderr)
		assert.Equal(t, 0, out.ExitCode)
		assert.True(t, out.HasExitCode())
		assert.False(t, out.TimedOut)
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"/bin/sh", "-c", "exit 3"},
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, out.ExitCode)
		assert.False(t, out.TimedOut)
	})

	t.Run("SignalledChild", func(t *testing.T) {
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"/bin/sh", "-c", "kill -TERM $$"},
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, 128+15, out.ExitCode)
	})

	t.Run("WorkingDirectory", func(t *testing.T) {
		dir := t.TempDir()
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"/bin/sh", "-c", "pwd -P"},
			Dir:     dir,
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		assert.Contains(t, out.Stdout, strings.TrimPrefix(dir, "/private"))
	})

	t.Run("StdinRoundTrip", func(t *testing.T) {
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"cat"},
			Stdin:   "line one\nline two\n",
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "line one\nline two\n", out.Stdout)
		assert.Empty(t, out.Stderr)
	})

	t.Run("NoStdinIsImmediateEOF", func(t *testing.T) {
		start := time.Now()
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"cat"},
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		assert.Empty(t, out.Stdout)
		assert.Equal(t, 0, out.ExitCode)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("ChildIgnoringStdinDoesNotBlockPastDeadline", func(t *testing.T) {
		start := time.Now()
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"sleep", "30"},
			Stdin:   strings.Repeat("x", 1<<20),
			Timeout: 300 * time.Millisecond,
		})
		require.NoError(t, err)
		assert.True(t, out.TimedOut)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("TimeoutKillsChild", func(t *testing.T) {
		start := time.Now()
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"/bin/sh", "-c", "echo started; sleep 30"},
			Timeout: 300 * time.Millisecond,
		})
		require.NoError(t, err)
		assert.True(t, out.TimedOut)
		assert.Equal(t, ExitCodeUnavailable, out.ExitCode)
		assert.False(t, out.HasExitCode())
		assert.Equal(t, "started\n", out.Stdout)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("TimeoutKillsDescendants", func(t *testing.T) {
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"/bin/sh", "-c", "sleep 30 & echo $!; wait"},
			Timeout: 300 * time.Millisecond,
		})
		require.NoError(t, err)
		require.True(t, out.TimedOut)

		pid, convErr := strconv.Atoi(strings.TrimSpace(out.Stdout))
		require.NoError(t, convErr)
		assert.Eventually(t, func() bool { return processGone(pid) }, 3*time.Second, 50*time.Millisecond)
	})

	t.Run("ExitedParentLeavesNoBackgroundChild", func(t *testing.T) {
		out, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"/bin/sh", "-c", "sleep 30 >/dev/null 2>&1 & echo $!"},
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		require.False(t, out.TimedOut)

		pid, convErr := strconv.Atoi(strings.TrimSpace(out.Stdout))
		require.NoError(t, convErr)
		assert.Eventually(t, func() bool { return processGone(pid) }, 3*time.Second, 50*time.Millisecond)
	})

	t.Run("OutputIsCapped", func(t *testing.T) {
		small := NewExecRunner(zaptest.NewLogger(t), 16, time.Second)
		out, err := small.Run(ctx, ProcessSpec{
			Args:    []string{"/bin/sh", "-c", "i=0; while [ $i -lt 1000 ]; do echo 0123456789; i=$((i+1)); done"},
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		assert.Len(t, out.Stdout, 16)
		assert.True(t, out.Truncated)
		assert.Equal(t, 0, out.ExitCode)
	})

	t.Run("ParentCancellationIsAnError", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		out, err := runner.Run(cancelCtx, ProcessSpec{
			Args:    []string{"sleep", "30"},
			Timeout: 10 * time.Second,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, out.TimedOut)
		assert.False(t, out.HasExitCode())
	})

	t.Run("MissingBinary", func(t *testing.T) {
		_, err := runner.Run(ctx, ProcessSpec{
			Args:    []string{"/nonexistent/toolchain"},
			Timeout: time.Second,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start")
	})

	t.Run("InvalidSpec", func(t *testing.T) {
		_, err := runner.Run(ctx, ProcessSpec{Timeout: time.Second})
		require.Error(t, err)

		_, err = runner.Run(ctx, ProcessSpec{Args: []string{"true"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout must be positive")
	})
}

func TestCappedBuffer(t *testing.T) {
	t.Run("Unbounded", func(t *testing.T) {
		b := newCappedBuffer(0)
		n, err := b.Write([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, "hello", b.String())
		assert.False(t, b.Truncated())
	})

	t.Run("Bounded", func(t *testing.T) {
		b := newCappedBuffer(4)
		n, err := b.Write([]byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = b.Write([]byte("defg"))
		require.NoError(t, err)
		assert.Equal(t, 4, n, "writes always report full length so the pipe keeps draining")

		n, err = b.Write([]byte("hij"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		assert.Equal(t, "abcd", b.String())
		assert.True(t, b.Truncated())
	})
}
