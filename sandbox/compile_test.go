package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingApplier struct {
	stages []Stage
	err    error
}

func (r *recordingApplier) Apply(_ *Workspace, stage Stage) error {
	r.stages = append(r.stages, stage)
	return r.err
}

func TestCompilerClassification(t *testing.T) {
	ws := &Workspace{ID: "test", Dir: "/work/jprunner-test"}
	command := []string{"javac", "-encoding", "UTF-8", SourcePlaceholder}

	tests := []struct {
		name       string
		outcome    ProcessOutcome
		want       CompileResult
		wantStages []Stage
	}{
		{
			name:       "Success",
			outcome:    ProcessOutcome{ExitCode: 0, Stdout: "note: something"},
			want:       CompileResult{Outcome: CompileOK},
			wantStages: []Stage{StageCompiled},
		},
		{
			name:    "Failure",
			outcome: ProcessOutcome{ExitCode: 1, Stdout: "out;", Stderr: "Main.java:1: error: ';' expected"},
			want: CompileResult{
				Outcome:    CompileFailed,
				Diagnostic: "out;Main.java:1: error: ';' expected",
				ExitCode:   1,
			},
		},
		{
			name:    "TimedOut",
			outcome: ProcessOutcome{ExitCode: ExitCodeUnavailable, TimedOut: true, Stderr: "partial"},
			want: CompileResult{
				Outcome:    CompileTimedOut,
				Diagnostic: "Compilation exceeded the time limit.",
				ExitCode:   ExitCodeUnavailable,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{outcomes: []ProcessOutcome{tt.outcome}}
			perms := &recordingApplier{}
			c := NewCompiler(zaptest.NewLogger(t), runner, perms, command)

			got, err := c.Compile(context.Background(), ws, filepath.Join(ws.Dir, "Main.java"), 2*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantStages, perms.stages, "artifacts are locked only after a successful compile")

			require.Len(t, runner.specs, 1)
			spec := runner.specs[0]
			assert.Equal(t, []string{"javac", "-encoding", "UTF-8", "Main.java"}, spec.Args)
			assert.Equal(t, ws.Dir, spec.Dir)
			assert.Equal(t, 2*time.Second, spec.Timeout)
			assert.Empty(t, spec.Stdin, "the compiler never sees user input")
		})
	}
}

func TestCompilerErrors(t *testing.T) {
	ws := &Workspace{ID: "test", Dir: "/work/jprunner-test"}

	t.Run("RunnerFailure", func(t *testing.T) {
		runner := &stubRunner{err: errors.New("exec: \"javac\": executable file not found in $PATH")}
		c := NewCompiler(zaptest.NewLogger(t), runner, &recordingApplier{}, []string{"javac", SourcePlaceholder})

		_, err := c.Compile(context.Background(), ws, "/work/jprunner-test/Main.java", time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to run compiler")
	})

	t.Run("LockFailure", func(t *testing.T) {
		perms := &recordingApplier{err: &ProvisionError{Op: "chmod", Path: "Main.class", Err: os.ErrPermission}}
		c := NewCompiler(zaptest.NewLogger(t), &stubRunner{}, perms, []string{"javac", SourcePlaceholder})

		_, err := c.Compile(context.Background(), ws, "/work/jprunner-test/Main.java", time.Second)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProvision)
	})
}

func TestCompilerWithShellToolchain(t *testing.T) {
	requireShell(t)
	logger := zaptest.NewLogger(t)

	m := newTestManager(t, t.TempDir())
	c := NewCompiler(logger, NewExecRunner(logger, 1<<20, time.Second), m, shellCompileCmd())

	t.Run("ArtifactsLocked", func(t *testing.T) {
		ws, err := m.Provision()
		require.NoError(t, err)
		defer m.Destroy(ws)

		path, err := m.WriteSource(ws, "echo hi\n")
		require.NoError(t, err)

		got, err := c.Compile(context.Background(), ws, path, 5*time.Second)
		require.NoError(t, err)
		require.Equal(t, CompileOK, got.Outcome)
		assert.Equal(t, os.FileMode(0o555), modeOf(t, filepath.Join(ws.Dir, "Main.class")))
	})

	t.Run("DiagnosticsReturned", func(t *testing.T) {
		ws, err := m.Provision()
		require.NoError(t, err)
		defer m.Destroy(ws)

		path, err := m.WriteSource(ws, "syntax error\n")
		require.NoError(t, err)

		got, err := c.Compile(context.Background(), ws, path, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, CompileFailed, got.Outcome)
		assert.Equal(t, 1, got.ExitCode)
		assert.Contains(t, got.Diagnostic, "Main.java:1: error: syntax error")
		_, err = os.Stat(filepath.Join(ws.Dir, "Main.class"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("SlowCompilerTimesOut", func(t *testing.T) {
		slow := NewCompiler(logger, NewExecRunner(logger, 1<<20, time.Second), m,
			[]string{"/bin/sh", "-c", "sleep 10", "compile", SourcePlaceholder})

		ws, err := m.Provision()
		require.NoError(t, err)
		defer m.Destroy(ws)

		path, err := m.WriteSource(ws, "class Main {}")
		require.NoError(t, err)

		start := time.Now()
		got, err := slow.Compile(context.Background(), ws, path, 200*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, CompileTimedOut, got.Outcome)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}
