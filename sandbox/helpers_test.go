package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeNsjail stands in for the isolation tool: it drops every flag up to
// "--" and execs the inner command in the current directory
const fakeNsjail = `#!/bin/sh
while [ "$#" -gt 0 ]; do
  if [ "$1" = "--" ]; then
    shift
    exec "$@"
  fi
  shift
done
echo "fake nsjail: missing --" >&2
exit 127
`

// The test "toolchain" treats the source as a shell script: compiling
// rejects sources containing "syntax error" and copies the rest to the
// artifact, running executes the artifact with sh.
const shellCompileScript = `if grep -q "syntax error" "$1"; then
  echo "$1:1: error: syntax error" >&2
  exit 1
fi
cp "$1" Main.class`

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func writeFakeNsjail(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nsjail")
	require.NoError(t, os.WriteFile(path, []byte(fakeNsjail), 0o755))
	return path
}

func shellCompileCmd() []string {
	return []string{"/bin/sh", "-c", shellCompileScript, "compile", SourcePlaceholder}
}

func shellRunCmd() []string {
	return []string{"/bin/sh", "Main.class"}
}

type harness struct {
	root    string
	runner  *countingRunner
	orch    *Orchestrator
	manager *WorkspaceManager
}

type harnessOption func(*Settings, *[]string)

func withCompileCmd(cmd ...string) harnessOption {
	return func(_ *Settings, compile *[]string) {
		*compile = cmd
	}
}

func withSettings(fn func(*Settings)) harnessOption {
	return func(s *Settings, _ *[]string) {
		fn(s)
	}
}

func newHarness(t *testing.T, logger *zap.Logger, opts ...harnessOption) *harness {
	t.Helper()
	requireShell(t)

	root := t.TempDir()
	settings := Settings{
		MaxSourceChars: 10000,
		MaxStdinBytes:  64 * 1024,
		DefaultTimeout: 3 * time.Second,
		MaxTimeout:     10 * time.Second,
		CompileTimeout: 5 * time.Second,
		RunCmd:         shellRunCmd(),
		Limits:         Limits{MemoryMB: 4096, FileSizeMB: 1, MaxProcs: 50},
	}
	compileCmd := shellCompileCmd()
	for _, opt := range opts {
		opt(&settings, &compileCmd)
	}

	manager, err := NewWorkspaceManager(logger, root, "Main.java", DefaultPolicy("Main.java", "*.class"))
	require.NoError(t, err)

	builder, err := NewNsjailBuilder(IsolationSpec{
		Path:           writeFakeNsjail(t),
		User:           "javaplayground",
		Group:          "javaplayground",
		SandboxDir:     "/app",
		ReadOnlyMounts: []string{"/usr", "/bin"},
		Quiet:          true,
	})
	require.NoError(t, err)

	runner := &countingRunner{next: NewExecRunner(logger, 1<<20, time.Second)}
	orch := NewOrchestrator(logger, settings, manager,
		NewCompiler(logger, runner, manager, compileCmd),
		NewExecutor(logger, runner, builder))

	return &harness{root: root, runner: runner, orch: orch, manager: manager}
}

// requireEmptyRoot asserts that no workspace outlived its request
func requireEmptyRoot(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries, "workspace root should be empty after the request")
}

// countingRunner records every spec it forwards
type countingRunner struct {
	next  ProcessRunner
	mu    sync.Mutex
	specs []ProcessSpec
}

func (c *countingRunner) Run(ctx context.Context, spec ProcessSpec) (ProcessOutcome, error) {
	c.mu.Lock()
	c.specs = append(c.specs, spec)
	c.mu.Unlock()
	return c.next.Run(ctx, spec)
}

func (c *countingRunner) Calls() []ProcessSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ProcessSpec(nil), c.specs...)
}

// stubRunner returns canned outcomes in order
type stubRunner struct {
	outcomes []ProcessOutcome
	err      error
	specs    []ProcessSpec
}

func (s *stubRunner) Run(_ context.Context, spec ProcessSpec) (ProcessOutcome, error) {
	s.specs = append(s.specs, spec)
	if s.err != nil {
		return ProcessOutcome{ExitCode: ExitCodeUnavailable}, s.err
	}
	if len(s.outcomes) == 0 {
		return ProcessOutcome{}, nil
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out, nil
}

// MockFileSystem implements FileSystem for testing, failing on demand
type MockFileSystem struct {
	RealFileSystem
	mkdirErr     error
	chmodErrs    map[string]error
	removeAllErr error
	mkdirCalls   []string
	chmodCalls   map[string]os.FileMode
}

func (m *MockFileSystem) Mkdir(path string, perm os.FileMode) error {
	m.mkdirCalls = append(m.mkdirCalls, path)
	if m.mkdirErr != nil {
		return m.mkdirErr
	}
	return m.RealFileSystem.Mkdir(path, perm)
}

func (m *MockFileSystem) Chmod(path string, mode os.FileMode) error {
	if m.chmodCalls == nil {
		m.chmodCalls = map[string]os.FileMode{}
	}
	m.chmodCalls[path] = mode
	if err, ok := m.chmodErrs[filepath.Base(path)]; ok {
		return err
	}
	return m.RealFileSystem.Chmod(path, mode)
}

func (m *MockFileSystem) RemoveAll(path string) error {
	if m.removeAllErr != nil {
		return m.removeAllErr
	}
	return m.RealFileSystem.RemoveAll(path)
}

// processGone reports whether pid has exited; zombies count as gone
func processGone(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	// state is the field after the parenthesised command name
	stat := string(data)
	if i := strings.LastIndexByte(stat, ')'); i >= 0 && i+2 < len(stat) {
		return stat[i+2] == 'Z' || stat[i+2] == 'X'
	}
	return false
}
