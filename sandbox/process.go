package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ProcessSpec describes one child process
type ProcessSpec struct {
	Args    []string
	Dir     string
	Stdin   string
	Timeout time.Duration
}

// ProcessRunner spawns a child and waits for it under a deadline
type ProcessRunner interface {
	Run(ctx context.Context, spec ProcessSpec) (ProcessOutcome, error)
}

// ExecRunner implements ProcessRunner with os/exec. Each child runs in its
// own process group so the deadline kills it together with everything it
// spawned.
type ExecRunner struct {
	logger         *zap.Logger
	maxOutputBytes int
	waitDelay      time.Duration
}

// NewExecRunner returns a runner keeping at most maxOutputBytes of each
// stream (0 means unbounded). waitDelay bounds how long output pipes are
// drained after the child has exited or been killed.
func NewExecRunner(logger *zap.Logger, maxOutputBytes int, waitDelay time.Duration) *ExecRunner {
	return &ExecRunner{
		logger:         logger,
		maxOutputBytes: maxOutputBytes,
		waitDelay:      waitDelay,
	}
}

// Run starts spec.Args and blocks until the child exits or spec.Timeout
// elapses. A timeout is reported through ProcessOutcome.TimedOut, not as an
// error; errors mean the child could not be run or ctx was cancelled.
func (r *ExecRunner) Run(ctx context.Context, spec ProcessSpec) (ProcessOutcome, error) {
	outcome := ProcessOutcome{ExitCode: ExitCodeUnavailable}

	if len(spec.Args) == 0 {
		return outcome, fmt.Errorf("no command provided")
	}
	if spec.Timeout <= 0 {
		return outcome, fmt.Errorf("timeout must be positive, got %s", spec.Timeout)
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Args[0], spec.Args[1:]...) //nolint:gosec // argv is assembled from configuration, never from the request
	cmd.Dir = spec.Dir

	stdout := newCappedBuffer(r.maxOutputBytes)
	stderr := newCappedBuffer(r.maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// A nil Stdin is /dev/null: children reading input see EOF at once.
	// Otherwise os/exec copies the text in its own goroutine, which ends
	// with EPIPE at the latest when the child is killed at the deadline.
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	setProcessGroup(cmd)
	var killed atomic.Bool
	cmd.Cancel = func() error {
		killed.Store(true)
		return killProcessGroup(cmd.Process)
	}
	cmd.WaitDelay = r.waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return outcome, fmt.Errorf("failed to start %s: %w", spec.Args[0], err)
	}

	// Kill what the child left behind in its group while the exited leader
	// is still unreaped: the zombie pins the group id so it cannot be reused.
	if err := waitExited(cmd.Process); err != nil {
		r.logger.Debug("child exit not observable before reaping, leftover group members are not killed",
			zap.String("command", spec.Args[0]),
			zap.Error(err))
	} else if err := killProcessGroup(cmd.Process); err != nil {
		r.logger.Warn("failed to kill process group",
			zap.String("command", spec.Args[0]),
			zap.Int("pid", cmd.Process.Pid),
			zap.Error(err))
	}

	waitErr := cmd.Wait()
	outcome.Duration = time.Since(start)

	outcome.Stdout = stdout.String()
	outcome.Stderr = stderr.String()
	outcome.Truncated = stdout.Truncated() || stderr.Truncated()

	if killed.Load() {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			outcome.TimedOut = true
			return outcome, nil
		}
		return outcome, fmt.Errorf("process aborted: %w", runCtx.Err())
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
		case errors.Is(waitErr, exec.ErrWaitDelay):
			r.logger.Warn("child exited but its output pipes stayed open",
				zap.String("command", spec.Args[0]),
				zap.Duration("wait_delay", r.waitDelay))
		default:
			return outcome, fmt.Errorf("failed to wait for %s: %w", spec.Args[0], waitErr)
		}
	}

	outcome.ExitCode = exitCode(cmd)
	return outcome, nil
}

// exitCode follows the shell convention of 128+signal for a signalled child
func exitCode(cmd *exec.Cmd) int {
	state := cmd.ProcessState
	if state == nil {
		return ExitCodeUnavailable
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// cappedBuffer keeps the first limit bytes and silently drains the rest so
// the child never blocks on a full pipe
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}

	remaining := b.limit - b.buf.Len()
	switch {
	case remaining <= 0:
		if len(p) > 0 {
			b.truncated = true
		}
	case len(p) > remaining:
		b.buf.Write(p[:remaining])
		b.truncated = true
	default:
		b.buf.Write(p)
	}

	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	return b.truncated
}
