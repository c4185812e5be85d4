package sandbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/playground-runner/logger"
)

// Executor runs the compiled artifact inside the isolation tool
type Executor struct {
	logger  *zap.Logger
	runner  ProcessRunner
	builder *NsjailBuilder
}

// NewExecutor returns an Executor wrapping every command with builder
func NewExecutor(logger *zap.Logger, runner ProcessRunner, builder *NsjailBuilder) *Executor {
	return &Executor{
		logger:  logger,
		runner:  runner,
		builder: builder,
	}
}

// Execute runs inner in the jail. timeout is the authoritative deadline;
// limits.WallTimeSec only backs it up inside the jail.
//
//nolint:gocritic // Limits is small and passed by value on purpose
func (e *Executor) Execute(ctx context.Context, ws *Workspace, inner []string, stdin string, timeout time.Duration, limits Limits) (Result, error) {
	argv, err := e.builder.Build(ws, inner, limits)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build isolation command: %w", err)
	}

	outcome, err := e.runner.Run(ctx, ProcessSpec{
		Args:    argv,
		Dir:     ws.Dir,
		Stdin:   stdin,
		Timeout: timeout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to run isolated program: %w", err)
	}

	e.logger.Debug("execution finished",
		logger.RequestID(ws.ID),
		zap.Bool("timed_out", outcome.TimedOut),
		zap.Int("exit_code", outcome.ExitCode),
		zap.Bool("truncated", outcome.Truncated),
		zap.Duration("duration", outcome.Duration))

	result := Result{
		Stdout: outcome.Stdout,
		Stderr: outcome.Stderr,
	}

	switch {
	case outcome.TimedOut:
		result.Status = StatusTimeout
		result.TimedOut = true
	case outcome.ExitCode == 0:
		result.Status = StatusOK
		result.ExitCode = intPtr(0)
	default:
		result.Status = StatusRuntimeError
		result.ExitCode = intPtr(outcome.ExitCode)
	}

	return result, nil
}
