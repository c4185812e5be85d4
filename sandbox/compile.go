package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/playground-runner/logger"
)

// SourcePlaceholder in a compile command is replaced by the source file name
const SourcePlaceholder = "{source}"

const compileTimeoutMessage = "Compilation exceeded the time limit."

// CompileOutcome classifies a compile attempt
type CompileOutcome string

// Compile outcomes
const (
	CompileOK       CompileOutcome = "compile-ok"
	CompileFailed   CompileOutcome = "compile-error"
	CompileTimedOut CompileOutcome = "timeout"
)

// CompileResult is the classified compile step
type CompileResult struct {
	Outcome    CompileOutcome
	Diagnostic string
	ExitCode   int
}

// permissionApplier is the part of WorkspaceManager the compiler needs
type permissionApplier interface {
	Apply(ws *Workspace, stage Stage) error
}

// Compiler invokes the toolchain inside a workspace
type Compiler struct {
	logger  *zap.Logger
	runner  ProcessRunner
	perms   permissionApplier
	command []string
}

// NewCompiler returns a Compiler running command; SourcePlaceholder
// arguments are substituted per call
func NewCompiler(logger *zap.Logger, runner ProcessRunner, perms permissionApplier, command []string) *Compiler {
	return &Compiler{
		logger:  logger,
		runner:  runner,
		perms:   perms,
		command: command,
	}
}

// Compile runs the toolchain against sourcePath and, on success, locks the
// produced artifacts
func (c *Compiler) Compile(ctx context.Context, ws *Workspace, sourcePath string, timeout time.Duration) (CompileResult, error) {
	outcome, err := c.runner.Run(ctx, ProcessSpec{
		Args:    c.args(sourcePath),
		Dir:     ws.Dir,
		Timeout: timeout,
	})
	if err != nil {
		return CompileResult{}, fmt.Errorf("failed to run compiler: %w", err)
	}

	c.logger.Debug("compile finished",
		logger.RequestID(ws.ID),
		zap.Bool("timed_out", outcome.TimedOut),
		zap.Int("exit_code", outcome.ExitCode),
		zap.Duration("duration", outcome.Duration))

	switch {
	case outcome.TimedOut:
		return CompileResult{
			Outcome:    CompileTimedOut,
			Diagnostic: compileTimeoutMessage,
			ExitCode:   ExitCodeUnavailable,
		}, nil
	case outcome.ExitCode != 0:
		return CompileResult{
			Outcome:    CompileFailed,
			Diagnostic: outcome.Stdout + outcome.Stderr,
			ExitCode:   outcome.ExitCode,
		}, nil
	}

	if err := c.perms.Apply(ws, StageCompiled); err != nil {
		return CompileResult{}, err
	}

	return CompileResult{Outcome: CompileOK, ExitCode: 0}, nil
}

func (c *Compiler) args(sourcePath string) []string {
	name := filepath.Base(sourcePath)
	args := make([]string, len(c.command))
	for i, arg := range c.command {
		args[i] = strings.ReplaceAll(arg, SourcePlaceholder, name)
	}
	return args
}
