package sandbox

import (
	"context"
	"errors"
	"time"
	"unicode/utf16"

	"go.uber.org/zap"

	"github.com/isdmx/playground-runner/logger"
)

// Settings is the request-independent configuration of an Orchestrator
type Settings struct {
	MaxSourceChars int
	MaxStdinBytes  int
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	CompileTimeout time.Duration
	RunCmd         []string
	// WallTimeSec is derived per request from the execution deadline
	Limits Limits
}

// Orchestrator drives one request through provision, compile, execute and
// cleanup. It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	logger     *zap.Logger
	settings   Settings
	workspaces *WorkspaceManager
	compiler   *Compiler
	executor   *Executor
}

// NewOrchestrator wires the stages together
//
//nolint:gocritic // Settings is copied once at construction
func NewOrchestrator(logger *zap.Logger, settings Settings, workspaces *WorkspaceManager, compiler *Compiler, executor *Executor) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		settings:   settings,
		workspaces: workspaces,
		compiler:   compiler,
		executor:   executor,
	}
}

// Run executes req. The returned error is non-nil only for infrastructure
// faults; everything attributable to the submitted code is a Result.
//
//nolint:gocritic // Request is passed by value to keep it immutable
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	timeout, err := o.validate(req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			o.logger.Info("request rejected", zap.String("field", verr.Field), zap.String("reason", verr.Message))
			return Result{Status: StatusCompileError, CompileOutput: verr.Message}, nil
		}
		return Result{}, err
	}

	ws, err := o.workspaces.Provision()
	if err != nil {
		o.logger.Error("workspace provisioning failed", zap.Error(err))
		return Result{}, err
	}
	defer o.workspaces.Destroy(ws)

	log := o.logger.With(logger.RequestID(ws.ID))
	log.Debug("workspace provisioned", zap.String(logger.KeyWorkspace, ws.Dir))

	sourcePath, err := o.workspaces.WriteSource(ws, req.Source)
	if err != nil {
		log.Error("failed to write source", zap.Error(err))
		return Result{}, err
	}

	// the caller's budget never makes the compile deadline tighter
	compiled, err := o.compiler.Compile(ctx, ws, sourcePath, max(o.settings.CompileTimeout, timeout))
	if err != nil {
		log.Error("compile stage failed", zap.Error(err))
		return Result{}, err
	}

	switch compiled.Outcome {
	case CompileTimedOut:
		log.Info("request finished", logger.Stage("compile"), zap.String("status", string(StatusTimeout)))
		return Result{
			Status:        StatusTimeout,
			CompileOutput: compiled.Diagnostic,
			TimedOut:      true,
		}, nil
	case CompileFailed:
		log.Info("request finished", logger.Stage("compile"), zap.String("status", string(StatusCompileError)))
		return Result{
			Status:        StatusCompileError,
			CompileOutput: compiled.Diagnostic,
			ExitCode:      intPtr(compiled.ExitCode),
		}, nil
	}

	limits := o.settings.Limits
	limits.WallTimeSec = innerTimeLimit(timeout)

	result, err := o.executor.Execute(ctx, ws, o.settings.RunCmd, req.Stdin, timeout, limits)
	if err != nil {
		log.Error("execution stage failed", zap.Error(err))
		return Result{}, err
	}

	log.Info("request finished",
		logger.Stage("execute"),
		zap.String("status", string(result.Status)),
		zap.NamedError("outcome", result.Err()))
	return result, nil
}

// validate checks req without touching the filesystem and returns the
// execution deadline to use
//
//nolint:gocritic // see Run
func (o *Orchestrator) validate(req Request) (time.Duration, error) {
	if req.Source == "" {
		return 0, validationFailed("source", "Source code is empty.")
	}
	if n := sourceLength(req.Source); n > o.settings.MaxSourceChars {
		return 0, validationFailed("source", "Source code is too large: %d characters, limit is %d.", n, o.settings.MaxSourceChars)
	}
	if len(req.Stdin) > o.settings.MaxStdinBytes {
		return 0, validationFailed("stdin", "Standard input is too large: %d bytes, limit is %d.", len(req.Stdin), o.settings.MaxStdinBytes)
	}

	if req.TimeoutMs == nil {
		return o.settings.DefaultTimeout, nil
	}
	if *req.TimeoutMs <= 0 {
		return 0, validationFailed("timeoutMs", "Timeout must be a positive number of milliseconds, got %d.", *req.TimeoutMs)
	}

	// clamp in milliseconds: huge values would overflow time.Duration
	if *req.TimeoutMs >= int(o.settings.MaxTimeout/time.Millisecond) {
		return o.settings.MaxTimeout, nil
	}
	return time.Duration(*req.TimeoutMs) * time.Millisecond, nil
}

// sourceLength counts UTF-16 code units, so characters outside the Basic
// Multilingual Plane count twice, as in the JVM
func sourceLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
