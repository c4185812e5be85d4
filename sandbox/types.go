package sandbox

import (
	"context"
	"time"
)

// Status is the outcome reported to the caller
type Status string

// Outcomes produced by the orchestrator
const (
	StatusOK           Status = "ok"
	StatusCompileError Status = "compile-error"
	StatusRuntimeError Status = "runtime-error"
	StatusTimeout      Status = "timeout"
)

// Request is one accepted submission. TimeoutMs is nil when the caller did
// not override the default execution deadline.
type Request struct {
	Source    string
	Stdin     string
	TimeoutMs *int
}

// Result is produced exactly once per request
type Result struct {
	Status        Status `json:"status"`
	CompileOutput string `json:"compileOutput,omitempty"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExitCode      *int   `json:"exitCode"`
	TimedOut      bool   `json:"timedOut"`
}

// Err maps a code-attributable outcome onto the error taxonomy; nil for ok
func (r Result) Err() error {
	switch r.Status {
	case StatusCompileError:
		return ErrCompile
	case StatusRuntimeError:
		return ErrRuntime
	case StatusTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// Runner executes one request end to end
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// ExitCodeUnavailable marks a ProcessOutcome whose child was killed before
// it could report an exit status
const ExitCodeUnavailable = -1

// ProcessOutcome is what the process runner observed about one child
type ProcessOutcome struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// HasExitCode reports whether ExitCode is meaningful
func (o ProcessOutcome) HasExitCode() bool {
	return !o.TimedOut && o.ExitCode != ExitCodeUnavailable
}

// Limits are the resource ceilings handed to the isolation tool
type Limits struct {
	MemoryMB    int
	WallTimeSec int
	FileSizeMB  int
	MaxProcs    int
}

func intPtr(v int) *int {
	return &v
}
