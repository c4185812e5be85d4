package sandbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/playground-runner/config"
)

// NewRunner builds the orchestrator and its stages from the configuration
func NewRunner(logger *zap.Logger, cfg *config.Config) (Runner, error) {
	return NewOrchestratorFromConfig(logger, cfg)
}

// NewOrchestratorFromConfig assembles an Orchestrator from cfg
func NewOrchestratorFromConfig(logger *zap.Logger, cfg *config.Config) (*Orchestrator, error) {
	glob := cfg.Toolchain.ArtifactGlob
	if glob == "" {
		glob = cfg.Toolchain.ArtifactFile
	}

	workspaces, err := NewWorkspaceManager(logger, cfg.Runner.WorkRoot, cfg.Toolchain.SourceFile,
		DefaultPolicy(cfg.Toolchain.SourceFile, glob))
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace manager: %w", err)
	}

	builder, err := NewNsjailBuilder(IsolationSpec{
		Path:           cfg.Isolation.NsjailPath,
		User:           cfg.Isolation.User,
		Group:          cfg.Isolation.Group,
		SandboxDir:     cfg.Isolation.SandboxDir,
		ReadOnlyMounts: cfg.Isolation.ReadOnlyMounts,
		NetworkEnabled: cfg.Isolation.NetworkEnabled,
		Quiet:          cfg.Isolation.Quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create isolation builder: %w", err)
	}

	runner := NewExecRunner(logger, cfg.Runner.MaxOutputBytes,
		time.Duration(cfg.Runner.KillGraceMs)*time.Millisecond)

	settings := Settings{
		MaxSourceChars: cfg.Runner.MaxSourceChars,
		MaxStdinBytes:  cfg.Runner.MaxStdinBytes,
		DefaultTimeout: cfg.DefaultTimeout(),
		MaxTimeout:     cfg.MaxTimeout(),
		CompileTimeout: cfg.CompileTimeout(),
		RunCmd:         cfg.Toolchain.RunCmd,
		Limits: Limits{
			MemoryMB:   cfg.Isolation.MemoryMB,
			FileSizeMB: cfg.Isolation.FileSizeMB,
			MaxProcs:   cfg.Isolation.MaxProcs,
		},
	}

	return NewOrchestrator(logger, settings,
		workspaces,
		NewCompiler(logger, runner, workspaces, cfg.Toolchain.CompileCmd),
		NewExecutor(logger, runner, builder),
	), nil
}
