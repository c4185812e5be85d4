package sandbox

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// IsolationSpec holds the fixed part of every nsjail invocation
type IsolationSpec struct {
	Path           string
	User           string
	Group          string
	SandboxDir     string
	ReadOnlyMounts []string
	NetworkEnabled bool
	Quiet          bool
}

// NsjailBuilder turns a workspace, an inner command and limits into the
// nsjail argument vector. It performs no I/O.
type NsjailBuilder struct {
	spec IsolationSpec
}

// NewNsjailBuilder validates spec and returns a builder for it
func NewNsjailBuilder(spec IsolationSpec) (*NsjailBuilder, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("nsjail path must be set")
	}
	if spec.User == "" || spec.Group == "" {
		return nil, fmt.Errorf("sandbox user and group must be set")
	}
	if err := checkMountPath(spec.SandboxDir); err != nil {
		return nil, fmt.Errorf("sandbox dir: %w", err)
	}

	sandboxDir := filepath.Clean(spec.SandboxDir)
	seen := make(map[string]bool, len(spec.ReadOnlyMounts))
	mounts := make([]string, 0, len(spec.ReadOnlyMounts))
	for _, m := range spec.ReadOnlyMounts {
		if err := checkMountPath(m); err != nil {
			return nil, fmt.Errorf("read-only mount: %w", err)
		}
		clean := filepath.Clean(m)
		if clean == sandboxDir {
			return nil, fmt.Errorf("read-only mount %q would shadow the sandbox dir", m)
		}
		if seen[clean] {
			return nil, fmt.Errorf("duplicate read-only mount %q", m)
		}
		seen[clean] = true
		mounts = append(mounts, clean)
	}

	spec.SandboxDir = sandboxDir
	spec.ReadOnlyMounts = mounts
	return &NsjailBuilder{spec: spec}, nil
}

// Build returns the full argv: the nsjail binary, its flags, "--" and inner
func (b *NsjailBuilder) Build(ws *Workspace, inner []string, limits Limits) ([]string, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if err := checkMountPath(ws.Dir); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if len(inner) == 0 || inner[0] == "" {
		return nil, fmt.Errorf("inner command is required")
	}

	ceilings := []struct {
		flag  string
		value int
	}{
		{"--rlimit_as", limits.MemoryMB},
		{"--time_limit", limits.WallTimeSec},
		{"--rlimit_fsize", limits.FileSizeMB},
		{"--rlimit_nproc", limits.MaxProcs},
	}
	for _, c := range ceilings {
		if c.value <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", c.flag, c.value)
		}
	}

	args := make([]string, 0, 16+2*len(b.spec.ReadOnlyMounts)+len(inner))
	args = append(args, b.spec.Path)
	if b.spec.Quiet {
		args = append(args, "-q")
	}
	// one-shot mode: run the command once and exit with its status
	args = append(args, "-Mo",
		"--user", b.spec.User,
		"--group", b.spec.Group,
	)

	for _, m := range b.spec.ReadOnlyMounts {
		args = append(args, "-R", m)
	}
	args = append(args,
		"-B", filepath.Clean(ws.Dir)+":"+b.spec.SandboxDir,
		"--cwd", b.spec.SandboxDir,
	)

	if b.spec.NetworkEnabled {
		args = append(args, "--disable_clone_newnet")
	}

	for _, c := range ceilings {
		args = append(args, c.flag, strconv.Itoa(c.value))
	}

	args = append(args, "--")
	args = append(args, inner...)
	return args, nil
}

// checkMountPath rejects paths nsjail would misparse: relative ones and
// ones containing the src:dst separator
func checkMountPath(p string) error {
	if !filepath.IsAbs(p) {
		return fmt.Errorf("path must be absolute, got %q", p)
	}
	if strings.Contains(p, ":") {
		return fmt.Errorf("path must not contain ':', got %q", p)
	}
	return nil
}

// innerTimeLimit is the jail's own wall-clock ceiling: whole seconds, one
// past the outer deadline, so the outer deadline always fires first
func innerTimeLimit(outer time.Duration) int {
	secs := int((outer + time.Second - 1) / time.Second)
	return secs + 1
}
