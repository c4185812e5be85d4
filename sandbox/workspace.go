package sandbox

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/playground-runner/logger"
)

const (
	workspacePrefix = "jprunner-"
	// the source is owner-writable only until StageSourceLocked
	sourceCreateMode = 0o600
	// the workspace stays private until the policy opens it up
	workspaceCreateMode = 0o700
)

// Workspace is one request's private directory
type Workspace struct {
	ID         string
	Dir        string
	SourcePath string
}

// WorkspaceManager creates, locks down and destroys workspaces
type WorkspaceManager struct {
	logger     *zap.Logger
	root       string
	sourceFile string
	policy     PermissionPolicy
	fs         FileSystem
	newID      func() string
}

// WorkspaceOption defines a functional option for WorkspaceManager
type WorkspaceOption func(*WorkspaceManager)

// WithFileSystem sets the FileSystem for WorkspaceManager
func WithFileSystem(fs FileSystem) WorkspaceOption {
	return func(m *WorkspaceManager) {
		m.fs = fs
	}
}

// WithIDGenerator replaces the workspace id generator
func WithIDGenerator(newID func() string) WorkspaceOption {
	return func(m *WorkspaceManager) {
		m.newID = newID
	}
}

// NewWorkspaceManager validates policy and returns a manager that creates
// workspaces under root
func NewWorkspaceManager(logger *zap.Logger, root, sourceFile string, policy PermissionPolicy, opts ...WorkspaceOption) (*WorkspaceManager, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid permission policy: %w", err)
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("workspace root must be absolute, got %q", root)
	}

	m := &WorkspaceManager{
		logger:     logger,
		root:       root,
		sourceFile: sourceFile,
		policy:     policy,
		fs:         &RealFileSystem{},
		newID:      uuid.NewString,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Provision creates a fresh, uniquely named workspace
func (m *WorkspaceManager) Provision() (*Workspace, error) {
	id := m.newID()
	dir := filepath.Join(m.root, workspacePrefix+id)

	// Mkdir fails on an existing path, so two requests can never share a directory
	if err := m.fs.Mkdir(dir, workspaceCreateMode); err != nil {
		return nil, &ProvisionError{Op: "mkdir", Path: dir, Err: err}
	}

	ws := &Workspace{ID: id, Dir: dir}
	if err := m.Apply(ws, StageProvisioned); err != nil {
		m.Destroy(ws)
		return nil, err
	}

	return ws, nil
}

// WriteSource writes text verbatim to the fixed source file and locks it
func (m *WorkspaceManager) WriteSource(ws *Workspace, text string) (string, error) {
	path := filepath.Join(ws.Dir, m.sourceFile)

	if err := m.fs.WriteFile(path, []byte(text), sourceCreateMode); err != nil {
		return "", &ProvisionError{Op: "write", Path: path, Err: err}
	}
	ws.SourcePath = path

	if err := m.Apply(ws, StageSourceLocked); err != nil {
		return "", err
	}

	return path, nil
}

// Apply sets the permissions the policy prescribes for stage
func (m *WorkspaceManager) Apply(ws *Workspace, stage Stage) error {
	for _, rule := range m.policy.RulesFor(stage) {
		paths, err := m.resolve(ws, rule)
		if err != nil {
			return &ProvisionError{Op: "glob", Path: rule.Pattern, Err: err}
		}

		if len(paths) == 0 {
			if rule.Required {
				return &ProvisionError{
					Op:   "chmod",
					Path: filepath.Join(ws.Dir, filepath.FromSlash(rule.Pattern)),
					Err:  fmt.Errorf("no %s matches the permission rule", rule.Target),
				}
			}
			m.logger.Warn("permission rule matched nothing",
				logger.RequestID(ws.ID),
				logger.Stage(string(stage)),
				zap.String("target", string(rule.Target)),
				zap.String("pattern", rule.Pattern))
			continue
		}

		for _, p := range paths {
			if err := m.fs.Chmod(p, rule.Mode); err != nil {
				return &ProvisionError{Op: "chmod", Path: p, Err: err}
			}
		}
	}

	return nil
}

func (m *WorkspaceManager) resolve(ws *Workspace, rule PermissionRule) ([]string, error) {
	if rule.Target == TargetWorkspace {
		return []string{ws.Dir}, nil
	}
	return m.fs.Glob(filepath.Join(ws.Dir, filepath.FromSlash(rule.Pattern)))
}

// Destroy removes the workspace recursively. It never fails: errors are
// logged so they cannot mask the result of the request.
func (m *WorkspaceManager) Destroy(ws *Workspace) {
	if ws == nil || ws.Dir == "" {
		return
	}
	if err := m.fs.RemoveAll(ws.Dir); err != nil {
		m.logger.Error("failed to remove workspace",
			logger.RequestID(ws.ID),
			zap.String(logger.KeyWorkspace, ws.Dir),
			zap.Error(err))
	}
}
