package sandbox

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// Target names what a permission rule applies to
type Target string

// Permission targets inside a workspace
const (
	TargetWorkspace Target = "workspace"
	TargetSource    Target = "source"
	TargetArtifact  Target = "artifact"
)

// Stage is the orchestration point at which a rule is applied
type Stage string

// Stages at which the workspace manager applies permissions
const (
	StageProvisioned  Stage = "provisioned"
	StageSourceLocked Stage = "source-locked"
	StageCompiled     Stage = "compiled"
)

// PermissionRule sets Mode on every workspace entry matching Pattern once
// Stage is reached. Pattern is a slash-separated glob relative to the
// workspace root; "." is the root itself.
type PermissionRule struct {
	Target   Target
	Pattern  string
	Stage    Stage
	Mode     fs.FileMode
	Required bool
}

// PermissionPolicy is the complete set of permissions a workspace goes
// through. The workspace manager is the only component that applies it.
type PermissionPolicy struct {
	Rules []PermissionRule
}

// DefaultPolicy returns the policy used for every request: the workspace is
// traversable by the sandbox identity but only writable by its owner, and
// neither the locked source nor any compiled artifact is writable by anyone.
func DefaultPolicy(sourceFile, artifactGlob string) PermissionPolicy {
	return PermissionPolicy{
		Rules: []PermissionRule{
			{Target: TargetWorkspace, Pattern: ".", Stage: StageProvisioned, Mode: 0o755, Required: true},
			{Target: TargetSource, Pattern: sourceFile, Stage: StageSourceLocked, Mode: 0o555, Required: true},
			{Target: TargetArtifact, Pattern: artifactGlob, Stage: StageCompiled, Mode: 0o555},
		},
	}
}

// Validate rejects policies that would weaken the workspace boundary
func (p PermissionPolicy) Validate() error {
	seen := map[Target]bool{}

	for i, rule := range p.Rules {
		if rule.Mode&^fs.ModePerm != 0 {
			return fmt.Errorf("rule %d (%s): only permission bits are allowed, got %v", i, rule.Target, rule.Mode)
		}

		switch rule.Target {
		case TargetWorkspace:
			if rule.Pattern != "." {
				return fmt.Errorf("rule %d (workspace): pattern must be \".\", got %q", i, rule.Pattern)
			}
			if rule.Mode&0o700 != 0o700 {
				return fmt.Errorf("rule %d (workspace): owner needs rwx for cleanup, got %v", i, rule.Mode)
			}
			if rule.Mode&0o022 != 0 {
				return fmt.Errorf("rule %d (workspace): group/other write lets the sandbox replace artifacts, got %v", i, rule.Mode)
			}
		case TargetSource, TargetArtifact:
			if err := validatePattern(rule.Pattern); err != nil {
				return fmt.Errorf("rule %d (%s): %w", i, rule.Target, err)
			}
			if rule.Mode&0o222 != 0 {
				return fmt.Errorf("rule %d (%s): must not grant write, got %v", i, rule.Target, rule.Mode)
			}
		default:
			return fmt.Errorf("rule %d: unknown target %q", i, rule.Target)
		}

		switch rule.Stage {
		case StageProvisioned, StageSourceLocked, StageCompiled:
		default:
			return fmt.Errorf("rule %d (%s): unknown stage %q", i, rule.Target, rule.Stage)
		}

		seen[rule.Target] = true
	}

	for _, target := range []Target{TargetWorkspace, TargetSource, TargetArtifact} {
		if !seen[target] {
			return fmt.Errorf("policy has no rule for %s", target)
		}
	}

	return nil
}

// RulesFor returns the rules applied at stage, in declaration order
func (p PermissionPolicy) RulesFor(stage Stage) []PermissionRule {
	var rules []PermissionRule
	for _, rule := range p.Rules {
		if rule.Stage == stage {
			rules = append(rules, rule)
		}
	}
	return rules
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	if path.IsAbs(pattern) || strings.HasPrefix(path.Clean(pattern), "..") {
		return fmt.Errorf("pattern %q escapes the workspace", pattern)
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return nil
}
