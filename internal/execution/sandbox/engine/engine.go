// Package engine launches one command under kernel limits and a process monitor.
package engine

import (
	"context"
	"path/filepath"
	"strings"

	"codeexec/internal/execution/sandbox/result"
	"codeexec/internal/execution/sandbox/spec"
	appErr "codeexec/pkg/errors"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	// Run blocks until the process has exited and been reaped. A returned error means the
	// limiter could not be established and nothing ran; failures of the command itself are
	// reported in the result.
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	// Kill terminates every process still running for a sandbox.
	Kill(ctx context.Context, sandboxID string) error
}

func validateRunSpec(rs spec.RunSpec) error {
	if rs.SandboxID == "" {
		return appErr.ValidationError("sandbox_id", "required")
	}
	if rs.WorkDir == "" || !filepath.IsAbs(rs.WorkDir) {
		return appErr.ValidationError("work_dir", "absolute path required")
	}
	if len(rs.Cmd) == 0 || rs.Cmd[0] == "" {
		return appErr.ValidationError("cmd", "required")
	}
	if err := rs.Limits.Validate(rs.Limits); err != nil {
		return err
	}
	for _, kv := range rs.Env {
		if !strings.Contains(kv, "=") {
			return appErr.ValidationError("env", "entries must be KEY=VALUE")
		}
	}
	return nil
}
