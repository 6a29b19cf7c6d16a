// Package spec defines the execution specification handed to the sandbox engine.
package spec

import (
	"time"

	"codeexec/internal/execution/model"
)

// Stage names the pipeline step a RunSpec belongs to.
type Stage string

const (
	StageInstall Stage = "install"
	StageCompile Stage = "compile"
	StageRun     Stage = "run"
)

// SandboxIDEnv is set in every sandboxed process so orphans can be traced back to their sandbox.
const SandboxIDEnv = "CODE_EXEC_SANDBOX_ID"

// RunSpec is the unified execution specification for one process launch.
type RunSpec struct {
	SandboxID string
	Stage     Stage
	WorkDir   string
	Cmd       []string
	Env       []string
	Stdin     []byte
	Limits    model.ResourceLimits
	// AddressSpaceFactor scales MemoryBytes into RLIMIT_AS. Zero leaves address space unlimited,
	// which runtimes that reserve large virtual ranges (node, go, java) need.
	AddressSpaceFactor float64
	WallTimeout        time.Duration
	OutputLimit        int64
}
