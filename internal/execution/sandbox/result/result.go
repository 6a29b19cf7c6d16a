// Package result defines raw sandbox run results and their status mapping.
package result

import (
	"strings"

	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/monitor"
)

// RunResult captures raw sandbox execution data for one process launch.
type RunResult struct {
	State      monitor.State
	Limit      string
	ExitCode   int
	Signal     string
	Stdout     string
	Stderr     string
	Truncated  bool
	Stats      model.ProcessStats
	OomKilled  bool
	SpawnError string
}

// Succeeded reports a clean zero exit.
func (r RunResult) Succeeded() bool {
	return r.State == monitor.StateCompleted && r.ExitCode == 0 && r.Signal == "" && !r.OomKilled
}

// Output joins stdout and stderr for setup logs.
func (r RunResult) Output() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Classify maps a run onto an execution status and, where one applies, the limit that was hit.
// cpuLimitSeconds is the configured cpu ceiling; oomMarkers are runtime-specific stderr
// fragments that signal an allocation failure inside the interpreter.
func Classify(r RunResult, cpuLimitSeconds int64, oomMarkers []string) (model.Status, string) {
	switch r.State {
	case monitor.StateSpawnFailed:
		return model.StatusSetupError, ""
	case monitor.StateTimedOut:
		return model.StatusTimeout, orDefault(r.Limit, model.LimitWallTime)
	case monitor.StateLimitExceeded:
		return model.StatusResourceExceeded, r.Limit
	}

	if r.OomKilled {
		return model.StatusResourceExceeded, model.LimitMemory
	}
	switch r.Signal {
	case "SIGXCPU":
		return model.StatusTimeout, model.LimitCPUTime
	case "SIGKILL":
		// the kernel escalates to SIGKILL at the hard RLIMIT_CPU
		if cpuLimitSeconds > 0 && r.Stats.CPUTime.Seconds() >= float64(cpuLimitSeconds) {
			return model.StatusTimeout, model.LimitCPUTime
		}
	case "SIGXFSZ":
		return model.StatusResourceExceeded, model.LimitFileSize
	}
	if r.ExitCode != 0 && r.Signal == "" && hasMarker(r.Stderr, oomMarkers) {
		return model.StatusResourceExceeded, model.LimitMemory
	}
	if r.ExitCode == 0 && r.Signal == "" {
		return model.StatusSuccess, ""
	}
	return model.StatusRuntimeError, ""
}

func hasMarker(stderr string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
