//go:build linux

package engine

import (
	"codeexec/internal/execution/sandbox/initproc"
	"codeexec/internal/execution/sandbox/spec"

	"golang.org/x/sys/unix"
)

// buildRlimits turns the run limits into the helper's setrlimit calls. Address space and
// process count come last: once applied, the helper itself can no longer grow.
func buildRlimits(rs spec.RunSpec, withNproc bool, tasksPerProcess int64) []initproc.Rlimit {
	l := rs.Limits
	cpu := uint64(l.CPUTimeSeconds)
	fsize := uint64(l.FileSizeBytes)
	plan := []initproc.Rlimit{
		{Name: "core", Resource: unix.RLIMIT_CORE, Cur: 0, Max: 0},
		// SIGXCPU at the soft limit, SIGKILL one second later
		{Name: "cpu", Resource: unix.RLIMIT_CPU, Cur: cpu, Max: cpu + 1},
		{Name: "fsize", Resource: unix.RLIMIT_FSIZE, Cur: fsize, Max: fsize},
	}
	if withNproc {
		n := uint64(l.MaxProcesses * tasksPerProcess)
		plan = append(plan, initproc.Rlimit{Name: "nproc", Resource: unix.RLIMIT_NPROC, Cur: n, Max: n})
	}
	if rs.AddressSpaceFactor > 0 {
		as := uint64(float64(l.MemoryBytes) * rs.AddressSpaceFactor)
		plan = append(plan, initproc.Rlimit{Name: "as", Resource: unix.RLIMIT_AS, Cur: as, Max: as})
	}
	return plan
}
