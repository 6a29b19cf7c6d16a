//go:build linux

package engine

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"codeexec/internal/execution/sandbox/sampler"
	"codeexec/internal/execution/sandbox/spec"
	"codeexec/pkg/utils/logger"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	reapRounds   = 100
	reapInterval = 10 * time.Millisecond
)

// enableSubreaper makes sandbox processes that lose their parent reparent to this process
// instead of init, so teardown can still find and reap them.
func enableSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}

func sandboxMarker(sandboxID string) string {
	return spec.SandboxIDEnv + "=" + sandboxID
}

// startHelper starts cmd and records its pid so reapOrphans leaves it to cmd.Wait.
func (e *linuxEngine) startHelper(cmd *exec.Cmd) error {
	e.helpersM.Lock()
	defer e.helpersM.Unlock()
	if err := cmd.Start(); err != nil {
		return err
	}
	e.helpers[cmd.Process.Pid] = struct{}{}
	return nil
}

func (e *linuxEngine) forgetHelper(pid int) {
	e.helpersM.Lock()
	defer e.helpersM.Unlock()
	delete(e.helpers, pid)
}

func (e *linuxEngine) running(sandboxID string) bool {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	_, ok := e.registry[sandboxID]
	return ok
}

// reap kills what is left of a run and collects orphans until nothing of it remains.
func (e *linuxEngine) reap(ctx context.Context, sandboxID string, tree *sampler.Tree) {
	for round := 0; round < reapRounds; round++ {
		pending := e.killTree(ctx, tree)
		pending += e.reapOrphans(sandboxID)
		if pending == 0 {
			return
		}
		time.Sleep(reapInterval)
	}
	logger.Warn(ctx, "sandbox processes survived teardown", zap.String("sandbox_id", sandboxID))
}

// killTree sends SIGKILL to every member except the root, which belongs to its exec.Cmd.
// It returns how many members are still present.
func (e *linuxEngine) killTree(ctx context.Context, tree *sampler.Tree) int {
	if tree == nil {
		return 0
	}
	members, err := tree.Scan()
	if err != nil {
		logger.Warn(ctx, "scan sandbox processes failed", zap.Error(err))
		return 0
	}
	pending := 0
	for _, m := range members {
		if m.PID == tree.Root() || m.PID == e.self {
			continue
		}
		pending++
		if !m.Zombie {
			_ = unix.Kill(m.PID, unix.SIGKILL)
		}
	}
	return pending
}

// reapOrphans handles children of this process that are not helpers. Exited ones are
// reaped. Live ones are killed unless their marker names another running sandbox.
func (e *linuxEngine) reapOrphans(sandboxID string) int {
	if e.proc == nil {
		return 0
	}
	procs, err := e.proc.AllProcs()
	if err != nil {
		return 0
	}

	e.helpersM.Lock()
	defer e.helpersM.Unlock()
	pending := 0
	for _, proc := range procs {
		stat, err := proc.Stat()
		if err != nil || stat.PPID != e.self {
			continue
		}
		if _, ok := e.helpers[stat.PID]; ok {
			continue
		}
		if stat.State != "Z" {
			if owner := sandboxOf(proc); owner != "" && owner != sandboxID && e.running(owner) {
				continue
			}
			_ = unix.Kill(stat.PID, unix.SIGKILL)
		}
		var ws unix.WaitStatus
		if reaped, _ := unix.Wait4(stat.PID, &ws, unix.WNOHANG, nil); reaped != stat.PID {
			pending++
		}
	}
	return pending
}

func sandboxOf(proc procfs.Proc) string {
	env, err := proc.Environ()
	if err != nil {
		return ""
	}
	prefix := spec.SandboxIDEnv + "="
	for _, kv := range env {
		if id, ok := strings.CutPrefix(kv, prefix); ok {
			return id
		}
	}
	return ""
}
