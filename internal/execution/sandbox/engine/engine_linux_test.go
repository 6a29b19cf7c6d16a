//go:build linux

package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/initproc"
	"codeexec/internal/execution/sandbox/monitor"
	"codeexec/internal/execution/sandbox/result"
	"codeexec/internal/execution/sandbox/spec"
	appErr "codeexec/pkg/errors"

	"golang.org/x/sys/unix"
)

// The test binary doubles as the sandbox helper.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == initproc.Arg {
		os.Exit(initproc.Main())
	}
	os.Exit(m.Run())
}

func newTestEngine(t *testing.T, cfg Config) Engine {
	t.Helper()
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = 20 * time.Millisecond
	}
	if cfg.KillGrace == 0 {
		cfg.KillGrace = 100 * time.Millisecond
	}
	eng, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func runSpec(t *testing.T, cmd ...string) spec.RunSpec {
	t.Helper()
	dir := t.TempDir()
	return spec.RunSpec{
		SandboxID:   filepath.Base(dir),
		Stage:       spec.StageRun,
		WorkDir:     dir,
		Cmd:         cmd,
		Env:         []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=" + dir},
		Limits:      testLimits(),
		WallTimeout: 5 * time.Second,
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "sh", "-c", "echo out; echo err >&2; exit 3")

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != monitor.StateCompleted {
		t.Fatalf("unexpected state: %s (%s)", res.State, res.SpawnError)
	}
	if res.ExitCode != 3 || res.Stdout != "out\n" || res.Stderr != "err\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Stats.WallTime <= 0 {
		t.Fatalf("wall time not recorded")
	}
	if status, _ := result.Classify(res, rs.Limits.CPUTimeSeconds, nil); status != model.StatusRuntimeError {
		t.Fatalf("unexpected status: %s", status)
	}
}

func TestRunFeedsStdin(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "cat")
	rs.Stdin = []byte("hello sandbox")

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Succeeded() || res.Stdout != "hello sandbox" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunRunsInWorkDir(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "pwd")

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want, _ := filepath.EvalSymlinks(rs.WorkDir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	if got != want {
		t.Fatalf("pwd = %q, want %q", got, want)
	}
}

func TestRunWallTimeout(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "sleep", "5")
	rs.WallTimeout = 200 * time.Millisecond

	start := time.Now()
	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout was not enforced promptly")
	}
	status, limit := result.Classify(res, rs.Limits.CPUTimeSeconds, nil)
	if status != model.StatusTimeout || limit != model.LimitWallTime {
		t.Fatalf("got (%s, %s), result %+v", status, limit, res)
	}
}

func TestRunContextCancel(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "sleep", "5")
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	res, err := eng.Run(ctx, rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != monitor.StateTimedOut {
		t.Fatalf("unexpected state: %s", res.State)
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "sh", "-c", "head -c 100000 /dev/zero | tr '\\0' a")
	rs.OutputLimit = 1000

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Truncated || len(res.Stdout) != 1000 {
		t.Fatalf("truncated=%v len=%d", res.Truncated, len(res.Stdout))
	}
	if res.ExitCode != 0 {
		t.Fatalf("program must not notice the cap: %+v", res)
	}
}

func TestRunFileSizeLimit(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "sh", "-c", "exec head -c 100000 /dev/zero > big.bin")
	rs.Limits.FileSizeBytes = 1000

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	status, limit := result.Classify(res, rs.Limits.CPUTimeSeconds, nil)
	if status != model.StatusResourceExceeded || limit != model.LimitFileSize {
		t.Fatalf("got (%s, %s), result %+v", status, limit, res)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "definitely-not-a-real-command-xyz")

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != monitor.StateSpawnFailed {
		t.Fatalf("unexpected state: %s", res.State)
	}
	if !strings.Contains(res.SpawnError, "resolve command") {
		t.Fatalf("unexpected spawn error: %q", res.SpawnError)
	}
	if status, _ := result.Classify(res, 0, nil); status != model.StatusSetupError {
		t.Fatalf("unexpected status: %s", status)
	}
}

func TestRunAppliesRlimits(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "sh", "-c", "ulimit -t; ulimit -c")
	rs.Limits.CPUTimeSeconds = 3

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) != 2 || fields[0] != "3" || fields[1] != "0" {
		t.Fatalf("unexpected limits: %q", res.Stdout)
	}
}

func TestKillTerminatesRunningSandbox(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "sleep", "10")

	done := make(chan result.RunResult, 1)
	go func() {
		res, err := eng.Run(context.Background(), rs)
		if err != nil {
			t.Errorf("run: %v", err)
		}
		done <- res
	}()

	le := eng.(*linuxEngine)
	deadline := time.Now().Add(2 * time.Second)
	for len(le.snapshot(rs.SandboxID)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("run never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := eng.Kill(context.Background(), rs.SandboxID); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case res := <-done:
		if res.Signal != unix.SignalName(unix.SIGKILL) {
			t.Fatalf("unexpected signal: %q", res.Signal)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not end after kill")
	}
	if len(le.snapshot(rs.SandboxID)) != 0 {
		t.Fatalf("registry not cleaned up")
	}
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", filepath.Base(path), err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		t.Fatalf("bad pid in %s: %q", filepath.Base(path), data)
	}
	return pid
}

func processGone(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	return strings.Contains(string(data), ") Z ")
}

func TestRunReclaimsDetachedProcesses(t *testing.T) {
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not installed")
	}
	eng := newTestEngine(t, Config{})
	// one child leaves the session while its parent lives on, the other is orphaned at once
	rs := runSpec(t, "sh", "-c",
		"setsid sh -c 'echo $$ > escaped.pid; exec sleep 30' >/dev/null 2>&1 &\n"+
			"(setsid sh -c 'echo $$ > orphan.pid; exec sleep 30' >/dev/null 2>&1 &)\n"+
			"sleep 0.3")

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, name := range []string{"escaped.pid", "orphan.pid"} {
		pid := readPID(t, filepath.Join(rs.WorkDir, name))
		if !processGone(pid) {
			_ = unix.Kill(pid, unix.SIGKILL)
			t.Fatalf("%s process %d survived the run", name, pid)
		}
	}
}

func TestKillReclaimsDetachedProcesses(t *testing.T) {
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not installed")
	}
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "sh", "-c", "setsid sh -c 'echo $$ > escaped.pid; exec sleep 30' >/dev/null 2>&1 & exec sleep 10")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := eng.Run(context.Background(), rs); err != nil {
			t.Errorf("run: %v", err)
		}
	}()

	pidFile := filepath.Join(rs.WorkDir, "escaped.pid")
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(pidFile); err == nil && len(eng.(*linuxEngine).snapshot(rs.SandboxID)) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never started the detached child")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// let the pid file be fully written
	time.Sleep(50 * time.Millisecond)
	pid := readPID(t, pidFile)

	if err := eng.Kill(context.Background(), rs.SandboxID); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not end after kill")
	}
	if !processGone(pid) {
		_ = unix.Kill(pid, unix.SIGKILL)
		t.Fatalf("detached process %d survived kill", pid)
	}
}

func TestRunMarksSandboxEnv(t *testing.T) {
	eng := newTestEngine(t, Config{})
	rs := runSpec(t, "sh", "-c", "echo $CODE_EXEC_SANDBOX_ID")

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != rs.SandboxID {
		t.Fatalf("marker = %q, want %q", res.Stdout, rs.SandboxID)
	}
}

func TestRunWritesCgroupLimits(t *testing.T) {
	root := t.TempDir()
	eng := newTestEngine(t, Config{EnableCgroup: true, CgroupRoot: root, TasksPerProcess: 4})
	rs := runSpec(t, "true")

	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("unexpected result: %+v", res)
	}
	// a plain directory is not cgroupfs, so the run directory survives with the written values
	runs, err := filepath.Glob(filepath.Join(root, rs.SandboxID+"-run-*"))
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run cgroup, got %v (%v)", runs, err)
	}
	pids, err := os.ReadFile(filepath.Join(runs[0], "pids.max"))
	if err != nil || string(pids) != "40" {
		t.Fatalf("pids.max = %q, %v", pids, err)
	}
	mem, err := os.ReadFile(filepath.Join(runs[0], "memory.max"))
	if err != nil || string(mem) != "268435456" {
		t.Fatalf("memory.max = %q, %v", mem, err)
	}
}

func TestPrepareCgroupRootEnablesControllers(t *testing.T) {
	root := filepath.Join(t.TempDir(), "exec")
	if err := prepareCgroupRoot(root); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "cgroup.subtree_control"))
	if err != nil || string(data) != "+memory +pids" {
		t.Fatalf("subtree_control = %q, %v", data, err)
	}

	enabled := t.TempDir()
	if err := os.WriteFile(filepath.Join(enabled, "cgroup.subtree_control"), []byte("cpu memory pids\n"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := prepareCgroupRoot(enabled); err != nil {
		t.Fatalf("prepare enabled root: %v", err)
	}
	if data, _ := os.ReadFile(filepath.Join(enabled, "cgroup.subtree_control")); string(data) != "cpu memory pids\n" {
		t.Fatalf("enabled root rewritten: %q", data)
	}
}

func TestNewEngineRejectsUndelegatedCgroupRoot(t *testing.T) {
	root := t.TempDir()
	// unreadable and unwritable, like a root without delegation
	if err := os.Mkdir(filepath.Join(root, "cgroup.subtree_control"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_, err := NewEngine(Config{EnableCgroup: true, CgroupRoot: root})
	if !appErr.Is(err, appErr.LimiterFailed) {
		t.Fatalf("expected limiter failure, got %v", err)
	}
}

func TestNewEngineRequiresCgroupRoot(t *testing.T) {
	if _, err := NewEngine(Config{EnableCgroup: true}); err == nil {
		t.Fatalf("expected error without cgroup root")
	}
}
