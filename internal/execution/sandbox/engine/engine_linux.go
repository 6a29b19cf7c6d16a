//go:build linux

package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/initproc"
	"codeexec/internal/execution/sandbox/monitor"
	"codeexec/internal/execution/sandbox/result"
	"codeexec/internal/execution/sandbox/sampler"
	"codeexec/internal/execution/sandbox/spec"
	appErr "codeexec/pkg/errors"
	"codeexec/pkg/utils/logger"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type runHandle struct {
	pgid   int
	cgroup string
	tree   *sampler.Tree
}

type linuxEngine struct {
	cfg     Config
	seccomp *initproc.SeccompProfile
	self    int
	proc    *procfs.FS

	registryM sync.Mutex
	registry  map[string][]runHandle

	helpersM sync.Mutex
	helpers  map[int]struct{}
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	cfg.applyDefaults()
	if cfg.HelperPath == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve helper path: %w", err)
		}
		cfg.HelperPath = self
		if len(cfg.HelperArgs) == 0 {
			cfg.HelperArgs = []string{initproc.Arg}
		}
	}
	if cfg.EnableCgroup {
		if cfg.CgroupRoot == "" {
			return nil, appErr.ValidationError("sandbox.cgroup.root", "required when cgroups are enabled")
		}
		if err := prepareCgroupRoot(cfg.CgroupRoot); err != nil {
			return nil, appErr.Wrapf(err, appErr.LimiterFailed, "prepare cgroup root")
		}
	}
	e := &linuxEngine{
		cfg:      cfg,
		self:     os.Getpid(),
		registry: make(map[string][]runHandle),
		helpers:  make(map[int]struct{}),
	}
	if err := enableSubreaper(); err != nil {
		logger.Warn(context.Background(), "child subreaper unavailable", zap.Error(err))
	}
	mount := cfg.ProcMount
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	if fs, err := procfs.NewFS(mount); err != nil {
		logger.Warn(context.Background(), "procfs unavailable, orphans will not be reaped", zap.Error(err))
	} else {
		e.proc = &fs
	}
	if cfg.EnableSeccomp && cfg.SeccompProfile != "" {
		profile, err := initproc.LoadSeccompProfile(cfg.SeccompProfile)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.LimiterFailed, "load seccomp profile")
		}
		e.seccomp = profile
	}
	return e, nil
}

func (e *linuxEngine) Run(ctx context.Context, rs spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(rs); err != nil {
		return result.RunResult{}, err
	}
	outputLimit := rs.OutputLimit
	if outputLimit <= 0 {
		outputLimit = e.cfg.OutputLimit
	}

	env := append(slices.Clip(rs.Env), sandboxMarker(rs.SandboxID))
	req := initproc.Request{
		Cmd:           rs.Cmd,
		Env:           env,
		Rlimits:       buildRlimits(rs, e.cfg.RunAsUID > 0 || e.cfg.NprocRlimit, e.cfg.TasksPerProcess),
		Seccomp:       e.seccomp,
		PrivateMounts: e.cfg.EnableNamespaces,
	}

	cgroupPath := ""
	if e.cfg.EnableCgroup {
		path, err := createRunCgroup(e.cfg.CgroupRoot, rs.SandboxID, string(rs.Stage))
		if err != nil {
			return result.RunResult{}, appErr.Wrapf(err, appErr.LimiterFailed, "create cgroup")
		}
		cgroupPath = path
		defer removeCgroup(cgroupPath)
		if err := applyCgroupLimits(cgroupPath, rs.Limits, e.cfg.TasksPerProcess); err != nil {
			return result.RunResult{}, appErr.Wrapf(err, appErr.LimiterFailed, "apply cgroup limits")
		}
	}

	reqR, reqW, err := os.Pipe()
	if err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.SpawnFailed, "create request pipe")
	}
	defer reqW.Close()
	statusR, statusW, err := os.Pipe()
	if err != nil {
		_ = reqR.Close()
		return result.RunResult{}, appErr.Wrapf(err, appErr.SpawnFailed, "create status pipe")
	}
	defer statusR.Close()

	stdout := newCappedBuffer(outputLimit)
	stderr := newCappedBuffer(outputLimit)
	cmd := exec.Command(e.cfg.HelperPath, e.cfg.HelperArgs...)
	cmd.Dir = rs.WorkDir
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(rs.Stdin)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{reqR, statusW}
	cmd.SysProcAttr = e.sysProcAttr()
	// grandchildren holding stdout open must not block Wait forever
	cmd.WaitDelay = e.cfg.KillGrace + time.Second

	start := time.Now()
	err = e.startHelper(cmd)
	_ = reqR.Close()
	_ = statusW.Close()
	if err != nil {
		logger.Warn(ctx, "start sandbox helper failed", zap.String("helper", e.cfg.HelperPath), zap.Error(err))
		return spawnFailed(err.Error(), start), nil
	}
	pid := cmd.Process.Pid
	defer e.forgetHelper(pid)

	abort := func() {
		killGroup(pid)
		_ = cmd.Wait()
	}
	if cgroupPath != "" {
		if err := addProcessToCgroup(cgroupPath, pid); err != nil {
			abort()
			return result.RunResult{}, appErr.Wrapf(err, appErr.LimiterFailed, "attach process to cgroup")
		}
	}
	if err := initproc.Encode(reqW, req); err != nil {
		abort()
		return spawnFailed(fmt.Sprintf("send init request: %v", err), start), nil
	}
	_ = reqW.Close()

	// EOF without data means the status pipe was closed by a successful exec.
	status, _ := io.ReadAll(statusR)
	if msg := strings.TrimSpace(string(status)); msg != "" {
		abort()
		logger.Warn(ctx, "sandbox helper failed", zap.String("sandbox_id", rs.SandboxID), zap.String("reason", msg))
		return spawnFailed(msg, start), nil
	}

	procSampler := e.processSampler(ctx, pid, rs.SandboxID)
	var tree *sampler.Tree
	if procSampler != nil {
		tree = procSampler.Tree()
	}
	e.register(rs.SandboxID, runHandle{pgid: pid, cgroup: cgroupPath, tree: tree})
	defer e.unregister(rs.SandboxID, pid)

	target := newGroupTarget(cmd)
	mon := monitor.New(monitor.Config{
		Interval:    e.cfg.SampleInterval,
		KillGrace:   e.cfg.KillGrace,
		WallTimeout: rs.WallTimeout,
		Limits: monitor.Limits{
			MemoryBytes:  rs.Limits.MemoryBytes,
			MaxProcesses: rs.Limits.MaxProcesses,
			DiskBytes:    rs.Limits.DiskBytes,
		},
	}, usageSampler(procSampler, cgroupPath), sampler.Dir(rs.WorkDir))
	outcome := mon.Watch(ctx, target)
	if outcome.State == monitor.StateLimitExceeded {
		logger.Info(ctx, "sandbox limit exceeded",
			zap.String("sandbox_id", rs.SandboxID),
			zap.String("stage", string(rs.Stage)),
			zap.String("limit", outcome.Limit))
	}

	<-target.Done()
	// survivors that left the leader behind, including ones that changed session
	killGroup(pid)
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
	e.reap(ctx, rs.SandboxID, tree)

	state := cmd.ProcessState
	res := result.RunResult{
		State:     outcome.State,
		Limit:     outcome.Limit,
		ExitCode:  exitCode(state),
		Signal:    signalName(state),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		OomKilled: wasOomKilled(cgroupPath),
		Stats: model.ProcessStats{
			PeakMemoryBytes: max(rusageMaxRSS(state), outcome.PeakRSSBytes, memoryPeak(cgroupPath)),
			CPUTime:         max(rusageCPU(state), outcome.CPUTime),
			WallTime:        time.Since(start),
		},
	}
	res.Stats.ExitCode = res.ExitCode
	res.Stats.Signal = res.Signal
	return res, nil
}

func (e *linuxEngine) Kill(ctx context.Context, sandboxID string) error {
	if sandboxID == "" {
		return appErr.ValidationError("sandbox_id", "required")
	}
	for _, h := range e.snapshot(sandboxID) {
		killGroup(h.pgid)
		e.killTree(ctx, h.tree)
		if h.cgroup != "" {
			if err := killCgroup(h.cgroup); err != nil {
				logger.Warn(ctx, "kill cgroup failed", zap.String("cgroup", h.cgroup), zap.Error(err))
			}
		}
	}
	return nil
}

func (e *linuxEngine) processSampler(ctx context.Context, pid int, sandboxID string) *sampler.ProcFS {
	p, err := sampler.NewProcFS(e.cfg.ProcMount, pid,
		sampler.WithReaper(e.self),
		sampler.WithMarker(sandboxMarker(sandboxID)))
	if err != nil {
		logger.Warn(ctx, "procfs sampler unavailable", zap.Error(err))
		return nil
	}
	return p
}

func usageSampler(procSampler *sampler.ProcFS, cgroupPath string) sampler.Sampler {
	var secondary sampler.Sampler
	if procSampler != nil {
		secondary = procSampler
	}
	if cgroupPath == "" {
		return secondary
	}
	return sampler.Fallback{Primary: sampler.NewCgroup(cgroupPath), Secondary: secondary}
}

func (e *linuxEngine) sysProcAttr() *syscall.SysProcAttr {
	// a new session makes the helper pid both the process group and the session id
	attr := &syscall.SysProcAttr{
		Setsid:    true,
		Pdeathsig: syscall.SIGKILL,
	}
	if e.cfg.RunAsUID > 0 {
		attr.Credential = &syscall.Credential{Uid: uint32(e.cfg.RunAsUID), Gid: uint32(e.cfg.RunAsGID)}
	}
	if !e.cfg.EnableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if e.cfg.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	if attr.Credential == nil {
		cloneFlags |= syscall.CLONE_NEWUSER
		attr.GidMappingsEnableSetgroups = false
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
	}
	attr.Cloneflags = cloneFlags
	return attr
}

func (e *linuxEngine) register(sandboxID string, h runHandle) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	e.registry[sandboxID] = append(e.registry[sandboxID], h)
}

func (e *linuxEngine) unregister(sandboxID string, pgid int) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	handles := e.registry[sandboxID]
	updated := handles[:0]
	for _, h := range handles {
		if h.pgid != pgid {
			updated = append(updated, h)
		}
	}
	if len(updated) == 0 {
		delete(e.registry, sandboxID)
		return
	}
	e.registry[sandboxID] = updated
}

func (e *linuxEngine) snapshot(sandboxID string) []runHandle {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	return append([]runHandle(nil), e.registry[sandboxID]...)
}

// groupTarget adapts a started command to monitor.Target and reaps it in the background.
type groupTarget struct {
	pgid int
	done chan struct{}
}

func newGroupTarget(cmd *exec.Cmd) *groupTarget {
	t := &groupTarget{pgid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(t.done)
	}()
	return t
}

func (t *groupTarget) Done() <-chan struct{} { return t.done }

func (t *groupTarget) Signal(sig syscall.Signal) error {
	err := unix.Kill(-t.pgid, sig)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

func killGroup(pgid int) {
	if pgid <= 0 {
		return
	}
	_ = unix.Kill(-pgid, unix.SIGKILL)
}

func spawnFailed(msg string, start time.Time) result.RunResult {
	return result.RunResult{
		State:      monitor.StateSpawnFailed,
		ExitCode:   initproc.ExitSetupFailed,
		SpawnError: msg,
		Stderr:     msg,
		Stats: model.ProcessStats{
			WallTime: time.Since(start),
			ExitCode: initproc.ExitSetupFailed,
		},
	}
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}

func signalName(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(ws.Signal())
}

func rusageMaxRSS(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		// ru_maxrss is in kilobytes on linux
		return usage.Maxrss * 1024
	}
	return 0
}

func rusageCPU(state *os.ProcessState) time.Duration {
	if state == nil {
		return 0
	}
	return state.UserTime() + state.SystemTime()
}
