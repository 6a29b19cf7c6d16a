// Package monitor polls a running process tree and enforces wall-clock and sampled limits.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/sampler"
)

const (
	DefaultInterval      = 100 * time.Millisecond
	DefaultKillGrace     = 200 * time.Millisecond
	defaultDiskEveryTick = 5
)

// State is the lifecycle state of one monitored process.
type State int32

const (
	StateRunning State = iota
	StateCompleted
	StateTimedOut
	StateLimitExceeded
	StateSpawnFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateLimitExceeded:
		return "limit_exceeded"
	case StateSpawnFailed:
		return "spawn_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s != StateRunning
}

// Target is a live process group.
type Target interface {
	// Done is closed once the leader has been reaped.
	Done() <-chan struct{}
	// Signal delivers sig to every process in the group.
	Signal(sig syscall.Signal) error
}

// Limits are the ceilings checked on every sample. Zero disables a check.
type Limits struct {
	MemoryBytes  int64
	MaxProcesses int64
	DiskBytes    int64
}

// Config controls polling.
type Config struct {
	Interval    time.Duration
	KillGrace   time.Duration
	WallTimeout time.Duration
	// DiskEvery samples disk usage every N ticks; directory walks cost more than a /proc scan.
	DiskEvery int
	Limits    Limits
}

// Outcome is the final observation of one monitored run.
type Outcome struct {
	State         State
	Limit         string
	PeakRSSBytes  int64
	PeakProcesses int
	DiskBytes     int64
	CPUTime       time.Duration
	Elapsed       time.Duration
}

// Monitor watches exactly one process group. It is not reusable.
type Monitor struct {
	cfg     Config
	sampler sampler.Sampler
	disk    sampler.DiskMeter

	state atomic.Int32

	mu           sync.Mutex
	limit        string
	peakRSS      int64
	peakProcs    int
	diskBase     int64
	diskUsed     int64
	cpuTime      time.Duration
	ticks        int
	onTransition func(from, to State)
}

// New creates a monitor. Either sampler may be nil.
func New(cfg Config, s sampler.Sampler, disk sampler.DiskMeter) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.DiskEvery <= 0 {
		cfg.DiskEvery = defaultDiskEveryTick
	}
	return &Monitor{cfg: cfg, sampler: s, disk: disk}
}

// OnTransition registers a hook called once when the monitor leaves StateRunning.
func (m *Monitor) OnTransition(fn func(from, to State)) {
	m.onTransition = fn
}

// State returns the current state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// SpawnFailed records that the process never started. No sampling takes place.
func (m *Monitor) SpawnFailed() Outcome {
	m.transition(StateSpawnFailed, "")
	return Outcome{State: m.State()}
}

// Watch polls t until it exits, the wall clock runs out, ctx is cancelled, or a sampled
// limit is exceeded. On timeout or violation the group receives SIGTERM, then SIGKILL
// after the grace period. Watch returns once a terminal state is reached; the caller
// still owns reaping the process.
func (m *Monitor) Watch(ctx context.Context, t Target) Outcome {
	start := time.Now()
	if m.disk != nil {
		if base, err := m.disk.Usage(); err == nil {
			m.diskBase = base
		}
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	var wall <-chan time.Time
	if m.cfg.WallTimeout > 0 {
		timer := time.NewTimer(m.cfg.WallTimeout)
		defer timer.Stop()
		wall = timer.C
	}

	if limit := m.observe(true); limit != "" {
		m.stop(t, StateLimitExceeded, limit)
		return m.outcome(start)
	}

	for {
		select {
		case <-t.Done():
			m.transition(StateCompleted, "")
			return m.outcome(start)
		case <-wall:
			m.stop(t, StateTimedOut, model.LimitWallTime)
			return m.outcome(start)
		case <-ctx.Done():
			m.stop(t, StateTimedOut, model.LimitWallTime)
			return m.outcome(start)
		case <-ticker.C:
			m.ticks++
			if limit := m.observe(m.ticks%m.cfg.DiskEvery == 0); limit != "" {
				m.stop(t, StateLimitExceeded, limit)
				return m.outcome(start)
			}
		}
	}
}

func (m *Monitor) stop(t Target, to State, limit string) {
	if !m.transition(to, limit) {
		return
	}
	terminate(t, m.cfg.KillGrace)
}

// transition moves out of StateRunning exactly once.
func (m *Monitor) transition(to State, limit string) bool {
	if !m.state.CompareAndSwap(int32(StateRunning), int32(to)) {
		return false
	}
	m.mu.Lock()
	m.limit = limit
	m.mu.Unlock()
	if m.onTransition != nil {
		m.onTransition(StateRunning, to)
	}
	return true
}

// observe takes one sample, records peaks and returns the name of a violated limit.
func (m *Monitor) observe(withDisk bool) string {
	if m.State().Terminal() {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sampler != nil {
		if s, err := m.sampler.Sample(); err == nil {
			if s.RSSBytes > m.peakRSS {
				m.peakRSS = s.RSSBytes
			}
			if s.Processes > m.peakProcs {
				m.peakProcs = s.Processes
			}
			if s.CPUTime > m.cpuTime {
				m.cpuTime = s.CPUTime
			}
			if m.cfg.Limits.MemoryBytes > 0 && s.RSSBytes > m.cfg.Limits.MemoryBytes {
				return model.LimitMemory
			}
			if m.cfg.Limits.MaxProcesses > 0 && int64(s.Processes) > m.cfg.Limits.MaxProcesses {
				return model.LimitProcesses
			}
		}
	}

	if withDisk && m.disk != nil {
		if used, err := m.disk.Usage(); err == nil {
			m.diskUsed = used - m.diskBase
			if m.cfg.Limits.DiskBytes > 0 && m.diskUsed > m.cfg.Limits.DiskBytes {
				return model.LimitDisk
			}
		}
	}
	return ""
}

func (m *Monitor) outcome(start time.Time) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Outcome{
		State:         m.State(),
		Limit:         m.limit,
		PeakRSSBytes:  m.peakRSS,
		PeakProcesses: m.peakProcs,
		DiskBytes:     m.diskUsed,
		CPUTime:       m.cpuTime,
		Elapsed:       time.Since(start),
	}
}

// terminate sends SIGTERM, waits up to grace for the leader to exit, then SIGKILLs the group.
func terminate(t Target, grace time.Duration) {
	_ = t.Signal(syscall.SIGTERM)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-t.Done():
	case <-timer.C:
	}
	// Children may outlive the leader's SIGTERM handling.
	_ = t.Signal(syscall.SIGKILL)
}
