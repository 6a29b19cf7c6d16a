// Package admission bounds the number of executions running at once.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"codeexec/internal/execution/sandbox/observer"
	appErr "codeexec/pkg/errors"

	"golang.org/x/sync/semaphore"
)

// Mode selects what happens to a request that arrives while the gate is full.
type Mode string

const (
	// ModeWait queues the request until a slot frees, the context ends, or MaxWait elapses.
	ModeWait Mode = "wait"
	// ModeReject fails the request immediately.
	ModeReject Mode = "reject"
)

// ErrBusy is the cause of every admission failure.
var ErrBusy = errors.New("admission: no execution slot available")

// Config configures a Gate.
type Config struct {
	Capacity int64
	Mode     Mode
	// MaxWait caps how long ModeWait queues a request; zero waits for the context only.
	MaxWait time.Duration
	Metrics observer.MetricsRecorder
}

// Gate is a counting semaphore over running executions.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	mode     Mode
	maxWait  time.Duration
	metrics  observer.MetricsRecorder
	inFlight atomic.Int64
}

// NewGate creates a gate.
func NewGate(cfg Config) (*Gate, error) {
	if cfg.Capacity <= 0 {
		return nil, appErr.ValidationError("execution.max_concurrent", "must be positive")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeWait
	case ModeWait, ModeReject:
	default:
		return nil, appErr.ValidationError("execution.admission.mode", fmt.Sprintf("unknown mode %q", cfg.Mode))
	}
	if cfg.MaxWait < 0 {
		return nil, appErr.ValidationError("execution.admission.max_wait", "must not be negative")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observer.NoopMetricsRecorder{}
	}
	return &Gate{
		sem:      semaphore.NewWeighted(cfg.Capacity),
		capacity: cfg.Capacity,
		mode:     cfg.Mode,
		maxWait:  cfg.MaxWait,
		metrics:  cfg.Metrics,
	}, nil
}

// Acquire takes one slot. The returned release is safe to call more than once.
// Failures wrap ErrBusy and carry the ExecutionBusy code.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := g.acquire(ctx); err != nil {
		g.metrics.AdmissionRejected(ctx)
		return nil, appErr.Wrap(fmt.Errorf("%w: %v", ErrBusy, err), appErr.ExecutionBusy).
			WithMessage(appErr.ExecutionBusy.Message()).
			WithDetail("capacity", g.capacity)
	}
	g.metrics.SetInFlight(int(g.inFlight.Add(1)))

	var once sync.Once
	return func() {
		once.Do(func() {
			g.metrics.SetInFlight(int(g.inFlight.Add(-1)))
			g.sem.Release(1)
		})
	}, nil
}

func (g *Gate) acquire(ctx context.Context) error {
	if g.mode == ModeReject {
		if g.sem.TryAcquire(1) {
			return nil
		}
		return errors.New("gate is full")
	}
	if g.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.maxWait)
		defer cancel()
	}
	return g.sem.Acquire(ctx, 1)
}

// InFlight returns the number of held slots.
func (g *Gate) InFlight() int64 {
	return g.inFlight.Load()
}

// Capacity returns the configured maximum.
func (g *Gate) Capacity() int64 {
	return g.capacity
}

// Mode returns the configured admission mode.
func (g *Gate) Mode() Mode {
	return g.mode
}

// Accepting reports whether a new request would be admitted or queued.
// A full gate in ModeReject is not accepting.
func (g *Gate) Accepting() bool {
	if g.mode == ModeWait {
		return true
	}
	return g.inFlight.Load() < g.capacity
}
