package service

import (
	"context"
	"time"

	"codeexec/internal/execution/language"
	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox"
	"codeexec/internal/execution/sandbox/engine"
	"codeexec/internal/execution/sandbox/monitor"
	"codeexec/internal/execution/sandbox/observer"
	"codeexec/internal/execution/sandbox/result"
	"codeexec/internal/execution/sandbox/spec"
	"codeexec/pkg/utils/logger"

	"go.uber.org/zap"
)

// stepRunner launches steps of one execution through the engine. Every step shares the
// execution deadline, so install and compile time count toward the request timeout.
type stepRunner struct {
	engine        engine.Engine
	sandbox       *sandbox.Sandbox
	metrics       observer.MetricsRecorder
	language      string
	limits        model.ResourceLimits
	addressFactor float64
	stdin         []byte
	deadline      time.Time
	output        int64
}

func (r *stepRunner) RunStep(ctx context.Context, step language.Step) (result.RunResult, error) {
	remaining := time.Until(r.deadline)
	if remaining <= 0 {
		logger.Info(ctx, "execution deadline passed before step", zap.String("stage", string(step.Stage)))
		return result.RunResult{State: monitor.StateTimedOut, Limit: model.LimitWallTime}, nil
	}
	if err := r.sandbox.Handover(); err != nil {
		return result.RunResult{}, err
	}

	start := time.Now()
	res, err := r.engine.Run(ctx, spec.RunSpec{
		SandboxID:          r.sandbox.ID,
		Stage:              step.Stage,
		WorkDir:            r.sandbox.Dir,
		Cmd:                step.Cmd,
		Env:                step.Env,
		Stdin:              r.stdin,
		Limits:             r.limits,
		AddressSpaceFactor: r.addressFactor,
		WallTimeout:        remaining,
		OutputLimit:        r.output,
	})
	r.metrics.ObserveStep(ctx, r.language, string(step.Stage), err == nil && res.Succeeded(), time.Since(start))
	if err != nil {
		return result.RunResult{}, err
	}
	if res.State == monitor.StateSpawnFailed {
		logger.Warn(ctx, "process could not start",
			zap.String("stage", string(step.Stage)),
			zap.Strings("cmd", step.Cmd),
			zap.String("error", res.SpawnError),
		)
	}
	return res, nil
}
