// Package service runs one execution request end to end: admission, sandbox, prepare,
// run under limits, classification and teardown.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeexec/internal/execution/admission"
	"codeexec/internal/execution/language"
	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox"
	"codeexec/internal/execution/sandbox/engine"
	"codeexec/internal/execution/sandbox/observer"
	"codeexec/internal/execution/sandbox/result"
	"codeexec/internal/execution/sandbox/spec"
	appErr "codeexec/pkg/errors"
	"codeexec/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	maxTimeout     = 5 * time.Minute
)

// Service is the execution pipeline.
type Service struct {
	registry  *language.Registry
	engine    engine.Engine
	sandboxes *sandbox.Manager
	gate      *admission.Gate
	metrics   observer.MetricsRecorder

	defaults       model.ResourceLimits
	maxima         model.ResourceLimits
	setupLimits    model.ResourceLimits
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	outputLimit    int64
	maxCodeBytes   int64
}

// Config holds service dependencies and settings.
type Config struct {
	Registry  *language.Registry
	Engine    engine.Engine
	Sandboxes *sandbox.Manager
	Gate      *admission.Gate
	Metrics   observer.MetricsRecorder

	// DefaultLimits apply to the run stage unless a request overrides them.
	DefaultLimits model.ResourceLimits
	// MaxLimits bound per-request overrides; zero fields are unbounded.
	MaxLimits model.ResourceLimits
	// SetupLimits apply to dependency install and compile steps.
	SetupLimits    model.ResourceLimits
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	OutputLimit    int64
	MaxCodeBytes   int64
}

// NewService creates the execution pipeline.
func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("sandbox engine is required")
	}
	if cfg.Sandboxes == nil {
		return nil, fmt.Errorf("sandbox manager is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("admission gate is required")
	}
	if err := cfg.DefaultLimits.Validate(cfg.MaxLimits); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidLimits, "default limits: %s", err.Error())
	}
	if err := cfg.SetupLimits.Validate(model.ResourceLimits{}); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidLimits, "setup limits: %s", err.Error())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = maxTimeout
	}
	if cfg.DefaultTimeout > cfg.MaxTimeout {
		cfg.DefaultTimeout = cfg.MaxTimeout
	}
	return &Service{
		registry:       cfg.Registry,
		engine:         cfg.Engine,
		sandboxes:      cfg.Sandboxes,
		gate:           cfg.Gate,
		metrics:        cfg.Metrics,
		defaults:       cfg.DefaultLimits,
		maxima:         cfg.MaxLimits,
		setupLimits:    cfg.SetupLimits,
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
		outputLimit:    cfg.OutputLimit,
		maxCodeBytes:   cfg.MaxCodeBytes,
	}, nil
}

// Health is a snapshot of admission capacity.
type Health struct {
	Accepting bool  `json:"accepting"`
	InFlight  int64 `json:"in_flight"`
	Capacity  int64 `json:"capacity"`
}

// Health reports whether new executions can be accepted.
func (s *Service) Health() Health {
	return Health{
		Accepting: s.gate.Accepting(),
		InFlight:  s.gate.InFlight(),
		Capacity:  s.gate.Capacity(),
	}
}

// Languages lists the registered language specs.
func (s *Service) Languages() []language.LanguageSpec {
	return s.registry.Specs()
}

// DefaultLimits returns the server default limits.
func (s *Service) DefaultLimits() model.ResourceLimits {
	return s.defaults
}

// Execute runs one request. overrides replace the server defaults field by field; absent
// fields keep the default and present ones are validated against the maxima. The only returned error is an admission failure, which wraps
// admission.ErrBusy; every other failure is reported through the result's status.
func (s *Service) Execute(ctx context.Context, req model.ExecutionRequest, overrides model.LimitOverrides) (res model.ExecutionResult, err error) {
	executionID := uuid.NewString()
	ctx = logger.WithExecution(ctx, executionID, req.Language)
	timeout := s.clampTimeout(req.Timeout)

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	release, err := s.gate.Acquire(acquireCtx)
	cancel()
	if err != nil {
		logger.Warn(ctx, "execution rejected", zap.Int64("capacity", s.gate.Capacity()), zap.Error(err))
		return model.ExecutionResult{
			ExecutionID: executionID,
			Status:      model.StatusBusy,
			Message:     err.Error(),
		}, err
	}
	defer release()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "execution panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = model.ExecutionResult{
				Status:  model.StatusSetupError,
				Message: fmt.Sprintf("internal error: %v", r),
			}
			err = nil
		}
		res.ExecutionID = executionID
		s.metrics.ObserveExecution(ctx, s.languageLabel(req.Language), string(res.Status), time.Since(start), res.Stats.PeakMemoryBytes)
		logger.Info(ctx, "execution finished",
			zap.String("status", string(res.Status)),
			zap.String("limit", res.Limit),
			zap.Duration("duration", time.Since(start)),
			zap.Int64("peak_memory_bytes", res.Stats.PeakMemoryBytes),
			zap.Int("exit_code", res.Stats.ExitCode),
		)
	}()

	logger.Info(ctx, "execution started",
		zap.Int("code_bytes", len(req.Code)),
		zap.Int("dependencies", len(req.Dependencies)),
		zap.Duration("timeout", timeout),
	)
	return s.execute(ctx, req, s.defaults.Apply(overrides), timeout, start), nil
}

func (s *Service) execute(ctx context.Context, req model.ExecutionRequest, limits model.ResourceLimits, timeout time.Duration, start time.Time) model.ExecutionResult {
	if err := limits.Validate(s.maxima); err != nil {
		return failure(model.StatusSetupError, err)
	}
	ex, ok := s.registry.Lookup(req.Language)
	if !ok {
		return failure(model.StatusUnsupportedLanguage,
			appErr.Newf(appErr.UnsupportedLanguage, "language %q is not supported", req.Language))
	}
	if err := s.validateRequest(req); err != nil {
		return failure(model.StatusSetupError, err)
	}

	deadline := start.Add(timeout)
	var out model.ExecutionResult
	err := s.sandboxes.With(ctx, limits, func(sb *sandbox.Sandbox) error {
		defer func() { out.Stats.WallTime = time.Since(start) }()
		out = s.runInSandbox(ctx, sb, ex, req, deadline)
		return nil
	})
	if err != nil {
		return failure(model.StatusSetupError, err)
	}
	return out
}

func (s *Service) runInSandbox(ctx context.Context, sb *sandbox.Sandbox, ex language.Executor, req model.ExecutionRequest, deadline time.Time) model.ExecutionResult {
	lang := ex.Spec()
	runner := &stepRunner{
		engine:   s.engine,
		sandbox:  sb,
		metrics:  s.metrics,
		language: lang.ID,
		limits:   s.setupLimits,
		deadline: deadline,
		output:   s.outputLimit,
	}

	prep, err := ex.Prepare(ctx, language.PrepareRequest{
		Code:         req.Code,
		Dependencies: req.Dependencies,
		Dir:          sb.Dir,
		Runner:       runner,
	})
	if err != nil {
		out := s.prepareFailure(ctx, err, lang)
		if out.SetupOutput == "" {
			out.SetupOutput = prep.SetupOutput
		}
		return out
	}

	run := &stepRunner{
		engine:        s.engine,
		sandbox:       sb,
		metrics:       s.metrics,
		language:      lang.ID,
		limits:        sb.Limits,
		addressFactor: lang.AddressSpaceFactor,
		stdin:         []byte(req.Input),
		deadline:      deadline,
		output:        s.outputLimit,
	}
	env := language.MergeEnv(prep.Env, language.EnvFromMap(req.EnvVars))
	res, err := run.RunStep(ctx, language.Step{Stage: spec.StageRun, Cmd: prep.RunCmd, Env: env})
	if err != nil {
		logger.Error(ctx, "run stage could not start", zap.Int("code", int(appErr.GetCode(err))), zap.Error(err))
		out := failure(model.StatusSetupError, err)
		out.SetupOutput = prep.SetupOutput
		return out
	}

	status, limit := result.Classify(res, sb.Limits.CPUTimeSeconds, lang.OOMMarkers)
	if status == model.StatusResourceExceeded || status == model.StatusTimeout {
		logger.Info(ctx, "execution stopped by limit", zap.String("status", string(status)), zap.String("limit", limit))
	}
	out := model.ExecutionResult{
		Status:      status,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		SetupOutput: prep.SetupOutput,
		Limit:       limit,
		Truncated:   res.Truncated,
		Stats:       res.Stats,
	}
	if res.SpawnError != "" {
		out.Message = res.SpawnError
	}
	return out
}

// prepareFailure maps a failed install or compile onto a result. Compiler diagnostics are
// surfaced as stderr with a runtime_error status; a failed install is a setup_error unless a
// limit stopped it.
func (s *Service) prepareFailure(ctx context.Context, err error, lang language.LanguageSpec) model.ExecutionResult {
	var stepErr *language.StepError
	if !errors.As(err, &stepErr) {
		logger.Warn(ctx, "prepare failed", zap.Int("code", int(appErr.GetCode(err))), zap.Error(err))
		return failure(model.StatusSetupError, err)
	}

	status, limit := result.Classify(stepErr.Result, s.setupLimits.CPUTimeSeconds, lang.OOMMarkers)
	out := model.ExecutionResult{
		Status:      status,
		Limit:       limit,
		SetupOutput: stepErr.Output,
		Message:     stepErr.Error(),
		Truncated:   stepErr.Result.Truncated,
		Stats:       stepErr.Result.Stats,
	}
	switch {
	case status == model.StatusTimeout || status == model.StatusResourceExceeded:
	case stepErr.Stage == spec.StageCompile && status == model.StatusRuntimeError:
		out.Stderr = stepErr.Result.Output()
	default:
		out.Status = model.StatusSetupError
		out.Limit = ""
	}
	logger.Info(ctx, "prepare step failed",
		zap.String("stage", string(stepErr.Stage)),
		zap.String("status", string(out.Status)),
		zap.Int("exit_code", stepErr.Result.ExitCode),
	)
	return out
}

func (s *Service) validateRequest(req model.ExecutionRequest) error {
	if s.maxCodeBytes > 0 && int64(len(req.Code)) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", s.maxCodeBytes)
	}
	for key := range req.EnvVars {
		if key == "" || strings.ContainsAny(key, "=\x00") {
			return appErr.ValidationError("env_vars", fmt.Sprintf("invalid key %q", key))
		}
		if language.ReservedEnv[key] {
			return appErr.Newf(appErr.ReservedEnvVar, "environment variable %s is reserved", key)
		}
	}
	for _, d := range req.Dependencies {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// languageLabel keeps metric label cardinality bounded to registered ids.
func (s *Service) languageLabel(id string) string {
	if ex, ok := s.registry.Lookup(id); ok {
		return ex.ID()
	}
	return "unsupported"
}

func (s *Service) clampTimeout(t time.Duration) time.Duration {
	if t <= 0 {
		return s.defaultTimeout
	}
	if t > s.maxTimeout {
		return s.maxTimeout
	}
	return t
}

func failure(status model.Status, err error) model.ExecutionResult {
	return model.ExecutionResult{Status: status, Message: err.Error()}
}
