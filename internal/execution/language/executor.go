package language

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/result"
	"codeexec/internal/execution/sandbox/spec"
	appErr "codeexec/pkg/errors"
)

// Step is one install or compile command run inside the sandbox.
type Step struct {
	Stage spec.Stage
	Cmd   []string
	Env   []string
}

// StepRunner launches a step under the sandbox's limits.
type StepRunner interface {
	RunStep(ctx context.Context, step Step) (result.RunResult, error)
}

// PrepareRequest is the input of Executor.Prepare.
type PrepareRequest struct {
	Code         string
	Dependencies []model.Dependency
	// Dir is the absolute sandbox directory.
	Dir    string
	Runner StepRunner
}

// PrepareResult is the command and environment of the run stage.
type PrepareResult struct {
	RunCmd      []string
	Env         []string
	SetupOutput string
}

// StepError reports a failed install or compile step. Output holds everything the
// prepare phase produced up to and including the failing step.
type StepError struct {
	Stage  spec.Stage
	Result result.RunResult
	Output string
}

func (e *StepError) Error() string {
	switch {
	case e.Result.SpawnError != "":
		return fmt.Sprintf("%s step could not start: %s", e.Stage, e.Result.SpawnError)
	case e.Result.Signal != "":
		return fmt.Sprintf("%s step killed by %s", e.Stage, e.Result.Signal)
	default:
		return fmt.Sprintf("%s step exited with code %d", e.Stage, e.Result.ExitCode)
	}
}

// Code maps the failing stage onto an error code.
func (e *StepError) Code() appErr.ErrorCode {
	if e.Stage == spec.StageCompile {
		return appErr.CompilationFailed
	}
	return appErr.DependencyInstallFailed
}

// Executor prepares one language inside a sandbox.
type Executor interface {
	ID() string
	Spec() LanguageSpec
	// Prepare writes the source and manifests, installs dependencies, compiles, and returns
	// the run command. Failed steps are returned as *StepError.
	Prepare(ctx context.Context, req PrepareRequest) (PrepareResult, error)
}

type specExecutor struct {
	spec      LanguageSpec
	installer Installer
	analyzer  Analyzer
}

// NewExecutor builds an executor from a spec.
func NewExecutor(s LanguageSpec) (Executor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	inst, err := installerFor(s.Installer)
	if err != nil {
		return nil, err
	}
	return &specExecutor{spec: s, installer: inst, analyzer: analyzerFor(s.Installer)}, nil
}

func (e *specExecutor) ID() string         { return e.spec.ID }
func (e *specExecutor) Spec() LanguageSpec { return e.spec }

func (e *specExecutor) Prepare(ctx context.Context, req PrepareRequest) (PrepareResult, error) {
	if req.Runner == nil {
		return PrepareResult{}, appErr.ValidationError("runner", "required")
	}
	if req.Dir == "" || !filepath.IsAbs(req.Dir) {
		return PrepareResult{}, appErr.ValidationError("dir", "absolute path required")
	}
	for _, d := range req.Dependencies {
		if err := d.Validate(); err != nil {
			return PrepareResult{}, err
		}
	}

	deps := req.Dependencies
	if e.analyzer != nil {
		deps = mergeDependencies(deps, e.analyzer.Analyze(req.Code))
	}
	plan, err := e.installer.Plan(req.Dir, deps)
	if err != nil {
		return PrepareResult{}, err
	}

	if err := os.MkdirAll(filepath.Join(req.Dir, tmpDirName), 0o700); err != nil {
		return PrepareResult{}, appErr.Wrapf(err, appErr.SandboxSetupFailed, "create tmp dir")
	}
	files := map[string][]byte{e.spec.SourceFile: []byte(req.Code)}
	for name, content := range e.spec.Files {
		files[name] = []byte(content)
	}
	for name, content := range plan.Files {
		files[name] = content
	}
	if err := writeFiles(req.Dir, files); err != nil {
		return PrepareResult{}, err
	}

	env := MergeEnv(BaseEnv(req.Dir), specEnv(e.spec, req.Dir), plan.Env)
	var output strings.Builder

	for _, cmd := range plan.Steps {
		if err := e.runStep(ctx, req.Runner, Step{Stage: spec.StageInstall, Cmd: cmd, Env: env}, &output); err != nil {
			return PrepareResult{SetupOutput: output.String()}, err
		}
	}

	if e.spec.CompileEnabled() {
		cmd, err := buildCommand(e.spec.CompileCmd, e.spec, req.Dir)
		if err != nil {
			return PrepareResult{}, err
		}
		if err := e.runStep(ctx, req.Runner, Step{Stage: spec.StageCompile, Cmd: cmd, Env: env}, &output); err != nil {
			return PrepareResult{SetupOutput: output.String()}, err
		}
	}

	runCmd, err := buildCommand(e.spec.RunCmd, e.spec, req.Dir)
	if err != nil {
		return PrepareResult{}, err
	}
	return PrepareResult{RunCmd: runCmd, Env: env, SetupOutput: output.String()}, nil
}

func (e *specExecutor) runStep(ctx context.Context, runner StepRunner, step Step, output *strings.Builder) error {
	res, err := runner.RunStep(ctx, step)
	if err != nil {
		return err
	}
	if out := res.Output(); out != "" {
		if output.Len() > 0 {
			output.WriteByte('\n')
		}
		output.WriteString(out)
	}
	if !res.Succeeded() {
		return &StepError{Stage: step.Stage, Result: res, Output: output.String()}
	}
	return nil
}

func writeFiles(dir string, files map[string][]byte) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return appErr.Wrapf(err, appErr.SandboxSetupFailed, "create directory for %s", name)
		}
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			return appErr.Wrapf(err, appErr.SandboxSetupFailed, "write %s", name)
		}
	}
	return nil
}
