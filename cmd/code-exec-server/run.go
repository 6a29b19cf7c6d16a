package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/observer"
	appErr "codeexec/pkg/errors"

	"github.com/spf13/cobra"
)

type runOptions struct {
	language  string
	file      string
	stdinFile string
	timeout   time.Duration
	deps      []string
	env       []string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:         "run",
	Short:       "Execute one source file through the sandbox pipeline and print the result as JSON",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationLogStderr: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := runOpts.request()
		if err != nil {
			return err
		}
		svc, err := buildService(appCfg, observer.NoopMetricsRecorder{})
		if err != nil {
			return err
		}
		res, err := svc.Execute(cmd.Context(), req, model.LimitOverrides{})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func (o runOptions) request() (model.ExecutionRequest, error) {
	if strings.TrimSpace(o.language) == "" {
		return model.ExecutionRequest{}, appErr.ValidationError("language", "required")
	}
	if o.file == "" {
		return model.ExecutionRequest{}, appErr.ValidationError("file", "required")
	}
	code, err := os.ReadFile(o.file)
	if err != nil {
		return model.ExecutionRequest{}, fmt.Errorf("read source file: %w", err)
	}
	req := model.ExecutionRequest{
		Language: o.language,
		Code:     string(code),
		Timeout:  o.timeout,
	}
	if o.stdinFile != "" {
		input, err := os.ReadFile(o.stdinFile)
		if err != nil {
			return model.ExecutionRequest{}, fmt.Errorf("read stdin file: %w", err)
		}
		req.Input = string(input)
	}
	for _, raw := range o.deps {
		dep, err := model.ParseDependency(raw)
		if err != nil {
			return model.ExecutionRequest{}, err
		}
		req.Dependencies = append(req.Dependencies, dep)
	}
	if len(o.env) > 0 {
		req.EnvVars = make(map[string]string, len(o.env))
		for _, kv := range o.env {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return model.ExecutionRequest{}, appErr.ValidationError("env", "entries must be KEY=VALUE")
			}
			req.EnvVars[key] = value
		}
	}
	return req, nil
}

func init() {
	flags := runCmd.Flags()
	flags.StringVarP(&runOpts.language, "language", "l", "", "language id or alias")
	flags.StringVarP(&runOpts.file, "file", "f", "", "source file to run")
	flags.StringVar(&runOpts.stdinFile, "stdin", "", "file fed to the program's standard input")
	flags.DurationVar(&runOpts.timeout, "timeout", 0, "wall-clock timeout (default from config)")
	flags.StringArrayVar(&runOpts.deps, "dep", nil, "dependency such as requests==2.31.0 (repeatable)")
	flags.StringArrayVar(&runOpts.env, "env", nil, "KEY=VALUE passed to the program (repeatable)")
}
