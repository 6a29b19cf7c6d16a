//go:build !linux

package engine

import (
	"context"
	"errors"

	"codeexec/internal/execution/sandbox/result"
	"codeexec/internal/execution/sandbox/spec"
)

var errUnsupported = errors.New("sandbox engine is only supported on linux")

type stubEngine struct{}

// NewEngine returns an engine whose every run fails.
func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}
	return result.RunResult{}, errUnsupported
}

func (s *stubEngine) Kill(ctx context.Context, sandboxID string) error {
	return nil
}
