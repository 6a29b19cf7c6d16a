package controller

import (
	"math"
	"time"

	"codeexec/internal/execution/model"
)

const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// ExecuteRequest is the body of POST /execute. Timeout is in seconds.
type ExecuteRequest struct {
	Language     string                `json:"language" binding:"required"`
	Code         string                `json:"code"`
	Input        *string               `json:"input"`
	Dependencies []model.Dependency    `json:"dependencies"`
	Timeout      *int64                `json:"timeout"`
	EnvVars      map[string]string     `json:"env_vars"`
	Limits       *model.LimitOverrides `json:"limits"`
}

func (r ExecuteRequest) toModel() model.ExecutionRequest {
	req := model.ExecutionRequest{
		Language:     r.Language,
		Code:         r.Code,
		Dependencies: r.Dependencies,
		EnvVars:      r.EnvVars,
	}
	if r.Input != nil {
		req.Input = *r.Input
	}
	if r.Timeout != nil {
		// the service clamps to its maximum; this only keeps the multiplication in range
		secs := min(*r.Timeout, maxTimeoutSeconds)
		req.Timeout = time.Duration(secs) * time.Second
	}
	return req
}

func (r ExecuteRequest) limits() model.LimitOverrides {
	if r.Limits == nil {
		return model.LimitOverrides{}
	}
	return *r.Limits
}

// ExecuteResponse keeps the four coarse statuses in Status and the precise one in DetailStatus.
type ExecuteResponse struct {
	ExecutionID   string       `json:"execution_id"`
	Stdout        string       `json:"stdout"`
	Stderr        string       `json:"stderr"`
	Status        string       `json:"status"`
	DetailStatus  model.Status `json:"detail_status"`
	ExecutionTime int64        `json:"execution_time"`
	MemoryUsage   int64        `json:"memory_usage"`
	ExitCode      int          `json:"exit_code"`
	Signal        string       `json:"signal,omitempty"`
	Limit         string       `json:"limit,omitempty"`
	Message       string       `json:"message,omitempty"`
	SetupOutput   string       `json:"setup_output,omitempty"`
	Truncated     bool         `json:"truncated,omitempty"`
}

func newExecuteResponse(res model.ExecutionResult) ExecuteResponse {
	return ExecuteResponse{
		ExecutionID:   res.ExecutionID,
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		Status:        res.Status.Coarse(),
		DetailStatus:  res.Status,
		ExecutionTime: res.Stats.WallTime.Milliseconds(),
		MemoryUsage:   res.Stats.PeakMemoryBytes,
		ExitCode:      res.Stats.ExitCode,
		Signal:        res.Stats.Signal,
		Limit:         res.Limit,
		Message:       res.Message,
		SetupOutput:   res.SetupOutput,
		Truncated:     res.Truncated,
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	InFlight int64  `json:"in_flight"`
	Capacity int64  `json:"capacity"`
}

// LanguageInfo is one entry of GET /languages.
type LanguageInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty"`
	SourceFile string   `json:"source_file"`
	Compiled   bool     `json:"compiled"`
	Installer  string   `json:"installer,omitempty"`
}
