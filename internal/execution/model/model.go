// Package model defines the execution request, limits, statistics and result types.
package model

import (
	"encoding/json"
	"time"
)

// Status is the terminal outcome of one execution.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusRuntimeError        Status = "runtime_error"
	StatusTimeout             Status = "timeout"
	StatusResourceExceeded    Status = "resource_exceeded"
	StatusSetupError          Status = "setup_error"
	StatusUnsupportedLanguage Status = "unsupported_language"
	StatusBusy                Status = "busy"
)

// Coarse maps a detailed status onto the four values exposed by the HTTP API.
func (s Status) Coarse() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusResourceExceeded:
		return "resource_exceeded"
	default:
		return "error"
	}
}

// Limit names reported when a ceiling is hit.
const (
	LimitMemory    = "memory"
	LimitProcesses = "processes"
	LimitDisk      = "disk"
	LimitFileSize  = "file_size"
	LimitCPUTime   = "cpu_time"
	LimitWallTime  = "wall_time"
)

// ExecutionRequest is one code-run request. Timeout travels as milliseconds on the wire.
type ExecutionRequest struct {
	Language     string
	Code         string
	Input        string
	Dependencies []Dependency
	Timeout      time.Duration
	EnvVars      map[string]string
}

type executionRequestJSON struct {
	Language     string            `json:"language"`
	Code         string            `json:"code"`
	Input        string            `json:"input,omitempty"`
	Dependencies []Dependency      `json:"dependencies,omitempty"`
	TimeoutMs    int64             `json:"timeout_ms"`
	EnvVars      map[string]string `json:"env_vars,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r ExecutionRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(executionRequestJSON{
		Language:     r.Language,
		Code:         r.Code,
		Input:        r.Input,
		Dependencies: r.Dependencies,
		TimeoutMs:    r.Timeout.Milliseconds(),
		EnvVars:      r.EnvVars,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ExecutionRequest) UnmarshalJSON(data []byte) error {
	var raw executionRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ExecutionRequest{
		Language:     raw.Language,
		Code:         raw.Code,
		Input:        raw.Input,
		Dependencies: raw.Dependencies,
		Timeout:      time.Duration(raw.TimeoutMs) * time.Millisecond,
		EnvVars:      raw.EnvVars,
	}
	return nil
}

// ProcessStats is the observed resource usage of one execution.
type ProcessStats struct {
	PeakMemoryBytes int64
	CPUTime         time.Duration
	WallTime        time.Duration
	ExitCode        int
	Signal          string
}

type processStatsJSON struct {
	PeakMemoryBytes int64  `json:"peak_memory_bytes"`
	CPUTimeMs       int64  `json:"cpu_time_ms"`
	WallTimeMs      int64  `json:"wall_time_ms"`
	ExitCode        int    `json:"exit_code"`
	Signal          string `json:"signal,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s ProcessStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(processStatsJSON{
		PeakMemoryBytes: s.PeakMemoryBytes,
		CPUTimeMs:       s.CPUTime.Milliseconds(),
		WallTimeMs:      s.WallTime.Milliseconds(),
		ExitCode:        s.ExitCode,
		Signal:          s.Signal,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ProcessStats) UnmarshalJSON(data []byte) error {
	var raw processStatsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ProcessStats{
		PeakMemoryBytes: raw.PeakMemoryBytes,
		CPUTime:         time.Duration(raw.CPUTimeMs) * time.Millisecond,
		WallTime:        time.Duration(raw.WallTimeMs) * time.Millisecond,
		ExitCode:        raw.ExitCode,
		Signal:          raw.Signal,
	}
	return nil
}

// ExecutionResult is constructed once at the end of the pipeline.
type ExecutionResult struct {
	ExecutionID string       `json:"execution_id,omitempty"`
	Status      Status       `json:"status"`
	Stdout      string       `json:"stdout"`
	Stderr      string       `json:"stderr"`
	SetupOutput string       `json:"setup_output,omitempty"`
	Limit       string       `json:"limit,omitempty"`
	Message     string       `json:"message,omitempty"`
	Truncated   bool         `json:"truncated,omitempty"`
	Stats       ProcessStats `json:"process_stats"`
}
