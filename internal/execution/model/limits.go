package model

import (
	"time"

	appErr "codeexec/pkg/errors"
)

// ResourceLimits are the ceilings for one execution.
type ResourceLimits struct {
	MemoryBytes    int64 `json:"memory_bytes" koanf:"memory_bytes"`
	CPUTimeSeconds int64 `json:"cpu_time_seconds" koanf:"cpu_time_seconds"`
	MaxProcesses   int64 `json:"max_processes" koanf:"max_processes"`
	FileSizeBytes  int64 `json:"file_size_bytes" koanf:"file_size_bytes"`
	DiskBytes      int64 `json:"disk_bytes" koanf:"disk_bytes"`
}

// CPUTime returns the cpu ceiling as a duration.
func (l ResourceLimits) CPUTime() time.Duration {
	return time.Duration(l.CPUTimeSeconds) * time.Second
}

// LimitOverrides are per-request limits. A nil field keeps the server default; a present
// value replaces it even when it is zero or negative, so Validate can reject it.
type LimitOverrides struct {
	MemoryBytes    *int64 `json:"memory_bytes,omitempty"`
	CPUTimeSeconds *int64 `json:"cpu_time_seconds,omitempty"`
	MaxProcesses   *int64 `json:"max_processes,omitempty"`
	FileSizeBytes  *int64 `json:"file_size_bytes,omitempty"`
	DiskBytes      *int64 `json:"disk_bytes,omitempty"`
}

// Apply returns l with every present field of o applied.
func (l ResourceLimits) Apply(o LimitOverrides) ResourceLimits {
	set := func(dst *int64, v *int64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&l.MemoryBytes, o.MemoryBytes)
	set(&l.CPUTimeSeconds, o.CPUTimeSeconds)
	set(&l.MaxProcesses, o.MaxProcesses)
	set(&l.FileSizeBytes, o.FileSizeBytes)
	set(&l.DiskBytes, o.DiskBytes)
	return l
}

// Validate checks every field is positive and, when maxima is given, within it.
// Zero fields of maxima leave that field unbounded.
func (l ResourceLimits) Validate(maxima ResourceLimits) error {
	fields := []struct {
		name  string
		value int64
		max   int64
	}{
		{"memory_bytes", l.MemoryBytes, maxima.MemoryBytes},
		{"cpu_time_seconds", l.CPUTimeSeconds, maxima.CPUTimeSeconds},
		{"max_processes", l.MaxProcesses, maxima.MaxProcesses},
		{"file_size_bytes", l.FileSizeBytes, maxima.FileSizeBytes},
		{"disk_bytes", l.DiskBytes, maxima.DiskBytes},
	}
	for _, f := range fields {
		if f.value <= 0 {
			return appErr.LimitError(f.name, "must be positive")
		}
		if f.max > 0 && f.value > f.max {
			return appErr.LimitError(f.name, "exceeds server maximum").WithDetail("max", f.max)
		}
	}
	return nil
}
