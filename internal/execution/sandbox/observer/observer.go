// Package observer defines metrics hooks for sandbox execution.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveExecution(ctx context.Context, languageID string, status string, wall time.Duration, peakMemoryBytes int64)
	ObserveStep(ctx context.Context, languageID string, stage string, ok bool, wall time.Duration)
	AdmissionRejected(ctx context.Context)
	SetInFlight(n int)
}

// NoopMetricsRecorder discards every observation.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveExecution(context.Context, string, string, time.Duration, int64) {}
func (NoopMetricsRecorder) ObserveStep(context.Context, string, string, bool, time.Duration)       {}
func (NoopMetricsRecorder) AdmissionRejected(context.Context)                                     {}
func (NoopMetricsRecorder) SetInFlight(int)                                                       {}
