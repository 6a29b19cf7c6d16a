package result

import (
	"testing"
	"time"

	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/monitor"
)

func TestClassify(t *testing.T) {
	pythonMarkers := []string{"MemoryError"}
	cases := []struct {
		name      string
		run       RunResult
		cpuLimit  int64
		wantState model.Status
		wantLimit string
	}{
		{
			name:      "clean exit",
			run:       RunResult{State: monitor.StateCompleted},
			wantState: model.StatusSuccess,
		},
		{
			name:      "non zero exit",
			run:       RunResult{State: monitor.StateCompleted, ExitCode: 1, Stderr: "ZeroDivisionError"},
			wantState: model.StatusRuntimeError,
		},
		{
			name:      "spawn failure",
			run:       RunResult{State: monitor.StateSpawnFailed, SpawnError: "exec: not found"},
			wantState: model.StatusSetupError,
		},
		{
			name:      "wall timeout",
			run:       RunResult{State: monitor.StateTimedOut, Signal: "SIGKILL"},
			wantState: model.StatusTimeout,
			wantLimit: model.LimitWallTime,
		},
		{
			name:      "sampled memory",
			run:       RunResult{State: monitor.StateLimitExceeded, Limit: model.LimitMemory, Signal: "SIGTERM"},
			wantState: model.StatusResourceExceeded,
			wantLimit: model.LimitMemory,
		},
		{
			name:      "cgroup oom kill",
			run:       RunResult{State: monitor.StateCompleted, Signal: "SIGKILL", OomKilled: true},
			wantState: model.StatusResourceExceeded,
			wantLimit: model.LimitMemory,
		},
		{
			name:      "cpu soft limit",
			run:       RunResult{State: monitor.StateCompleted, Signal: "SIGXCPU"},
			wantState: model.StatusTimeout,
			wantLimit: model.LimitCPUTime,
		},
		{
			name:      "cpu hard limit",
			run:       RunResult{State: monitor.StateCompleted, Signal: "SIGKILL", Stats: model.ProcessStats{CPUTime: 3 * time.Second}},
			cpuLimit:  2,
			wantState: model.StatusTimeout,
			wantLimit: model.LimitCPUTime,
		},
		{
			name:      "foreign sigkill",
			run:       RunResult{State: monitor.StateCompleted, Signal: "SIGKILL", Stats: model.ProcessStats{CPUTime: time.Second}},
			cpuLimit:  2,
			wantState: model.StatusRuntimeError,
		},
		{
			name:      "file size",
			run:       RunResult{State: monitor.StateCompleted, Signal: "SIGXFSZ"},
			wantState: model.StatusResourceExceeded,
			wantLimit: model.LimitFileSize,
		},
		{
			name:      "interpreter memory error",
			run:       RunResult{State: monitor.StateCompleted, ExitCode: 1, Stderr: "Traceback...\nMemoryError\n"},
			wantState: model.StatusResourceExceeded,
			wantLimit: model.LimitMemory,
		},
		{
			name:      "marker ignored on success",
			run:       RunResult{State: monitor.StateCompleted, Stderr: "MemoryError handled"},
			wantState: model.StatusSuccess,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, limit := Classify(tc.run, tc.cpuLimit, pythonMarkers)
			if status != tc.wantState || limit != tc.wantLimit {
				t.Fatalf("got (%s, %q), want (%s, %q)", status, limit, tc.wantState, tc.wantLimit)
			}
		})
	}
}

func TestOutput(t *testing.T) {
	if got := (RunResult{Stdout: "a", Stderr: "b"}).Output(); got != "a\nb" {
		t.Fatalf("unexpected output: %q", got)
	}
	if got := (RunResult{Stderr: "b"}).Output(); got != "b" {
		t.Fatalf("unexpected output: %q", got)
	}
}
