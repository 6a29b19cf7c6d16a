package model

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	appErr "codeexec/pkg/errors"
)

func TestExecutionRequestRoundTrip(t *testing.T) {
	req := ExecutionRequest{
		Language:     "python",
		Code:         "print(input())",
		Input:        "hello\n",
		Dependencies: []Dependency{{Name: "requests", Version: "2.31.0"}, {Name: "lib", Source: "https://example.com/lib.tar.gz"}},
		Timeout:      1500 * time.Millisecond,
		EnvVars:      map[string]string{"MODE": "test"},
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ExecutionRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(req, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", req, got)
	}
}

func TestExecutionResultRoundTrip(t *testing.T) {
	res := ExecutionResult{
		ExecutionID: "exec-1",
		Status:      StatusResourceExceeded,
		Stdout:      "partial",
		Stderr:      "MemoryError",
		Limit:       LimitMemory,
		Truncated:   true,
		Stats: ProcessStats{
			PeakMemoryBytes: 52428800,
			CPUTime:         250 * time.Millisecond,
			WallTime:        time.Second,
			ExitCode:        -1,
			Signal:          "killed",
		},
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ExecutionResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(res, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", res, got)
	}
}

func TestStatusCoarse(t *testing.T) {
	cases := map[Status]string{
		StatusSuccess:             "success",
		StatusTimeout:             "timeout",
		StatusResourceExceeded:    "resource_exceeded",
		StatusRuntimeError:        "error",
		StatusSetupError:          "error",
		StatusUnsupportedLanguage: "error",
		StatusBusy:                "error",
	}
	for status, want := range cases {
		if got := status.Coarse(); got != want {
			t.Fatalf("%s.Coarse() = %s, want %s", status, got, want)
		}
	}
}

func TestParseDependency(t *testing.T) {
	cases := []struct {
		raw     string
		want    Dependency
		wantErr bool
	}{
		{raw: "requests==2.31.0", want: Dependency{Name: "requests", Version: "2.31.0"}},
		{raw: "lodash@4.17.21", want: Dependency{Name: "lodash", Version: "4.17.21"}},
		{raw: "@types/node@20.1.0", want: Dependency{Name: "@types/node", Version: "20.1.0"}},
		{raw: "@types/node", want: Dependency{Name: "@types/node"}},
		{raw: " numpy ", want: Dependency{Name: "numpy"}},
		{raw: "", wantErr: true},
		{raw: "--index-url=http://evil", wantErr: true},
		{raw: "pkg==1.0; rm -rf /", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseDependency(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				if !appErr.Is(err, appErr.InvalidDependency) {
					t.Fatalf("unexpected error code: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDependencyUnmarshalMixed(t *testing.T) {
	var deps []Dependency
	body := `["flask==3.0.0", {"name": "numpy", "version": "1.26.0"}, {"name": "lib", "source": "git+https://example.com/lib"}]`
	if err := json.Unmarshal([]byte(body), &deps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []Dependency{
		{Name: "flask", Version: "3.0.0"},
		{Name: "numpy", Version: "1.26.0"},
		{Name: "lib", Source: "git+https://example.com/lib"},
	}
	if !reflect.DeepEqual(deps, want) {
		t.Fatalf("got %+v, want %+v", deps, want)
	}

	if err := json.Unmarshal([]byte(`[{"name": "-e"}]`), &deps); err == nil {
		t.Fatalf("expected invalid object dependency to fail")
	}
}

func TestResourceLimitsValidate(t *testing.T) {
	maxima := ResourceLimits{MemoryBytes: 256 << 20, CPUTimeSeconds: 10, MaxProcesses: 32, FileSizeBytes: 10 << 20, DiskBytes: 100 << 20}
	valid := ResourceLimits{MemoryBytes: 100 << 20, CPUTimeSeconds: 5, MaxProcesses: 10, FileSizeBytes: 1 << 20, DiskBytes: 50 << 20}

	if err := valid.Validate(maxima); err != nil {
		t.Fatalf("valid limits rejected: %v", err)
	}

	cases := []struct {
		name   string
		limits ResourceLimits
		field  string
	}{
		{name: "zero memory", limits: valid.Apply(LimitOverrides{MemoryBytes: ptr(int64(0))}), field: "memory_bytes"},
		{name: "negative cpu", limits: valid.Apply(LimitOverrides{CPUTimeSeconds: ptr(int64(-1))}), field: "cpu_time_seconds"},
		{name: "memory over max", limits: valid.Apply(LimitOverrides{MemoryBytes: ptr(int64(512 << 20))}), field: "memory_bytes"},
		{name: "processes over max", limits: valid.Apply(LimitOverrides{MaxProcesses: ptr(int64(64))}), field: "max_processes"},
		{name: "disk over max", limits: valid.Apply(LimitOverrides{DiskBytes: ptr(int64(1 << 30))}), field: "disk_bytes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.limits.Validate(maxima)
			if err == nil {
				t.Fatalf("expected error")
			}
			coded := appErr.GetError(err)
			if coded.Code != appErr.InvalidLimits {
				t.Fatalf("unexpected code: %v", coded.Code)
			}
			if coded.Details["field"] != tc.field {
				t.Fatalf("unexpected field: %v", coded.Details["field"])
			}
		})
	}

	if err := valid.Apply(LimitOverrides{MemoryBytes: ptr(int64(4 << 30))}).Validate(ResourceLimits{}); err != nil {
		t.Fatalf("zero maxima should not bound: %v", err)
	}
}

func TestLimitOverridesApply(t *testing.T) {
	defaults := ResourceLimits{MemoryBytes: 100, CPUTimeSeconds: 5, MaxProcesses: 10, FileSizeBytes: 10, DiskBytes: 100}

	if got := defaults.Apply(LimitOverrides{}); got != defaults {
		t.Fatalf("absent fields must keep defaults: %+v", got)
	}

	var o LimitOverrides
	if err := json.Unmarshal([]byte(`{"memory_bytes": -1, "disk_bytes": 0}`), &o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := defaults.Apply(o)
	if got.MemoryBytes != -1 || got.DiskBytes != 0 || got.CPUTimeSeconds != 5 {
		t.Fatalf("present fields must replace defaults: %+v", got)
	}
	if err := got.Validate(ResourceLimits{}); err == nil {
		t.Fatalf("negative override accepted")
	}
}

func ptr[T any](v T) *T { return &v }
