package engine

import (
	"strings"
	"testing"

	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/spec"
	appErr "codeexec/pkg/errors"
)

func testLimits() model.ResourceLimits {
	return model.ResourceLimits{
		MemoryBytes:    256 << 20,
		CPUTimeSeconds: 5,
		MaxProcesses:   10,
		FileSizeBytes:  10 << 20,
		DiskBytes:      100 << 20,
	}
}

func TestValidateRunSpec(t *testing.T) {
	valid := spec.RunSpec{
		SandboxID: "sb-1",
		Stage:     spec.StageRun,
		WorkDir:   "/tmp/sb-1",
		Cmd:       []string{"true"},
		Env:       []string{"PATH=/usr/bin"},
		Limits:    testLimits(),
	}
	if err := validateRunSpec(valid); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*spec.RunSpec)
		code   appErr.ErrorCode
	}{
		{name: "missing sandbox", mutate: func(rs *spec.RunSpec) { rs.SandboxID = "" }, code: appErr.ValidationFailed},
		{name: "relative dir", mutate: func(rs *spec.RunSpec) { rs.WorkDir = "tmp" }, code: appErr.ValidationFailed},
		{name: "empty argv", mutate: func(rs *spec.RunSpec) { rs.Cmd = nil }, code: appErr.ValidationFailed},
		{name: "bad env", mutate: func(rs *spec.RunSpec) { rs.Env = []string{"PATH"} }, code: appErr.ValidationFailed},
		{name: "zero memory", mutate: func(rs *spec.RunSpec) { rs.Limits.MemoryBytes = 0 }, code: appErr.InvalidLimits},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rs := valid
			rs.Env = append([]string(nil), valid.Env...)
			tc.mutate(&rs)
			err := validateRunSpec(rs)
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := appErr.GetCode(err); got != tc.code {
				t.Fatalf("code = %v, want %v", got, tc.code)
			}
		})
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("write: %d, %v", n, err)
	}
	if b.Truncated() {
		t.Fatalf("not truncated yet")
	}
	n, err = b.Write([]byte("defgh"))
	if n != 5 || err != nil {
		t.Fatalf("overflowing write must report full length: %d, %v", n, err)
	}
	if _, err := b.Write([]byte(strings.Repeat("x", 100))); err != nil {
		t.Fatalf("write after cap: %v", err)
	}
	if got := b.String(); got != "abcde" {
		t.Fatalf("got %q", got)
	}
	if !b.Truncated() {
		t.Fatalf("expected truncated")
	}
}

func TestCappedBufferExactFit(t *testing.T) {
	b := newCappedBuffer(3)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write(nil)
	if b.Truncated() {
		t.Fatalf("exact fit is not truncation")
	}
}
