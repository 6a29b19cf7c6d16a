//go:build linux

package sampler

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
)

func TestProcFSSamplesProcessGroup(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pgid := cmd.Process.Pid
	t.Cleanup(func() {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		_ = cmd.Wait()
	})

	s, err := NewProcFS("", pgid)
	if err != nil {
		t.Fatalf("new procfs sampler: %v", err)
	}
	sample, err := s.Sample()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if sample.Processes < 1 {
		t.Fatalf("expected at least one process, got %+v", sample)
	}
	if sample.RSSBytes <= 0 {
		t.Fatalf("expected resident memory, got %+v", sample)
	}

	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	_ = cmd.Wait()
	if _, err := s.Sample(); !errors.Is(err, ErrNoProcesses) {
		t.Fatalf("expected ErrNoProcesses after kill, got %v", err)
	}
}

func TestNewProcFSRejectsInvalidGroup(t *testing.T) {
	if _, err := NewProcFS("", 0); err == nil {
		t.Fatalf("expected error for pgid 0")
	}
}
