package sampler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeSampler struct {
	sample Sample
	err    error
	calls  int
}

func (f *fakeSampler) Sample() (Sample, error) {
	f.calls++
	return f.sample, f.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCgroupSample(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "memory.stat"), "anon 1048576\nfile 999999\n")
	writeFile(t, filepath.Join(dir, "cgroup.procs"), "101\n102\n103\n")
	writeFile(t, filepath.Join(dir, "cpu.stat"), "usage_usec 250000\nuser_usec 200000\nsystem_usec 50000\n")

	s, err := NewCgroup(dir).Sample()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if s.RSSBytes != 1048576 || s.Processes != 3 || s.CPUTime != 250*time.Millisecond {
		t.Fatalf("unexpected sample: %+v", s)
	}
}

func TestCgroupSampleMissingFiles(t *testing.T) {
	if _, err := NewCgroup(t.TempDir()).Sample(); err == nil {
		t.Fatalf("expected error for empty cgroup directory")
	}
}

func TestCgroupSampleBadCPUStat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "memory.stat"), "anon 1\n")
	writeFile(t, filepath.Join(dir, "cgroup.procs"), "1\n")
	writeFile(t, filepath.Join(dir, "cpu.stat"), "user_usec 1\n")
	if _, err := NewCgroup(dir).Sample(); err == nil {
		t.Fatalf("expected error when usage_usec is absent")
	}
}

func TestReadInt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "memory.max"), "max\n")
	writeFile(t, filepath.Join(dir, "memory.peak"), "4096\n")
	if v, err := ReadInt(filepath.Join(dir, "memory.max")); err != nil || v != 0 {
		t.Fatalf("max should read as 0, got %d, %v", v, err)
	}
	if v, err := ReadInt(filepath.Join(dir, "memory.peak")); err != nil || v != 4096 {
		t.Fatalf("unexpected peak: %d, %v", v, err)
	}
}

func TestFallback(t *testing.T) {
	primary := &fakeSampler{err: errors.New("cgroup gone")}
	secondary := &fakeSampler{sample: Sample{RSSBytes: 10, Processes: 1}}

	s, err := Fallback{Primary: primary, Secondary: secondary}.Sample()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if s.RSSBytes != 10 || secondary.calls != 1 {
		t.Fatalf("expected secondary sample, got %+v (calls %d)", s, secondary.calls)
	}

	primary.err = nil
	primary.sample = Sample{RSSBytes: 20, Processes: 2}
	s, err = Fallback{Primary: primary, Secondary: secondary}.Sample()
	if err != nil || s.RSSBytes != 20 {
		t.Fatalf("expected primary sample, got %+v, %v", s, err)
	}
	if secondary.calls != 1 {
		t.Fatalf("secondary should not be called when primary succeeds")
	}

	if _, err := (Fallback{}).Sample(); err == nil {
		t.Fatalf("expected error with no samplers")
	}
}

func TestDirUsage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "12345")
	if err := os.MkdirAll(filepath.Join(dir, "nested", "deeper"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "nested", "deeper", "b.bin"), string(make([]byte, 1000)))

	used, err := Dir(dir).Usage()
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if used != 1005 {
		t.Fatalf("expected 1005 bytes, got %d", used)
	}

	used, err = Dir(filepath.Join(dir, "missing")).Usage()
	if err != nil || used != 0 {
		t.Fatalf("missing dir should report 0 without error, got %d, %v", used, err)
	}
}
