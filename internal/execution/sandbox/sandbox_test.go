package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"codeexec/internal/execution/model"
	appErr "codeexec/pkg/errors"
)

type fakeKiller struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeKiller) Kill(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.err
}

func newManager(t *testing.T, killer Killer) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), killer)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCreateAndClose(t *testing.T) {
	killer := &fakeKiller{}
	m := newManager(t, killer)
	ctx := context.Background()

	sb, err := m.Create(ctx, model.ResourceLimits{MemoryBytes: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info, err := os.Stat(sb.Dir); err != nil || !info.IsDir() || info.Mode().Perm() != 0o700 {
		t.Fatalf("sandbox dir not created privately: %v %v", info, err)
	}
	if m.Active() != 1 {
		t.Fatalf("active = %d", m.Active())
	}

	other, err := m.Create(ctx, model.ResourceLimits{})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if other.Dir == sb.Dir || other.ID == sb.ID {
		t.Fatalf("sandboxes must not share a directory")
	}

	if err := sb.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(sb.Dir); !os.IsNotExist(err) {
		t.Fatalf("directory still present: %v", err)
	}
	if err := sb.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if len(killer.ids) != 1 || killer.ids[0] != sb.ID {
		t.Fatalf("kill calls: %v", killer.ids)
	}
	_ = other.Close(ctx)
	if m.Active() != 0 {
		t.Fatalf("active = %d after close", m.Active())
	}
}

func TestWithTearsDownOnError(t *testing.T) {
	m := newManager(t, nil)
	var dir string
	want := errors.New("step failed")
	err := m.With(context.Background(), model.ResourceLimits{}, func(sb *Sandbox) error {
		dir = sb.Dir
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("directory still present after error")
	}
}

func TestWithTearsDownOnPanic(t *testing.T) {
	m := newManager(t, nil)
	var dir string
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic should propagate")
			}
		}()
		_ = m.With(context.Background(), model.ResourceLimits{}, func(sb *Sandbox) error {
			dir = sb.Dir
			panic("boom")
		})
	}()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("directory still present after panic")
	}
	if m.Active() != 0 {
		t.Fatalf("active = %d", m.Active())
	}
}

func TestCloseRemovesReadOnlyTrees(t *testing.T) {
	m := newManager(t, nil)
	sb, err := m.Create(context.Background(), model.ResourceLimits{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := sb.WriteFile("gomodcache/pkg@v1/file.go", []byte("package pkg"), 0o444); err != nil {
		t.Fatalf("write: %v", err)
	}
	ro := filepath.Join(sb.Dir, "gomodcache", "pkg@v1")
	if err := os.Chmod(ro, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if err := sb.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(sb.Dir); !os.IsNotExist(err) {
		t.Fatalf("read-only tree survived teardown")
	}
}

func TestCloseReportsKillFailure(t *testing.T) {
	m := newManager(t, &fakeKiller{err: errors.New("no such group")})
	sb, err := m.Create(context.Background(), model.ResourceLimits{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = sb.Close(context.Background())
	if !appErr.Is(err, appErr.SandboxTeardownFailed) {
		t.Fatalf("expected teardown error, got %v", err)
	}
	if _, statErr := os.Stat(sb.Dir); !os.IsNotExist(statErr) {
		t.Fatalf("directory must be removed even when kill fails")
	}
}

func TestPathRejectsEscape(t *testing.T) {
	m := newManager(t, nil)
	sb, err := m.Create(context.Background(), model.ResourceLimits{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer sb.Close(context.Background())

	for _, name := range []string{"", "/etc/passwd", "../escape", "a/../../escape"} {
		if _, err := sb.Path(name); err == nil {
			t.Fatalf("path %q should be rejected", name)
		}
	}
	p, err := sb.Path("src/main.py")
	if err != nil || p != filepath.Join(sb.Dir, "src", "main.py") {
		t.Fatalf("unexpected path: %s, %v", p, err)
	}
}

func TestHandover(t *testing.T) {
	ctx := context.Background()

	m := newManager(t, nil)
	sb, err := m.Create(ctx, model.ResourceLimits{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer sb.Close(ctx)
	if err := sb.Handover(); err != nil {
		t.Fatalf("handover without owner: %v", err)
	}

	uid := os.Getuid()
	if uid == 0 {
		t.Skip("root has no unprivileged uid to hand over to")
	}
	owned, err := NewManager(t.TempDir(), nil, WithOwner(uid, os.Getgid()))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	sb2, err := owned.Create(ctx, model.ResourceLimits{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer sb2.Close(ctx)
	if err := sb2.WriteFile("a/b.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sb2.Handover(); err != nil {
		t.Fatalf("handover to self: %v", err)
	}
}
