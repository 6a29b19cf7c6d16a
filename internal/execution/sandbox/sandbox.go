// Package sandbox owns the lifetime of per-execution sandbox directories.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeexec/internal/execution/model"
	appErr "codeexec/pkg/errors"
	"codeexec/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Killer terminates every process still running for a sandbox.
type Killer interface {
	Kill(ctx context.Context, sandboxID string) error
}

// Manager creates sandboxes under one root directory.
type Manager struct {
	root   string
	killer Killer
	owner  *Owner
	active atomic.Int64
}

// Owner is the uid and gid sandboxed processes run as when it differs from the server's.
type Owner struct {
	UID int
	GID int
}

// Option configures a Manager.
type Option func(*Manager)

// WithOwner hands sandbox trees to uid:gid before each process launch. A zero uid is ignored.
func WithOwner(uid, gid int) Option {
	return func(m *Manager) {
		if uid > 0 {
			m.owner = &Owner{UID: uid, GID: gid}
		}
	}
}

// NewManager creates the root directory if needed. killer may be nil.
func NewManager(root string, killer Killer, opts ...Option) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "code-exec")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "resolve sandbox root")
	}
	if err := os.MkdirAll(abs, 0o711); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "create sandbox root")
	}
	m := &Manager{root: abs, killer: killer}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the absolute sandbox root.
func (m *Manager) Root() string { return m.root }

// Active returns the number of sandboxes created and not yet closed.
func (m *Manager) Active() int64 { return m.active.Load() }

// Create makes a fresh, uniquely named directory owned by the caller.
func (m *Manager) Create(ctx context.Context, limits model.ResourceLimits) (*Sandbox, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	// Mkdir, not MkdirAll: an existing directory must never be reused.
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "create sandbox directory")
	}
	m.active.Add(1)
	logger.Debug(ctx, "sandbox created", zap.String("sandbox_id", id), zap.String("dir", dir))
	return &Sandbox{
		ID:        id,
		Dir:       dir,
		Limits:    limits,
		CreatedAt: time.Now(),
		manager:   m,
	}, nil
}

// With runs fn inside a new sandbox and always tears it down, including when fn panics.
// A panic is re-raised after teardown.
func (m *Manager) With(ctx context.Context, limits model.ResourceLimits, fn func(*Sandbox) error) (err error) {
	sb, err := m.Create(ctx, limits)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sb.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn(ctx, "sandbox teardown failed", zap.String("sandbox_id", sb.ID), zap.Error(cerr))
		}
	}()
	return fn(sb)
}

// Sandbox is one isolated working directory. Only its creator may use it.
type Sandbox struct {
	ID        string
	Dir       string
	Limits    model.ResourceLimits
	CreatedAt time.Time

	manager   *Manager
	closeOnce sync.Once
	closeErr  error
}

// Path resolves name inside the sandbox and rejects anything that escapes it.
func (s *Sandbox) Path(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", appErr.ValidationError("path", "must be a relative path")
	}
	p := filepath.Join(s.Dir, name)
	rel, err := filepath.Rel(s.Dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", appErr.ValidationError("path", "escapes the sandbox")
	}
	return p, nil
}

// WriteFile writes data to name inside the sandbox, creating parent directories.
func (s *Sandbox) WriteFile(name string, data []byte, perm fs.FileMode) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("create parent of %s: %w", name, err)
	}
	if err := os.WriteFile(p, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Handover gives the whole tree to the manager's owner, if one is configured. Files the
// server wrote since the last call become writable by the sandboxed uid.
func (s *Sandbox) Handover() error {
	owner := s.manager.owner
	if owner == nil {
		return nil
	}
	return filepath.WalkDir(s.Dir, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Lchown(path, owner.UID, owner.GID); err != nil {
			return appErr.Wrapf(err, appErr.SandboxSetupFailed, "hand over %s", path)
		}
		return nil
	})
}

// Close kills remaining processes and removes the directory. It is idempotent; only the
// first call does work and later calls return its error.
func (s *Sandbox) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.manager.killer != nil {
			if err := s.manager.killer.Kill(ctx, s.ID); err != nil {
				errs = append(errs, fmt.Errorf("kill processes: %w", err))
			}
		}
		if err := removeAll(s.Dir); err != nil {
			errs = append(errs, fmt.Errorf("remove directory: %w", err))
		}
		s.manager.active.Add(-1)
		if len(errs) > 0 {
			s.closeErr = appErr.Wrap(errors.Join(errs...), appErr.SandboxTeardownFailed)
		}
	})
	return s.closeErr
}

// removeAll removes dir even when toolchains left read-only trees behind (go module cache).
func removeAll(dir string) error {
	if err := os.RemoveAll(dir); err == nil {
		return nil
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(path, 0o700)
		}
		return nil
	})
	return os.RemoveAll(dir)
}
