//go:build linux

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/sampler"
)

// requiredControllers must be enabled in the root's cgroup.subtree_control for its
// children to expose memory.max and pids.max.
var requiredControllers = []string{"memory", "pids"}

// prepareCgroupRoot creates root and makes sure its children get the memory and pids
// controllers, enabling them when they are missing.
func prepareCgroupRoot(root string) error {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("create cgroup root: %w", err)
	}
	control := filepath.Join(root, "cgroup.subtree_control")
	missing, err := missingControllers(control)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	enable := "+" + strings.Join(requiredControllers, " +")
	if err := os.WriteFile(control, []byte(enable), 0o640); err != nil {
		return fmt.Errorf("enable %s in %s: %w", strings.Join(missing, ","), root, err)
	}
	if missing, err = missingControllers(control); err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("controllers %s not enabled in %s", strings.Join(missing, ","), root)
	}
	return nil
}

func missingControllers(control string) ([]string, error) {
	data, err := os.ReadFile(control)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", control, err)
	}
	enabled := make(map[string]bool)
	for _, f := range strings.Fields(string(data)) {
		enabled[strings.TrimPrefix(f, "+")] = true
	}
	var missing []string
	for _, c := range requiredControllers {
		if !enabled[c] {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// createRunCgroup creates a leaf directly under root. A nested sandbox level would need
// its own subtree_control delegation.
func createRunCgroup(root, sandboxID, stage string) (string, error) {
	if root == "" {
		return "", errors.New("cgroup root is required")
	}
	path := filepath.Join(root, fmt.Sprintf("%s-%s-%d", sandboxID, stage, time.Now().UnixNano()))
	if err := os.Mkdir(path, 0o750); err != nil {
		return "", fmt.Errorf("create cgroup path: %w", err)
	}
	return path, nil
}

// applyCgroupLimits fails closed; a write error means the controller is not delegated.
func applyCgroupLimits(path string, limits model.ResourceLimits, tasksPerProcess int64) error {
	if err := writeCgroupValue(path, "memory.max", strconv.FormatInt(limits.MemoryBytes, 10)); err != nil {
		return err
	}
	if err := writeCgroupValue(path, "memory.swap.max", "0"); err != nil && !errors.Is(err, os.ErrNotExist) {
		// swap accounting can be compiled out
		return err
	}
	if err := writeCgroupValue(path, "pids.max", strconv.FormatInt(limits.MaxProcesses*tasksPerProcess, 10)); err != nil {
		return err
	}
	return nil
}

func addProcessToCgroup(path string, pid int) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	return writeCgroupValue(path, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(path string) error {
	if err := os.WriteFile(filepath.Join(path, "cgroup.kill"), []byte("1"), 0o600); err != nil {
		return err
	}
	return nil
}

// removeCgroup kills any survivor and removes the run cgroup.
func removeCgroup(path string) {
	if path == "" {
		return
	}
	_ = killCgroup(path)
	for i := 0; i < 10; i++ {
		// rmdir fails with EBUSY until the killed tasks are gone
		if err := os.Remove(path); err == nil || errors.Is(err, os.ErrNotExist) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func wasOomKilled(path string) bool {
	if path == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func memoryPeak(path string) int64 {
	if path == "" {
		return 0
	}
	v, err := sampler.ReadInt(filepath.Join(path, "memory.peak"))
	if err != nil {
		return 0
	}
	return v
}

func writeCgroupValue(path, name, value string) error {
	if err := os.WriteFile(filepath.Join(path, name), []byte(value), 0o640); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
