//go:build linux

package initproc

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Main runs the helper and returns the exit code. It only returns on failure;
// on success the process image is replaced by the target command.
func Main() int {
	status := os.NewFile(StatusFD, "init-status")
	fail := func(err error) int {
		_, _ = fmt.Fprintln(status, err.Error())
		_ = status.Close()
		return ExitSetupFailed
	}
	unix.CloseOnExec(StatusFD)

	reqFile := os.NewFile(RequestFD, "init-request")
	req, err := Decode(reqFile)
	_ = reqFile.Close()
	if err != nil {
		return fail(err)
	}

	if req.PrivateMounts {
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			return fail(fmt.Errorf("make mount private: %w", err))
		}
	}

	// cmd.Env and cmd.Dir already hold the sandbox environment and directory.
	path, err := exec.LookPath(req.Cmd[0])
	if err != nil {
		return fail(fmt.Errorf("resolve command %q: %w", req.Cmd[0], err))
	}

	if err := applyRlimits(req.Rlimits); err != nil {
		return fail(err)
	}
	if req.Seccomp != nil {
		if err := applySeccomp(req.Seccomp); err != nil {
			return fail(err)
		}
	}

	err = unix.Exec(path, req.Cmd, req.Env)
	return fail(fmt.Errorf("exec %s: %w", path, err))
}

// applyRlimits fails closed: the first error aborts the launch.
func applyRlimits(limits []Rlimit) error {
	for _, l := range limits {
		if err := unix.Setrlimit(l.Resource, &unix.Rlimit{Cur: l.Cur, Max: l.Max}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.Name, err)
		}
	}
	return nil
}
