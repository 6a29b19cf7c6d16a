// Package initproc is the in-child half of the sandbox. The engine re-executes its own binary
// with the Arg subcommand; the helper reads a Request from RequestFD, applies kernel limits and
// replaces itself with the target command. Any failure before exec is written to StatusFD.
package initproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// Arg is the argv[1] that routes a binary into Main.
	Arg = "sandbox-init"
	// RequestFD carries the JSON Request. It is the first of cmd.ExtraFiles.
	RequestFD = 3
	// StatusFD is close-on-exec; bytes on it mean the helper failed before exec.
	StatusFD = 4
	// ExitSetupFailed is the helper's exit code when setup fails.
	ExitSetupFailed = 127
)

// Rlimit is one setrlimit call. Name is kept for error messages.
type Rlimit struct {
	Name     string `json:"name"`
	Resource int    `json:"resource"`
	Cur      uint64 `json:"cur"`
	Max      uint64 `json:"max"`
}

// Request is everything the helper needs to become the target command.
type Request struct {
	Cmd           []string        `json:"cmd"`
	Env           []string        `json:"env"`
	Rlimits       []Rlimit        `json:"rlimits"`
	Seccomp       *SeccompProfile `json:"seccomp,omitempty"`
	PrivateMounts bool            `json:"private_mounts,omitempty"`
}

// Validate checks the request before anything is applied.
func (r Request) Validate() error {
	if len(r.Cmd) == 0 || r.Cmd[0] == "" {
		return errors.New("command is required")
	}
	for _, l := range r.Rlimits {
		if l.Cur > l.Max {
			return fmt.Errorf("rlimit %s: soft %d above hard %d", l.Name, l.Cur, l.Max)
		}
	}
	return nil
}

// Encode writes r to w as one JSON document.
func Encode(w io.Writer, r Request) error {
	return json.NewEncoder(w).Encode(r)
}

// Decode reads a request written by Encode.
func Decode(rd io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(rd).Decode(&req); err != nil {
		return Request{}, fmt.Errorf("decode init request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}
