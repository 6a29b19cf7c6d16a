package initproc

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// SeccompProfile is a reduced docker-style seccomp profile.
type SeccompProfile struct {
	DefaultAction string        `json:"defaultAction"`
	Syscalls      []SeccompRule `json:"syscalls"`
}

// SeccompRule applies Action to every syscall in Names.
type SeccompRule struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

var seccompActions = map[string]bool{
	"SCMP_ACT_ALLOW":        true,
	"SCMP_ACT_ERRNO":        true,
	"SCMP_ACT_KILL":         true,
	"SCMP_ACT_KILL_PROCESS": true,
}

// LoadSeccompProfile reads and validates a profile file.
func LoadSeccompProfile(path string) (*SeccompProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seccomp profile: %w", err)
	}
	var p SeccompProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse seccomp profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects unknown actions and empty rules.
func (p SeccompProfile) Validate() error {
	if !seccompActions[strings.ToUpper(p.DefaultAction)] {
		return fmt.Errorf("unsupported seccomp default action: %q", p.DefaultAction)
	}
	for i, rule := range p.Syscalls {
		if !seccompActions[strings.ToUpper(rule.Action)] {
			return fmt.Errorf("syscalls[%d]: unsupported seccomp action: %q", i, rule.Action)
		}
		if len(rule.Names) == 0 {
			return fmt.Errorf("syscalls[%d]: names are required", i)
		}
	}
	return nil
}
