package engine

import "time"

const (
	defaultOutputLimit     int64 = 1 << 20
	defaultTasksPerProcess int64 = 16
)

// Config controls sandbox engine behavior.
type Config struct {
	// CgroupRoot is a delegated cgroup v2 directory with the memory and pids controllers enabled.
	CgroupRoot   string
	EnableCgroup bool

	// HelperPath defaults to the running executable; HelperArgs defaults to the sandbox-init subcommand.
	HelperPath string
	HelperArgs []string

	SeccompProfile   string
	EnableSeccomp    bool
	EnableNamespaces bool
	DisableNetwork   bool

	// RunAsUID and RunAsGID switch credentials when non-zero.
	RunAsUID int
	RunAsGID int
	// NprocRlimit forces RLIMIT_NPROC even without a dedicated uid.
	NprocRlimit bool
	// TasksPerProcess scales max processes into pids.max and RLIMIT_NPROC, which count threads.
	TasksPerProcess int64

	OutputLimit    int64
	SampleInterval time.Duration
	KillGrace      time.Duration
	// ProcMount overrides /proc for the process sampler.
	ProcMount string
}

func (c *Config) applyDefaults() {
	if c.OutputLimit <= 0 {
		c.OutputLimit = defaultOutputLimit
	}
	if c.TasksPerProcess <= 0 {
		c.TasksPerProcess = defaultTasksPerProcess
	}
}
