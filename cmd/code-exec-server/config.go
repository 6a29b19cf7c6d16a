package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeexec/internal/execution/admission"
	"codeexec/internal/execution/language"
	"codeexec/internal/execution/model"
	"codeexec/internal/execution/sandbox/engine"
	appErr "codeexec/pkg/errors"
	"codeexec/pkg/utils/logger"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	envPrefix            = "CODE_EXEC_"
	legacyPortEnv        = "CODE_EXEC_PORT"
	legacyConcurrencyEnv = "MAX_CONCURRENT_EXECUTIONS"

	defaultHTTPAddr        = "0.0.0.0:3000"
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxConcurrent   = 10
	defaultExecTimeout     = 30 * time.Second
	defaultMaxExecTimeout  = 5 * time.Minute
	defaultOutputLimit     = 1 << 20
	defaultSampleInterval  = 100 * time.Millisecond
	defaultKillGrace       = 200 * time.Millisecond
	defaultMaxCodeBytes    = 1 << 20
	defaultTasksPerProcess = 16

	defaultMemoryBytes   = 100 << 20
	defaultCPUSeconds    = 5
	defaultMaxProcesses  = 10
	defaultFileSizeBytes = 10 << 20
	defaultDiskBytes     = 100 << 20
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string          `koanf:"addr"`
	ReadTimeout     time.Duration   `koanf:"read_timeout"`
	WriteTimeout    time.Duration   `koanf:"write_timeout"`
	IdleTimeout     time.Duration   `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
	Gzip            bool            `koanf:"gzip"`
}

// RateLimitConfig is the per-client token bucket on /execute. Zero rps disables it.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

// AdmissionConfig selects how a full gate treats new requests.
type AdmissionConfig struct {
	Mode    string        `koanf:"mode"`
	MaxWait time.Duration `koanf:"max_wait"`
}

// ExecutionConfig holds pipeline settings.
type ExecutionConfig struct {
	MaxConcurrent  int64                `koanf:"max_concurrent"`
	Admission      AdmissionConfig      `koanf:"admission"`
	DefaultTimeout time.Duration        `koanf:"default_timeout"`
	MaxTimeout     time.Duration        `koanf:"max_timeout"`
	WorkRoot       string               `koanf:"work_root"`
	OutputLimit    int64                `koanf:"output_limit"`
	SampleInterval time.Duration        `koanf:"sample_interval"`
	KillGrace      time.Duration        `koanf:"kill_grace"`
	MaxCodeBytes   int64                `koanf:"max_code_bytes"`
	SetupLimits    model.ResourceLimits `koanf:"setup_limits"`
}

// CgroupConfig holds cgroup v2 settings.
type CgroupConfig struct {
	Enabled bool   `koanf:"enabled"`
	Root    string `koanf:"root"`
}

// SeccompConfig holds the optional syscall filter.
type SeccompConfig struct {
	Enabled bool   `koanf:"enabled"`
	Profile string `koanf:"profile"`
}

// RunAsConfig is the dedicated account sandboxed processes run under.
type RunAsConfig struct {
	UID int `koanf:"uid"`
	GID int `koanf:"gid"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	Cgroup          CgroupConfig  `koanf:"cgroup"`
	Seccomp         SeccompConfig `koanf:"seccomp"`
	Namespaces      bool          `koanf:"namespaces"`
	DisableNetwork  bool          `koanf:"disable_network"`
	HelperPath      string        `koanf:"helper_path"`
	RunAs           RunAsConfig   `koanf:"run_as"`
	NprocRlimit     bool          `koanf:"nproc_rlimit"`
	TasksPerProcess int64         `koanf:"tasks_per_process"`
}

// AppConfig holds code-exec-server config.
type AppConfig struct {
	Server    ServerConfig            `koanf:"server"`
	Logger    logger.Config           `koanf:"logger"`
	Execution ExecutionConfig         `koanf:"execution"`
	Limits    model.ResourceLimits    `koanf:"limits"`
	Maxima    model.ResourceLimits    `koanf:"maxima"`
	Sandbox   SandboxConfig           `koanf:"sandbox"`
	Languages []language.LanguageSpec `koanf:"languages"`
	// LanguagesFile is a YAML document in the `languages` format, merged over Languages.
	LanguagesFile string `koanf:"languages_file"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"addr":             "server.addr",
	"max-concurrent":   "execution.max_concurrent",
	"memory-limit":     "limits.memory_bytes",
	"cpu-time-limit":   "limits.cpu_time_seconds",
	"max-processes":    "limits.max_processes",
	"file-size-limit":  "limits.file_size_bytes",
	"disk-space-limit": "limits.disk_bytes",
	"log-level":        "logger.level",
	"languages-file":   "languages_file",
}

func defaultValues() map[string]interface{} {
	return map[string]interface{}{
		"server.addr":               defaultHTTPAddr,
		"logger.level":              "info",
		"logger.format":             "json",
		"execution.max_concurrent":  int64(defaultMaxConcurrent),
		"execution.admission.mode":  string(admission.ModeWait),
		"execution.default_timeout": defaultExecTimeout,
		"execution.max_timeout":     defaultMaxExecTimeout,
		"languages_file":            "",

		"limits.memory_bytes":     int64(defaultMemoryBytes),
		"limits.cpu_time_seconds": int64(defaultCPUSeconds),
		"limits.max_processes":    int64(defaultMaxProcesses),
		"limits.file_size_bytes":  int64(defaultFileSizeBytes),
		"limits.disk_bytes":       int64(defaultDiskBytes),

		"maxima.memory_bytes":     int64(1 << 30),
		"maxima.cpu_time_seconds": int64(60),
		"maxima.max_processes":    int64(64),
		"maxima.file_size_bytes":  int64(256 << 20),
		"maxima.disk_bytes":       int64(1 << 30),

		"execution.setup_limits.memory_bytes":     int64(1 << 30),
		"execution.setup_limits.cpu_time_seconds": int64(120),
		"execution.setup_limits.max_processes":    int64(64),
		"execution.setup_limits.file_size_bytes":  int64(256 << 20),
		"execution.setup_limits.disk_bytes":       int64(2 << 30),
	}
}

// envKey turns CODE_EXEC_EXECUTION__MAX_CONCURRENT into execution.max_concurrent.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	if key == "port" {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

func flagKey(name, value string) (string, interface{}) {
	key, ok := flagKeys[name]
	if !ok {
		return "", nil
	}
	return key, value
}

// loadAppConfig layers defaults, the --config file, CODE_EXEC_ env, legacy env and changed flags.
func loadAppConfig(flags *pflag.FlagSet) (*AppConfig, error) {
	k := koanf.New(".")
	for key, value := range defaultValues() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	configPath := ""
	if flags != nil {
		if flag := flags.Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := applyLegacyEnv(k); err != nil {
		return nil, err
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithValue(flags, ".", k, flagKey), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyLegacyEnv(k *koanf.Koanf) error {
	if port := strings.TrimSpace(os.Getenv(legacyPortEnv)); port != "" {
		host, _, err := net.SplitHostPort(k.String("server.addr"))
		if err != nil {
			return appErr.ValidationError("server.addr", err.Error())
		}
		if err := k.Set("server.addr", net.JoinHostPort(host, port)); err != nil {
			return err
		}
	}
	if n := strings.TrimSpace(os.Getenv(legacyConcurrencyEnv)); n != "" {
		if err := k.Set("execution.max_concurrent", n); err != nil {
			return err
		}
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaultIdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Execution.MaxConcurrent <= 0 {
		c.Execution.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Execution.Admission.Mode == "" {
		c.Execution.Admission.Mode = string(admission.ModeWait)
	}
	if c.Execution.DefaultTimeout == 0 {
		c.Execution.DefaultTimeout = defaultExecTimeout
	}
	if c.Execution.MaxTimeout == 0 {
		c.Execution.MaxTimeout = defaultMaxExecTimeout
	}
	// Responses are written only after the run, so the write timeout has to outlast it.
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = c.Execution.MaxTimeout + c.Execution.Admission.MaxWait + 30*time.Second
	}
	if c.Execution.WorkRoot == "" {
		c.Execution.WorkRoot = filepath.Join(os.TempDir(), "code-exec")
	}
	if c.Execution.OutputLimit <= 0 {
		c.Execution.OutputLimit = defaultOutputLimit
	}
	if c.Execution.SampleInterval <= 0 {
		c.Execution.SampleInterval = defaultSampleInterval
	}
	if c.Execution.KillGrace <= 0 {
		c.Execution.KillGrace = defaultKillGrace
	}
	if c.Execution.MaxCodeBytes <= 0 {
		c.Execution.MaxCodeBytes = defaultMaxCodeBytes
	}
	if c.Sandbox.TasksPerProcess <= 0 {
		c.Sandbox.TasksPerProcess = defaultTasksPerProcess
	}
	if c.Sandbox.Cgroup.Root == "" {
		c.Sandbox.Cgroup.Root = "/sys/fs/cgroup/code-exec"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
}

func (c *AppConfig) validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return appErr.ValidationError("server.addr", err.Error())
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return appErr.ValidationError("server.rate_limit", "must not be negative")
	}
	switch admission.Mode(c.Execution.Admission.Mode) {
	case admission.ModeWait, admission.ModeReject:
	default:
		return appErr.ValidationError("execution.admission.mode", fmt.Sprintf("unknown mode %q", c.Execution.Admission.Mode))
	}
	if c.Execution.Admission.MaxWait < 0 {
		return appErr.ValidationError("execution.admission.max_wait", "must not be negative")
	}
	if c.Execution.DefaultTimeout > c.Execution.MaxTimeout {
		return appErr.ValidationError("execution.default_timeout", "exceeds execution.max_timeout")
	}
	if err := c.Limits.Validate(c.Maxima); err != nil {
		return appErr.Wrapf(err, appErr.ValidationFailed, "limits: %s", err.Error())
	}
	if err := c.Execution.SetupLimits.Validate(model.ResourceLimits{}); err != nil {
		return appErr.Wrapf(err, appErr.ValidationFailed, "execution.setup_limits: %s", err.Error())
	}
	if c.Sandbox.Seccomp.Enabled && c.Sandbox.Seccomp.Profile == "" {
		return appErr.ValidationError("sandbox.seccomp.profile", "required when seccomp is enabled")
	}
	if c.Sandbox.RunAs.UID < 0 || c.Sandbox.RunAs.GID < 0 {
		return appErr.ValidationError("sandbox.run_as", "must not be negative")
	}
	for _, s := range c.Languages {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// languageOverrides returns the config languages followed by the languages file entries.
func (c *AppConfig) languageOverrides() ([]language.LanguageSpec, error) {
	specs := append([]language.LanguageSpec{}, c.Languages...)
	if c.LanguagesFile == "" {
		return specs, nil
	}
	fromFile, err := language.LoadSpecsFile(c.LanguagesFile)
	if err != nil {
		return nil, err
	}
	return append(specs, fromFile...), nil
}

func (c *AppConfig) toEngineConfig() engine.Config {
	return engine.Config{
		CgroupRoot:       c.Sandbox.Cgroup.Root,
		EnableCgroup:     c.Sandbox.Cgroup.Enabled,
		HelperPath:       c.Sandbox.HelperPath,
		SeccompProfile:   c.Sandbox.Seccomp.Profile,
		EnableSeccomp:    c.Sandbox.Seccomp.Enabled,
		EnableNamespaces: c.Sandbox.Namespaces,
		DisableNetwork:   c.Sandbox.DisableNetwork,
		RunAsUID:         c.Sandbox.RunAs.UID,
		RunAsGID:         c.Sandbox.RunAs.GID,
		NprocRlimit:      c.Sandbox.NprocRlimit,
		TasksPerProcess:  c.Sandbox.TasksPerProcess,
		OutputLimit:      c.Execution.OutputLimit,
		SampleInterval:   c.Execution.SampleInterval,
		KillGrace:        c.Execution.KillGrace,
	}
}
