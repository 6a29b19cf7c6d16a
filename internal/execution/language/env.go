package language

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codeexec/internal/execution/sandbox/spec"
)

// DefaultPath is the PATH every sandbox starts from.
const DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// tmpDirName is created in every sandbox and used as TMPDIR.
const tmpDirName = ".tmp"

// ReservedEnv are keys user code may not set.
var ReservedEnv = map[string]bool{
	"PATH":            true,
	"HOME":            true,
	"LD_PRELOAD":      true,
	"LD_LIBRARY_PATH": true,

	spec.SandboxIDEnv: true,
}

// BaseEnv points every toolchain cache at the sandbox directory.
func BaseEnv(dir string) []string {
	return []string{
		"PATH=" + DefaultPath,
		"HOME=" + dir,
		"TMPDIR=" + filepath.Join(dir, tmpDirName),
		"LANG=C.UTF-8",
		"GOCACHE=" + filepath.Join(dir, ".cache", "go-build"),
		"GOPATH=" + filepath.Join(dir, ".go"),
		"GOMODCACHE=" + filepath.Join(dir, ".go", "pkg", "mod"),
		"GOTOOLCHAIN=local",
		"GOFLAGS=-mod=mod",
		"npm_config_cache=" + filepath.Join(dir, ".npm"),
		"npm_config_update_notifier=false",
		"PIP_CACHE_DIR=" + filepath.Join(dir, ".cache", "pip"),
		"PIP_DISABLE_PIP_VERSION_CHECK=1",
		"CARGO_HOME=" + filepath.Join(dir, ".cargo"),
	}
}

// MergeEnv applies layers in order; later layers win per key. Output is sorted by key.
func MergeEnv(layers ...[]string) []string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for _, kv := range layer {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				continue
			}
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// EnvFromMap renders a map as KEY=VALUE entries.
func EnvFromMap(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func specEnv(s LanguageSpec, dir string) []string {
	out := make([]string, 0, len(s.Env)+len(s.PassEnv))
	for _, name := range s.PassEnv {
		if v, ok := os.LookupEnv(name); ok {
			out = append(out, name+"="+v)
		}
	}
	r := strings.NewReplacer("{dir}", dir)
	for _, kv := range s.Env {
		out = append(out, r.Replace(kv))
	}
	return out
}
