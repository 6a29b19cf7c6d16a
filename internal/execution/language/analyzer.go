package language

import (
	"regexp"
	"strings"

	"codeexec/internal/execution/model"
)

// Analyzer finds the third-party packages a program uses from its imports and from
// inline annotations such as "# pip: requests==2.31.0".
type Analyzer interface {
	Analyze(code string) []model.Dependency
}

// analyzerFor returns the analyzer that matches an installer kind, or nil when the
// language has no package manager.
func analyzerFor(kind string) Analyzer {
	switch kind {
	case InstallerPip:
		return pythonAnalyzer{}
	case InstallerNpm:
		return nodeAnalyzer{}
	case InstallerGoMod:
		return goAnalyzer{}
	case InstallerCargo:
		return rustAnalyzer{}
	default:
		return nil
	}
}

// mergeDependencies appends the found packages that the declared list does not already
// name. Declared entries always win, including their versions.
func mergeDependencies(declared, found []model.Dependency) []model.Dependency {
	if len(found) == 0 {
		return declared
	}
	out := make([]model.Dependency, 0, len(declared)+len(found))
	out = append(out, declared...)
	for _, dep := range found {
		if !covered(out, dep.Name) {
			out = append(out, dep)
		}
	}
	return out
}

func covered(deps []model.Dependency, name string) bool {
	key := depKey(name)
	for _, d := range deps {
		have := depKey(d.Name)
		if have == key || strings.HasPrefix(key, have+"/") {
			return true
		}
	}
	return false
}

// depKey folds case and separators the way pip and cargo treat them as equal.
func depKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// depSet collects dependencies in first-seen order. Annotations are added first so
// their versions survive later plain imports of the same package.
type depSet struct {
	deps []model.Dependency
	seen map[string]struct{}
}

func (s *depSet) add(name, version string) {
	dep := model.Dependency{Name: name, Version: version}
	if dep.Validate() != nil {
		return
	}
	key := depKey(name)
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.deps = append(s.deps, dep)
}

var (
	pipAnnotation  = regexp.MustCompile(`#[ \t]*pip[ \t]*:[ \t]*([A-Za-z0-9_.-]+)[ \t]*(==|>=|<=|~=|!=|>|<)?[ \t]*([0-9A-Za-z.+-]*)`)
	pyFromImport   = regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][\w.]*)\s+import\b`)
	pyImport       = regexp.MustCompile(`(?m)^\s*import\s+([^#\n;]+)`)
	pyPackageNames = map[string]string{
		"PIL":      "pillow",
		"bs4":      "beautifulsoup4",
		"cv2":      "opencv-python",
		"dateutil": "python-dateutil",
		"sklearn":  "scikit-learn",
		"yaml":     "pyyaml",
	}
)

type pythonAnalyzer struct{}

func (pythonAnalyzer) Analyze(code string) []model.Dependency {
	var set depSet
	for _, m := range pipAnnotation.FindAllStringSubmatch(code, -1) {
		version := ""
		if m[2] == "==" {
			version = m[3]
		}
		set.add(m[1], version)
	}

	var modules []string
	for _, m := range pyFromImport.FindAllStringSubmatch(code, -1) {
		modules = append(modules, m[1])
	}
	for _, m := range pyImport.FindAllStringSubmatch(code, -1) {
		for _, part := range strings.Split(m[1], ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(part), " ")
			modules = append(modules, name)
		}
	}
	for _, mod := range modules {
		base, _, _ := strings.Cut(mod, ".")
		if base == "" || pythonStdlib[base] {
			continue
		}
		if pkg, ok := pyPackageNames[base]; ok {
			base = pkg
		}
		set.add(base, "")
	}
	return set.deps
}

var (
	npmAnnotation = regexp.MustCompile(`//\s*npm\s*:\s*(@?[\w.-]+(?:/[\w.-]+)?)(?:@([\w.~^<>=*-]+))?`)
	jsImports     = []*regexp.Regexp{
		regexp.MustCompile(`\bfrom\s+['"]([^'"\n]+)['"]`),
		regexp.MustCompile(`(?m)^\s*import\s+['"]([^'"\n]+)['"]`),
		regexp.MustCompile(`\b(?:require|import)\s*\(\s*['"]([^'"\n]+)['"]\s*\)`),
	}
)

// nodeAnalyzer serves both JavaScript and TypeScript, which share npm and module syntax.
type nodeAnalyzer struct{}

func (nodeAnalyzer) Analyze(code string) []model.Dependency {
	var set depSet
	for _, m := range npmAnnotation.FindAllStringSubmatch(code, -1) {
		set.add(m[1], m[2])
	}
	for _, re := range jsImports {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			if pkg := npmPackage(m[1]); pkg != "" {
				set.add(pkg, "")
			}
		}
	}
	return set.deps
}

// npmPackage reduces a module specifier to its package name, or "" for local files and
// node builtins.
func npmPackage(specifier string) string {
	if specifier == "" || strings.HasPrefix(specifier, ".") || strings.HasPrefix(specifier, "/") || strings.HasPrefix(specifier, "node:") {
		return ""
	}
	parts := strings.Split(specifier, "/")
	if strings.HasPrefix(specifier, "@") {
		if len(parts) < 2 {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	if nodeBuiltins[parts[0]] {
		return ""
	}
	return parts[0]
}

var (
	goAnnotation  = regexp.MustCompile(`//\s*go\s*:\s*require\s+(\S+)\s+(v[\w.+-]+)`)
	goSingle      = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w.]+\s+)?"([^"]+)"`)
	goBlock       = regexp.MustCompile(`(?s)\bimport\s*\((.*?)\)`)
	goBlockImport = regexp.MustCompile(`(?m)^\s*(?:[\w.]+\s+)?"([^"]+)"`)
)

type goAnalyzer struct{}

func (goAnalyzer) Analyze(code string) []model.Dependency {
	var set depSet
	var required []string
	for _, m := range goAnnotation.FindAllStringSubmatch(code, -1) {
		set.add(m[1], m[2])
		required = append(required, m[1])
	}

	var paths []string
	for _, m := range goSingle.FindAllStringSubmatch(code, -1) {
		paths = append(paths, m[1])
	}
	for _, block := range goBlock.FindAllStringSubmatch(code, -1) {
		for _, m := range goBlockImport.FindAllStringSubmatch(block[1], -1) {
			paths = append(paths, m[1])
		}
	}
	for _, path := range paths {
		if mod := goModule(path, required); mod != "" {
			set.add(mod, "")
		}
	}
	return set.deps
}

// goModule maps an import path to the module that provides it. Standard library paths
// have no dot in their first element and map to "".
func goModule(path string, required []string) string {
	first, _, _ := strings.Cut(path, "/")
	if !strings.Contains(first, ".") {
		return ""
	}
	for _, mod := range required {
		if path == mod || strings.HasPrefix(path, mod+"/") {
			return mod
		}
	}
	parts := strings.Split(path, "/")
	keep := len(parts)
	switch first {
	case "github.com", "gitlab.com", "bitbucket.org", "golang.org":
		keep = 3
	case "gopkg.in", "google.golang.org":
		keep = 2
	}
	if keep > len(parts) {
		keep = len(parts)
	}
	return strings.Join(parts[:keep], "/")
}

var (
	cargoAnnotation = regexp.MustCompile(`//\s*cargo-version\s*:\s*([A-Za-z0-9_-]+)\s*=\s*"([^"]+)"`)
	rustUse         = regexp.MustCompile(`(?m)^\s*(?:pub(?:\([\w\s]+\))?\s+)?use\s+(?:::)?([A-Za-z_]\w*)`)
	rustExtern      = regexp.MustCompile(`(?m)^\s*extern\s+crate\s+([A-Za-z_]\w*)`)
	rustBuiltin     = map[string]bool{
		"std": true, "core": true, "alloc": true, "proc_macro": true, "test": true,
		"crate": true, "self": true, "super": true,
	}
	rustCrateNames = map[string]string{
		"async_trait": "async-trait",
	}
)

type rustAnalyzer struct{}

func (rustAnalyzer) Analyze(code string) []model.Dependency {
	var set depSet
	for _, m := range cargoAnnotation.FindAllStringSubmatch(code, -1) {
		set.add(m[1], m[2])
	}
	var crates []string
	for _, m := range rustUse.FindAllStringSubmatch(code, -1) {
		crates = append(crates, m[1])
	}
	for _, m := range rustExtern.FindAllStringSubmatch(code, -1) {
		crates = append(crates, m[1])
	}
	for _, name := range crates {
		if rustBuiltin[name] {
			continue
		}
		set.add(rustCrate(name), "")
	}
	return set.deps
}

// rustCrate turns the identifier used in code back into the published crate name.
func rustCrate(ident string) string {
	if name, ok := rustCrateNames[ident]; ok {
		return name
	}
	if strings.HasPrefix(ident, "aws_") {
		return strings.ReplaceAll(ident, "_", "-")
	}
	return ident
}

var pythonStdlib = toSet(
	"__future__", "abc", "argparse", "array", "ast", "asyncio", "atexit", "base64", "bisect",
	"builtins", "bz2", "calendar", "cmath", "codecs", "collections", "colorsys", "concurrent",
	"configparser", "contextlib", "contextvars", "copy", "csv", "ctypes", "dataclasses",
	"datetime", "decimal", "difflib", "dis", "email", "enum", "errno", "fcntl", "filecmp",
	"fnmatch", "fractions", "functools", "gc", "getopt", "getpass", "gettext", "glob", "graphlib",
	"gzip", "hashlib", "heapq", "hmac", "html", "http", "importlib", "inspect", "io", "ipaddress",
	"itertools", "json", "keyword", "linecache", "locale", "logging", "lzma", "marshal", "math",
	"mimetypes", "multiprocessing", "numbers", "operator", "os", "pathlib", "pickle", "platform",
	"pprint", "queue", "random", "re", "resource", "sched", "secrets", "select", "selectors",
	"shlex", "shutil", "signal", "socket", "sqlite3", "ssl", "stat", "statistics", "string",
	"struct", "subprocess", "sys", "sysconfig", "tarfile", "tempfile", "textwrap", "threading",
	"time", "timeit", "tokenize", "traceback", "types", "typing", "unicodedata", "unittest",
	"urllib", "uuid", "warnings", "weakref", "xml", "zipfile", "zlib", "zoneinfo",
)

var nodeBuiltins = toSet(
	"assert", "async_hooks", "buffer", "child_process", "cluster", "console", "constants",
	"crypto", "dgram", "dns", "events", "fs", "http", "http2", "https", "module", "net", "os",
	"path", "perf_hooks", "process", "querystring", "readline", "stream", "string_decoder",
	"timers", "tls", "tty", "url", "util", "v8", "vm", "worker_threads", "zlib",
)

func toSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
