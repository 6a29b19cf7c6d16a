// Package language maps language ids to executors that prepare and launch user code.
package language

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	appErr "codeexec/pkg/errors"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Installer kinds.
const (
	InstallerNone  = "none"
	InstallerPip   = "pip"
	InstallerNpm   = "npm"
	InstallerGoMod = "gomod"
	InstallerCargo = "cargo"
)

// LanguageSpec defines how to prepare, compile and run one language.
// Command templates are split with shell quoting rules, then {src}, {bin} and {dir}
// are substituted inside each argument.
type LanguageSpec struct {
	ID         string   `yaml:"id" koanf:"id"`
	Name       string   `yaml:"name" koanf:"name"`
	Aliases    []string `yaml:"aliases,omitempty" koanf:"aliases"`
	SourceFile string   `yaml:"source_file" koanf:"source_file"`
	BinaryFile string   `yaml:"binary_file,omitempty" koanf:"binary_file"`
	CompileCmd string   `yaml:"compile_cmd,omitempty" koanf:"compile_cmd"`
	RunCmd     string   `yaml:"run_cmd" koanf:"run_cmd"`
	Env        []string `yaml:"env,omitempty" koanf:"env"`
	// PassEnv names server environment variables copied into the sandbox when set.
	PassEnv   []string `yaml:"pass_env,omitempty" koanf:"pass_env"`
	Installer string   `yaml:"installer,omitempty" koanf:"installer"`
	// Files are extra files written next to the source, such as a tsconfig.json.
	Files map[string]string `yaml:"files,omitempty" koanf:"files"`
	// AddressSpaceFactor scales the memory limit into RLIMIT_AS; zero leaves it unlimited.
	AddressSpaceFactor float64  `yaml:"address_space_factor,omitempty" koanf:"address_space_factor"`
	OOMMarkers         []string `yaml:"oom_markers,omitempty" koanf:"oom_markers"`
	// RequiredTools are looked up by the languages --check command.
	RequiredTools []string `yaml:"required_tools,omitempty" koanf:"required_tools"`
}

// CompileEnabled reports whether the language has a compile step.
func (s LanguageSpec) CompileEnabled() bool {
	return strings.TrimSpace(s.CompileCmd) != ""
}

// Validate checks the spec is usable.
func (s LanguageSpec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return appErr.ValidationError("languages.id", "required")
	}
	if s.SourceFile == "" || filepath.IsAbs(s.SourceFile) || strings.Contains(s.SourceFile, "..") {
		return appErr.ValidationError("languages."+s.ID+".source_file", "must be a relative file name")
	}
	if strings.TrimSpace(s.RunCmd) == "" {
		return appErr.ValidationError("languages."+s.ID+".run_cmd", "required")
	}
	if _, err := shlex.Split(s.RunCmd); err != nil {
		return appErr.ValidationError("languages."+s.ID+".run_cmd", err.Error())
	}
	if s.CompileEnabled() {
		if _, err := shlex.Split(s.CompileCmd); err != nil {
			return appErr.ValidationError("languages."+s.ID+".compile_cmd", err.Error())
		}
	}
	if _, err := installerFor(s.Installer); err != nil {
		return err
	}
	for name := range s.Files {
		if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
			return appErr.ValidationError("languages."+s.ID+".files", "file names must be relative")
		}
	}
	for _, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			return appErr.ValidationError("languages."+s.ID+".env", "entries must be KEY=VALUE")
		}
	}
	if s.AddressSpaceFactor < 0 {
		return appErr.ValidationError("languages."+s.ID+".address_space_factor", "must not be negative")
	}
	return nil
}

func (s LanguageSpec) binaryFile() string {
	if s.BinaryFile != "" {
		return s.BinaryFile
	}
	return "app"
}

// buildCommand expands a template into argv. Placeholders are substituted after splitting,
// so paths with spaces stay one argument.
func buildCommand(tpl string, s LanguageSpec, dir string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	r := strings.NewReplacer("{src}", s.SourceFile, "{bin}", s.binaryFile(), "{dir}", dir)
	for i, f := range fields {
		fields[i] = r.Replace(f)
	}
	return fields, nil
}

// specFile is the document format of a languages file.
type specFile struct {
	Languages []LanguageSpec `yaml:"languages"`
}

// ParseSpecs decodes a YAML languages document and validates every entry.
func ParseSpecs(data []byte) ([]LanguageSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc specFile
	if err := dec.Decode(&doc); err != nil {
		return nil, appErr.Wrapf(err, appErr.ValidationFailed, "parse languages document")
	}
	for _, s := range doc.Languages {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Languages, nil
}

// LoadSpecsFile reads a YAML languages file.
func LoadSpecsFile(path string) ([]LanguageSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages file: %w", err)
	}
	return ParseSpecs(data)
}

// MarshalSpecs renders specs in the format ParseSpecs accepts.
func MarshalSpecs(specs []LanguageSpec) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(specFile{Languages: specs}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
