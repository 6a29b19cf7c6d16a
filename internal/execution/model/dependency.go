package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	appErr "codeexec/pkg/errors"
)

// Dependency is one declared package. Source, when set, replaces the version as the
// install target (a URL, path or registry tag understood by the language's installer).
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Source  string `json:"source,omitempty"`
}

var dependencyName = regexp.MustCompile(`^[A-Za-z0-9@][A-Za-z0-9._/@+-]*$`)

// unsafeChars may not appear in versions or sources; they end up in manifests and argv.
const unsafeChars = " \t\r\n;|&$`\"'\\"

// ParseDependency accepts "name", "name==1.2.3" and "name@1.2.3". A leading "@" is a scope.
func ParseDependency(raw string) (Dependency, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Dependency{}, appErr.New(appErr.InvalidDependency).WithMessage("dependency is empty")
	}
	var dep Dependency
	if name, version, ok := strings.Cut(raw, "=="); ok {
		dep = Dependency{Name: name, Version: version}
	} else if i := strings.LastIndex(raw, "@"); i > 0 {
		dep = Dependency{Name: raw[:i], Version: raw[i+1:]}
	} else {
		dep = Dependency{Name: raw}
	}
	dep.Name = strings.TrimSpace(dep.Name)
	dep.Version = strings.TrimSpace(dep.Version)
	if err := dep.Validate(); err != nil {
		return Dependency{}, err
	}
	return dep, nil
}

// Validate rejects names and versions that could be read as installer flags or shell syntax.
func (d Dependency) Validate() error {
	if !dependencyName.MatchString(d.Name) {
		return appErr.Newf(appErr.InvalidDependency, "invalid dependency name %q", d.Name)
	}
	if strings.HasPrefix(d.Version, "-") || strings.ContainsAny(d.Version, unsafeChars) {
		return appErr.Newf(appErr.InvalidDependency, "invalid version %q for %s", d.Version, d.Name)
	}
	if strings.HasPrefix(d.Source, "-") || strings.ContainsAny(d.Source, unsafeChars) {
		return appErr.Newf(appErr.InvalidDependency, "invalid source %q for %s", d.Source, d.Name)
	}
	return nil
}

// String renders the dependency in pip style.
func (d Dependency) String() string {
	if d.Version == "" {
		return d.Name
	}
	return fmt.Sprintf("%s==%s", d.Name, d.Version)
}

// UnmarshalJSON accepts either a string or an object.
func (d *Dependency) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		dep, err := ParseDependency(raw)
		if err != nil {
			return err
		}
		*d = dep
		return nil
	}
	type plain Dependency
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	dep := Dependency(obj)
	if err := dep.Validate(); err != nil {
		return err
	}
	*d = dep
	return nil
}
