package language

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"codeexec/internal/execution/model"
	appErr "codeexec/pkg/errors"
)

// InstallPlan is what an installer needs done before compile: manifest files to write,
// commands to run in order, and environment for every later step.
type InstallPlan struct {
	Files map[string][]byte
	Steps [][]string
	Env   []string
}

// Installer turns declared dependencies into an install plan.
type Installer interface {
	Plan(dir string, deps []model.Dependency) (InstallPlan, error)
}

func installerFor(kind string) (Installer, error) {
	switch kind {
	case "", InstallerNone:
		return noneInstaller{}, nil
	case InstallerPip:
		return pipInstaller{}, nil
	case InstallerNpm:
		return npmInstaller{}, nil
	case InstallerGoMod:
		return goModInstaller{}, nil
	case InstallerCargo:
		return cargoInstaller{}, nil
	default:
		return nil, appErr.ValidationError("languages.installer", fmt.Sprintf("unknown installer %q", kind))
	}
}

type noneInstaller struct{}

func (noneInstaller) Plan(_ string, deps []model.Dependency) (InstallPlan, error) {
	if len(deps) > 0 {
		return InstallPlan{}, appErr.New(appErr.InvalidDependency).WithMessage("this language does not support dependencies")
	}
	return InstallPlan{}, nil
}

type pipInstaller struct{}

func (pipInstaller) Plan(dir string, deps []model.Dependency) (InstallPlan, error) {
	var req strings.Builder
	for _, d := range deps {
		switch {
		case d.Source != "":
			fmt.Fprintf(&req, "%s @ %s\n", d.Name, d.Source)
		case d.Version != "":
			fmt.Fprintf(&req, "%s==%s\n", d.Name, d.Version)
		default:
			fmt.Fprintf(&req, "%s\n", d.Name)
		}
	}
	plan := InstallPlan{Files: map[string][]byte{"requirements.txt": []byte(req.String())}}
	if len(deps) == 0 {
		return plan, nil
	}
	venv := filepath.Join(dir, ".venv")
	plan.Steps = [][]string{
		{"python3", "-m", "venv", venv},
		{filepath.Join(venv, "bin", "pip"), "install", "--no-input", "--quiet", "-r", "requirements.txt"},
	}
	plan.Env = []string{
		"VIRTUAL_ENV=" + venv,
		"PATH=" + filepath.Join(venv, "bin") + ":" + DefaultPath,
	}
	return plan, nil
}

type npmInstaller struct{}

type packageJSON struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Private      bool              `json:"private"`
	Dependencies map[string]string `json:"dependencies"`
}

func (npmInstaller) Plan(_ string, deps []model.Dependency) (InstallPlan, error) {
	pkg := packageJSON{Name: "sandbox", Version: "1.0.0", Private: true, Dependencies: map[string]string{}}
	for _, d := range deps {
		switch {
		case d.Source != "":
			pkg.Dependencies[d.Name] = d.Source
		case d.Version != "":
			pkg.Dependencies[d.Name] = d.Version
		default:
			pkg.Dependencies[d.Name] = "*"
		}
	}
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return InstallPlan{}, err
	}
	plan := InstallPlan{Files: map[string][]byte{"package.json": data}}
	if len(deps) > 0 {
		plan.Steps = [][]string{{"npm", "install", "--no-audit", "--no-fund", "--no-progress", "--loglevel=error"}}
	}
	return plan, nil
}

type goModInstaller struct{}

func (goModInstaller) Plan(_ string, deps []model.Dependency) (InstallPlan, error) {
	plan := InstallPlan{Files: map[string][]byte{"go.mod": []byte("module sandbox\n\ngo 1.21\n")}}
	if len(deps) == 0 {
		return plan, nil
	}
	for _, d := range deps {
		target := d.Name + "@latest"
		if d.Version != "" {
			target = d.Name + "@" + d.Version
		}
		plan.Steps = append(plan.Steps, []string{"go", "get", target})
	}
	plan.Steps = append(plan.Steps, []string{"go", "mod", "tidy"})
	return plan, nil
}

type cargoInstaller struct{}

func (cargoInstaller) Plan(_ string, deps []model.Dependency) (InstallPlan, error) {
	var b strings.Builder
	b.WriteString("[package]\nname = \"app\"\nversion = \"0.1.0\"\nedition = \"2021\"\n\n")
	b.WriteString("[[bin]]\nname = \"app\"\npath = \"main.rs\"\n\n[dependencies]\n")
	for _, d := range deps {
		switch {
		case d.Source != "":
			fmt.Fprintf(&b, "%s = { git = %s }\n", d.Name, strconv.Quote(d.Source))
		case d.Version != "":
			fmt.Fprintf(&b, "%s = %s\n", d.Name, strconv.Quote(d.Version))
		default:
			fmt.Fprintf(&b, "%s = \"*\"\n", d.Name)
		}
	}
	plan := InstallPlan{Files: map[string][]byte{"Cargo.toml": []byte(b.String())}}
	if len(deps) > 0 {
		plan.Steps = [][]string{{"cargo", "fetch", "--quiet"}}
	}
	return plan, nil
}
