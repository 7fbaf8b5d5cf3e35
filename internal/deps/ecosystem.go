// Package deps checks and updates project dependencies across package
// ecosystems.
package deps

import (
	"os"
	"path/filepath"

	"projectctl/internal/project"
)

// Ecosystem groups package managers by language.
type Ecosystem string

const (
	EcosystemRust   Ecosystem = "rust"
	EcosystemNode   Ecosystem = "node"
	EcosystemPython Ecosystem = "python"
	EcosystemGo     Ecosystem = "go"
)

// Manager describes how to query and update one package manager.
type Manager struct {
	Name      string
	Ecosystem Ecosystem
	Outdated  []string
	Update    []string
	Parse     Parser
	// ParseStderr is set for tools that report changes on stderr.
	ParseStderr bool
	// OutdatedExitOK lists non-zero exit codes that only mean "something is
	// outdated".
	OutdatedExitOK []int
	// Subdir is relative to the project path (tauri keeps Cargo.toml in src-tauri).
	Subdir string
}

var (
	cargo = Manager{
		Name: "cargo", Ecosystem: EcosystemRust,
		Outdated: []string{"cargo", "update", "--dry-run"}, Update: []string{"cargo", "update"},
		Parse: parseCargo, ParseStderr: true,
	}
	npm = Manager{
		Name: "npm", Ecosystem: EcosystemNode,
		Outdated: []string{"npm", "outdated", "--json"}, Update: []string{"npm", "update"},
		Parse: parseNpm, OutdatedExitOK: []int{1},
	}
	yarn = Manager{
		Name: "yarn", Ecosystem: EcosystemNode,
		Outdated: []string{"yarn", "outdated"}, Update: []string{"yarn", "upgrade"},
		Parse: parseTable, OutdatedExitOK: []int{1},
	}
	pnpm = Manager{
		Name: "pnpm", Ecosystem: EcosystemNode,
		Outdated: []string{"pnpm", "outdated"}, Update: []string{"pnpm", "update"},
		Parse: parseTable, OutdatedExitOK: []int{1},
	}
	pip = Manager{
		Name: "pip", Ecosystem: EcosystemPython,
		Outdated: []string{"pip", "list", "--outdated", "--format", "json"},
		Update:   []string{"pip", "install", "--upgrade", "-r", "requirements.txt"},
		Parse:    parsePip,
	}
	poetry = Manager{
		Name: "poetry", Ecosystem: EcosystemPython,
		Outdated: []string{"poetry", "show", "--outdated"}, Update: []string{"poetry", "update"},
		Parse: parsePoetry,
	}
	pipenv = Manager{
		Name: "pipenv", Ecosystem: EcosystemPython,
		Outdated: []string{"pipenv", "update", "--outdated"}, Update: []string{"pipenv", "update"},
		Parse: parsePipenv, OutdatedExitOK: []int{1},
	}
	gomod = Manager{
		Name: "go", Ecosystem: EcosystemGo,
		Outdated: []string{"go", "list", "-m", "-u", "all"}, Update: []string{"go", "get", "-u", "./..."},
		Parse: parseGo,
	}
)

// Managers returns every supported manager.
func Managers() []Manager {
	return []Manager{cargo, npm, yarn, pnpm, pip, poetry, pipenv, gomod}
}

func has(dir string, names ...string) bool {
	for _, n := range names {
		if _, err := os.Stat(filepath.Join(dir, n)); err == nil {
			return true
		}
	}
	return false
}

// Detect returns the managers that apply to dir, at most one per
// ecosystem. Lock files decide between managers of the same ecosystem.
// When no marker file is present the declared type picks its default
// manager.
func Detect(dir string, t project.Type) []Manager {
	var out []Manager

	switch {
	case has(dir, "Cargo.toml"):
		out = append(out, cargo)
	case has(dir, filepath.Join("src-tauri", "Cargo.toml")):
		m := cargo
		m.Subdir = "src-tauri"
		out = append(out, m)
	}

	switch {
	case has(dir, "pnpm-lock.yaml"):
		out = append(out, pnpm)
	case has(dir, "yarn.lock"):
		out = append(out, yarn)
	case has(dir, "package.json"):
		out = append(out, npm)
	}

	switch {
	case has(dir, "poetry.lock"):
		out = append(out, poetry)
	case has(dir, "Pipfile"):
		out = append(out, pipenv)
	case has(dir, "requirements.txt"):
		out = append(out, pip)
	case has(dir, "pyproject.toml", "setup.py"):
		m := pip
		m.Update = []string{"pip", "install", "--upgrade", "-e", "."}
		out = append(out, m)
	}

	if has(dir, "go.mod") {
		out = append(out, gomod)
	}

	if len(out) == 0 {
		switch t.Normalize() {
		case project.TypeRust, project.TypeTauri:
			out = append(out, cargo)
		case project.TypeGo:
			out = append(out, gomod)
		default:
			switch t.Family() {
			case project.FamilyNodeWeb:
				out = append(out, npm)
			case project.FamilyPythonWeb:
				out = append(out, pip)
			}
		}
	}
	return out
}
