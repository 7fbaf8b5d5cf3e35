// Package envplan computes the declarative environment-activation plan of a
// project. The plan is printed as shell lines and sourced by the `pj` shell
// function; nothing here changes the calling process's own state.
package envplan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"projectctl/internal/project"
	"projectctl/pkg/logging"
)

// ProjectVar is exported in every plan so tools can tell which project is active.
const ProjectVar = "PROJECTCTL_PROJECT"

var venvDirs = []string{".venv", "venv", "env"}

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Activation describes one interpreter/runtime to activate.
type Activation struct {
	Runtime string `json:"runtime"`          // "python" or "node"
	Script  string `json:"script,omitempty"` // activation script to source
	Version string `json:"version,omitempty"`
	Source  string `json:"source,omitempty"` // file the version pin came from
}

// Plan is the environment-activation plan of a project.
type Plan struct {
	Project     string            `json:"project"`
	Dir         string            `json:"dir"`
	Activations []Activation      `json:"activations,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// Build computes the plan for p. It only probes the filesystem.
func Build(p project.Project) (Plan, error) {
	dir, err := p.ExpandedPath()
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Project: p.Name,
		Dir:     dir,
		Env:     map[string]string{ProjectVar: p.Name},
	}
	for k, v := range p.Env {
		if !validName.MatchString(k) {
			logging.Warn("EnvPlanner", "project %s: skipping invalid variable name %q", p.Name, k)
			continue
		}
		plan.Env[k] = v
	}

	if venv := findVenv(dir); venv != "" {
		plan.Activations = append(plan.Activations, Activation{
			Runtime: "python",
			Script:  filepath.Join(venv, "bin", "activate"),
			Version: readPin(filepath.Join(dir, ".python-version")),
			Source:  venv,
		})
	} else if v, src := pythonPin(dir, p.Env); v != "" {
		plan.Activations = append(plan.Activations, Activation{Runtime: "python", Version: v, Source: src})
	}

	if v, src := nodePin(dir, p.Env); v != "" {
		plan.Activations = append(plan.Activations, Activation{Runtime: "node", Version: v, Source: src})
	}

	return plan, nil
}

func findVenv(dir string) string {
	for _, d := range venvDirs {
		venv := filepath.Join(dir, d)
		if _, err := os.Stat(filepath.Join(venv, "bin", "activate")); err == nil {
			return venv
		}
	}
	return ""
}

func pythonPin(dir string, env map[string]string) (string, string) {
	if v := readPin(filepath.Join(dir, ".python-version")); v != "" {
		return v, ".python-version"
	}
	if v := env["PYTHON_VERSION"]; v != "" {
		return v, "env"
	}
	return "", ""
}

func nodePin(dir string, env map[string]string) (string, string) {
	for _, f := range []string{".nvmrc", ".node-version"} {
		if v := readPin(filepath.Join(dir, f)); v != "" {
			return v, f
		}
	}
	if v := env["NODE_VERSION"]; v != "" {
		return v, "env"
	}
	return "", ""
}

func readPin(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}

// VenvDir returns the virtualenv root of the first python activation with a script.
func (p Plan) VenvDir() string {
	for _, a := range p.Activations {
		if a.Runtime == "python" && a.Script != "" {
			return filepath.Dir(filepath.Dir(a.Script))
		}
	}
	return ""
}

// Environ merges the plan into a base environment (os.Environ form) for
// child processes: overrides replace inherited values and an active
// virtualenv is put first on PATH.
func (p Plan) Environ(base []string) []string {
	vars := map[string]string{}
	order := []string{}
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := vars[k]; !seen {
			order = append(order, k)
		}
		vars[k] = v
	}
	set := func(k, v string) {
		if _, seen := vars[k]; !seen {
			order = append(order, k)
		}
		vars[k] = v
	}

	for _, k := range p.sortedKeys() {
		set(k, p.Env[k])
	}
	if venv := p.VenvDir(); venv != "" {
		set("VIRTUAL_ENV", venv)
		bin := filepath.Join(venv, "bin")
		if path := vars["PATH"]; path != "" {
			set("PATH", bin+string(os.PathListSeparator)+path)
		} else {
			set("PATH", bin)
		}
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+vars[k])
	}
	return out
}

func (p Plan) sortedKeys() []string {
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary is a short human description used by `switch` and `info`.
func (p Plan) Summary() []string {
	lines := []string{fmt.Sprintf("directory: %s", p.Dir)}
	for _, a := range p.Activations {
		switch {
		case a.Script != "" && a.Version != "":
			lines = append(lines, fmt.Sprintf("%s: %s (%s)", a.Runtime, a.Source, a.Version))
		case a.Script != "":
			lines = append(lines, fmt.Sprintf("%s: %s", a.Runtime, a.Source))
		default:
			lines = append(lines, fmt.Sprintf("%s: %s (from %s)", a.Runtime, a.Version, a.Source))
		}
	}
	for _, k := range p.sortedKeys() {
		if k == ProjectVar {
			continue
		}
		lines = append(lines, fmt.Sprintf("env: %s=%s", k, p.Env[k]))
	}
	return lines
}
