package envplan

import (
	"fmt"
	"strings"
)

// Shell selects the syntax of rendered plan lines.
type Shell string

const (
	ShellPOSIX Shell = "sh" // bash, zsh and other POSIX shells
	ShellFish  Shell = "fish"
)

// ParseShell maps a shell name or path to a supported syntax.
func ParseShell(s string) (Shell, error) {
	name := s
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "", "sh", "bash", "zsh", "dash", "ksh":
		return ShellPOSIX, nil
	case "fish":
		return ShellFish, nil
	default:
		return "", fmt.Errorf("unsupported shell %q (supported: bash, zsh, fish)", s)
	}
}

// Render emits the plan as shell-sourceable lines.
func (p Plan) Render(sh Shell) string {
	var b strings.Builder
	switch sh {
	case ShellFish:
		fmt.Fprintf(&b, "cd %s\n", quoteFish(p.Dir))
		for _, k := range p.sortedKeys() {
			fmt.Fprintf(&b, "set -gx %s %s\n", k, quoteFish(p.Env[k]))
		}
		for _, a := range p.Activations {
			switch {
			case a.Script != "":
				fmt.Fprintf(&b, "test -f %[1]s; and source %[1]s\n", quoteFish(a.Script+".fish"))
			case a.Runtime == "node":
				fmt.Fprintf(&b, "type -q nvm; and nvm use %s >/dev/null\n", quoteFish(a.Version))
			case a.Runtime == "python":
				fmt.Fprintf(&b, "type -q pyenv; and pyenv shell %s\n", quoteFish(a.Version))
			}
		}
	default:
		fmt.Fprintf(&b, "cd %s\n", quotePOSIX(p.Dir))
		for _, k := range p.sortedKeys() {
			fmt.Fprintf(&b, "export %s=%s\n", k, quotePOSIX(p.Env[k]))
		}
		for _, a := range p.Activations {
			switch {
			case a.Script != "":
				fmt.Fprintf(&b, ". %s\n", quotePOSIX(a.Script))
			case a.Runtime == "node":
				fmt.Fprintf(&b, "command -v nvm >/dev/null 2>&1 && nvm use %s >/dev/null\n", quotePOSIX(a.Version))
			case a.Runtime == "python":
				fmt.Fprintf(&b, "command -v pyenv >/dev/null 2>&1 && pyenv shell %s\n", quotePOSIX(a.Version))
			}
		}
	}
	return b.String()
}

func quotePOSIX(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteFish(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
