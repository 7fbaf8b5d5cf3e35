package deps

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Parser turns a tool's outdated output into changes.
type Parser func(output []byte) ([]Change, error)

func lines(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// parseCargo reads `cargo update --dry-run`, which reports on stderr:
//
//	Updating serde v1.0.190 -> v1.0.193
func parseCargo(data []byte) ([]Change, error) {
	var changes []Change
	for _, l := range lines(data) {
		f := strings.Fields(l)
		switch {
		case hasAnyPrefix(l, "Updating crates.io", "Updating git repository", "Updating `", "Locking", "warning:", "note:", "Blocking"):
		case (f[0] == "Updating" || f[0] == "Downgrading") && len(f) >= 5 && f[3] == "->":
			changes = append(changes, newChange(f[1], f[2], f[4]))
		case (f[0] == "Adding" || f[0] == "Removing") && len(f) >= 3:
			c := Change{Package: f[1], Class: Unknown}
			if f[0] == "Adding" {
				c.To = f[2]
			} else {
				c.From = f[2]
			}
			changes = append(changes, c)
		default:
			changes = append(changes, unknownLine(l))
		}
	}
	return changes, nil
}

// parseNpm reads `npm outdated --json`.
func parseNpm(data []byte) ([]Change, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var doc map[string]struct {
		Current string `json:"current"`
		Wanted  string `json:"wanted"`
		Latest  string `json:"latest"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse npm outdated output: %w", err)
	}
	names := make([]string, 0, len(doc))
	for n := range doc {
		names = append(names, n)
	}
	sort.Strings(names)

	changes := make([]Change, 0, len(names))
	for _, n := range names {
		e := doc[n]
		changes = append(changes, newChange(n, e.Current, e.Latest))
	}
	return changes, nil
}

// parsePip reads `pip list --outdated --format json`.
func parsePip(data []byte) ([]Change, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var rows []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Latest  string `json:"latest_version"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse pip output: %w", err)
	}
	changes := make([]Change, 0, len(rows))
	for _, r := range rows {
		changes = append(changes, newChange(r.Name, r.Version, r.Latest))
	}
	return changes, nil
}

var boxDrawing = strings.NewReplacer(
	"│", " ", "┌", " ", "┐", " ", "└", " ", "┘", " ", "├", " ", "┤", " ",
	"┬", " ", "┴", " ", "┼", " ", "─", " ", "║", " ", "═", " ",
)

// markers that some tools put next to package names
var tableNoise = map[string]bool{"(dev)": true, "(optional)": true, "(!)": true}

func tableFields(l string) []string {
	var out []string
	for _, f := range strings.Fields(boxDrawing.Replace(l)) {
		if !tableNoise[f] {
			out = append(out, f)
		}
	}
	return out
}

// parseTable reads column-aligned outdated reports (yarn, pnpm). Rows
// before the header line starting with "Package" are skipped.
func parseTable(data []byte) ([]Change, error) {
	var changes []Change
	current, latest := -1, -1
	for _, l := range lines(data) {
		f := tableFields(l)
		if len(f) == 0 {
			continue
		}
		if current < 0 {
			if f[0] == "Package" {
				for i, col := range f {
					switch col {
					case "Current":
						current = i
					case "Latest":
						latest = i
					}
				}
			}
			continue
		}
		if hasAnyPrefix(l, "Done in", "info ", "warning ") {
			continue
		}
		if len(f) <= current || len(f) <= latest || latest < 0 {
			changes = append(changes, unknownLine(l))
			continue
		}
		changes = append(changes, newChange(f[0], f[current], f[latest]))
	}
	return changes, nil
}

// parsePoetry reads `poetry show --outdated`: name, current, latest, description.
func parsePoetry(data []byte) ([]Change, error) {
	var changes []Change
	for _, l := range lines(data) {
		f := tableFields(l)
		if len(f) < 3 {
			changes = append(changes, unknownLine(l))
			continue
		}
		changes = append(changes, newChange(f[0], f[1], f[2]))
	}
	return changes, nil
}

var pipenvLine = regexp.MustCompile(`Package '([^']+)' out-of-date: .*'installed': '([^']*)'.*'latest': '([^']*)'`)

// parsePipenv reads `pipenv update --outdated`.
func parsePipenv(data []byte) ([]Change, error) {
	var changes []Change
	for _, l := range lines(data) {
		if m := pipenvLine.FindStringSubmatch(l); m != nil {
			changes = append(changes, newChange(m[1], m[2], m[3]))
			continue
		}
		if hasAnyPrefix(l, "All packages are up to date", "Skipped Update", "Courtesy Notice", "Loading .env") {
			continue
		}
		changes = append(changes, unknownLine(l))
	}
	return changes, nil
}

// parseGo reads `go list -m -u all`; only lines with an [update] count.
func parseGo(data []byte) ([]Change, error) {
	var changes []Change
	for _, l := range lines(data) {
		if !strings.Contains(l, "[") {
			continue
		}
		f := strings.Fields(l)
		if len(f) < 3 || !strings.HasPrefix(f[2], "[") || !strings.HasSuffix(f[2], "]") {
			changes = append(changes, unknownLine(l))
			continue
		}
		changes = append(changes, newChange(f[0], f[1], strings.Trim(f[2], "[]")))
	}
	return changes, nil
}
