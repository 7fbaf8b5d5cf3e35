package project

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ComposeFiles are probed in this order; the first one found wins.
var ComposeFiles = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// DetectType classifies a project directory from its marker files.
//
// Precedence, first match wins: Cargo.toml (tauri when src-tauri exists),
// python markers, package.json, go.mod, pom.xml/build.gradle. Compose files
// never decide the type.
func DetectType(dir string) Type {
	if exists(dir, "Cargo.toml") {
		if exists(dir, "src-tauri") {
			return TypeTauri
		}
		return TypeRust
	}

	if exists(dir, "pyproject.toml") || exists(dir, "setup.py") || exists(dir, "requirements.txt") {
		for _, f := range []string{"requirements.txt", "pyproject.toml"} {
			content := strings.ToLower(readFile(dir, f))
			switch {
			case strings.Contains(content, "fastapi"):
				return TypeFastAPI
			case strings.Contains(content, "django"):
				return TypeDjango
			case strings.Contains(content, "flask"):
				return TypeFlask
			}
		}
		return TypePython
	}

	if exists(dir, "package.json") {
		content := strings.ToLower(readFile(dir, "package.json"))
		switch {
		case strings.Contains(content, `"next"`):
			return TypeNextJS
		case strings.Contains(content, `"nuxt"`):
			return TypeNuxt
		case strings.Contains(content, `"react"`):
			if strings.Contains(content, `"vite"`) {
				return TypeReactVite
			}
			return TypeReact
		case strings.Contains(content, `"vue"`):
			return TypeVue
		case strings.Contains(content, `"svelte"`):
			return TypeSvelte
		case strings.Contains(content, `"express"`):
			return TypeExpress
		}
		return TypeNode
	}

	if exists(dir, "go.mod") {
		return TypeGo
	}
	if exists(dir, "pom.xml") || exists(dir, "build.gradle") {
		return TypeJava
	}
	return TypeUnknown
}

// FindComposeFile returns the first compose file present in dir, relative to it.
func FindComposeFile(dir string) (string, bool) {
	for _, f := range ComposeFiles {
		if exists(dir, f) {
			return f, true
		}
	}
	return "", false
}

// DetectServices reads the container services declared in the project's
// compose file, in declaration order.
func DetectServices(dir string) ([]ServiceSpec, error) {
	file, ok := FindComposeFile(dir)
	if !ok {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return nil, err
	}
	services, err := ParseComposeServices(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	for i := range services {
		services[i].ComposeFile = file
	}
	return services, nil
}

// ParseComposeServices extracts the top-level `services:` keys and the
// first published host port of each.
func ParseComposeServices(data []byte) ([]ServiceSpec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	servicesNode := mappingValue(doc.Content[0], "services")
	if servicesNode == nil || servicesNode.Kind != yaml.MappingNode {
		return nil, nil
	}

	var specs []ServiceSpec
	for i := 0; i+1 < len(servicesNode.Content); i += 2 {
		spec := ServiceSpec{Name: servicesNode.Content[i].Value, Kind: KindContainer}
		if ports := mappingValue(servicesNode.Content[i+1], "ports"); ports != nil && ports.Kind == yaml.SequenceNode {
			for _, p := range ports.Content {
				if port := hostPort(p); port > 0 {
					spec.Port = port
					break
				}
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// hostPort handles both the short ("127.0.0.1:5432:5432/tcp") and the long
// ({published: 5432}) compose port syntax.
func hostPort(n *yaml.Node) int {
	switch n.Kind {
	case yaml.ScalarNode:
		v := strings.SplitN(n.Value, "/", 2)[0]
		parts := strings.Split(v, ":")
		if len(parts) < 2 {
			return 0
		}
		return firstPort(parts[len(parts)-2])
	case yaml.MappingNode:
		if pub := mappingValue(n, "published"); pub != nil {
			return firstPort(pub.Value)
		}
	}
	return 0
}

func firstPort(s string) int {
	s = strings.SplitN(s, "-", 2)[0]
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port <= 0 || port > 65535 {
		return 0
	}
	return port
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// DefaultCommands proposes the dev/test/build/start commands for a type.
func DefaultCommands(dir string, t Type) map[string]string {
	cmds := map[string]string{}
	switch t.Normalize() {
	case TypeRust:
		cmds["dev"] = "cargo run"
		cmds["test"] = "cargo test"
		cmds["build"] = "cargo build --release"
	case TypePython, TypeFastAPI, TypeFlask:
		if exists(dir, "manage.py") {
			cmds["dev"] = "python manage.py runserver"
			cmds["test"] = "python manage.py test"
		} else if t == TypeFlask {
			cmds["dev"] = "flask run --debug"
			cmds["test"] = "pytest"
		} else {
			cmds["dev"] = "uvicorn app.main:app --reload"
			cmds["test"] = "pytest"
		}
	case TypeDjango:
		cmds["dev"] = "python manage.py runserver"
		cmds["test"] = "python manage.py test"
	case TypeNextJS, TypeNuxt, TypeReact, TypeReactVite, TypeVue, TypeSvelte:
		cmds["dev"] = "npm run dev"
		cmds["build"] = "npm run build"
		cmds["test"] = "npm test"
	case TypeNode, TypeExpress:
		cmds["dev"] = "npm run dev"
		cmds["start"] = "npm start"
		cmds["test"] = "npm test"
	case TypeTauri:
		cmds["dev"] = "cargo tauri dev"
		cmds["build"] = "cargo tauri build"
		cmds["test"] = "cargo test"
	case TypeGo:
		cmds["dev"] = "go run ."
		cmds["test"] = "go test ./..."
		cmds["build"] = "go build -o bin/app ."
	case TypeJava:
		if exists(dir, "pom.xml") {
			cmds["build"] = "mvn package"
			cmds["test"] = "mvn test"
		} else {
			cmds["build"] = "./gradlew build"
			cmds["test"] = "./gradlew test"
		}
	}
	return cmds
}

// Detect builds a project record for dir with everything that can be
// inferred from the filesystem. The caller sets the name and path.
func Detect(dir string) (Project, error) {
	t := DetectType(dir)
	services, err := DetectServices(dir)
	if err != nil {
		return Project{}, err
	}
	return Project{
		Type:     t,
		Services: services,
		Commands: DefaultCommands(dir, t),
	}, nil
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func readFile(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return string(data)
}
