package project

import (
	"fmt"
	"sort"
	"strings"
)

// Type is the detected or declared kind of a project. The set is closed;
// values outside it are treated as TypeUnknown by every consumer.
type Type string

const (
	TypeRust      Type = "rust"
	TypeTauri     Type = "tauri"
	TypePython    Type = "python"
	TypeFastAPI   Type = "fastapi"
	TypeDjango    Type = "django"
	TypeFlask     Type = "flask"
	TypeNode      Type = "node"
	TypeNextJS    Type = "nextjs"
	TypeNuxt      Type = "nuxt"
	TypeReact     Type = "react"
	TypeReactVite Type = "react-vite"
	TypeVue       Type = "vue"
	TypeSvelte    Type = "svelte"
	TypeExpress   Type = "express"
	TypeGo        Type = "go"
	TypeJava      Type = "java"
	TypeUnknown   Type = "unknown"
)

// Family groups types by runtime environment.
type Family string

const (
	FamilyPythonWeb     Family = "python-web"
	FamilyNodeWeb       Family = "node-web"
	FamilyNativeBinary  Family = "native-binary"
	FamilyDesktopHybrid Family = "desktop-hybrid"
	FamilyUnknown       Family = "unknown"
)

var families = map[Type]Family{
	TypeRust:      FamilyNativeBinary,
	TypeGo:        FamilyNativeBinary,
	TypeJava:      FamilyNativeBinary,
	TypeTauri:     FamilyDesktopHybrid,
	TypePython:    FamilyPythonWeb,
	TypeFastAPI:   FamilyPythonWeb,
	TypeDjango:    FamilyPythonWeb,
	TypeFlask:     FamilyPythonWeb,
	TypeNode:      FamilyNodeWeb,
	TypeNextJS:    FamilyNodeWeb,
	TypeNuxt:      FamilyNodeWeb,
	TypeReact:     FamilyNodeWeb,
	TypeReactVite: FamilyNodeWeb,
	TypeVue:       FamilyNodeWeb,
	TypeSvelte:    FamilyNodeWeb,
	TypeExpress:   FamilyNodeWeb,
	TypeUnknown:   FamilyUnknown,
}

// Known reports whether t is a member of the closed type set.
func (t Type) Known() bool {
	_, ok := families[t]
	return ok
}

// Family returns the runtime family of t.
func (t Type) Family() Family {
	if f, ok := families[t]; ok {
		return f
	}
	return FamilyUnknown
}

// Normalize maps values outside the closed set to TypeUnknown.
func (t Type) Normalize() Type {
	if t.Known() {
		return t
	}
	return TypeUnknown
}

// ParseType validates user input such as `add --type`.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Known() {
		return TypeUnknown, fmt.Errorf("unknown project type %q (expected one of %s)", s, strings.Join(TypeNames(), ", "))
	}
	return t, nil
}

// TypeNames lists the closed type set in stable order.
func TypeNames() []string {
	names := make([]string, 0, len(families))
	for t := range families {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}
