package deps

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Classification tells whether a version change is expected to be
// compatible.
type Classification string

const (
	Safe     Classification = "safe"
	Breaking Classification = "breaking"
	Unknown  Classification = "unknown"
)

// Change is one package version change reported by an ecosystem tool.
type Change struct {
	Package string         `json:"package"`
	From    string         `json:"from,omitempty"`
	To      string         `json:"to,omitempty"`
	Class   Classification `json:"class"`
	// Raw holds the tool output line for changes that could not be parsed.
	Raw string `json:"raw,omitempty"`
}

// Classify compares two versions under semantic versioning. Versions are
// parsed leniently (a leading v and missing minor or patch are accepted);
// anything unparseable is Unknown.
func Classify(from, to string) Classification {
	a, err := semver.NewVersion(strings.TrimSpace(from))
	if err != nil {
		return Unknown
	}
	b, err := semver.NewVersion(strings.TrimSpace(to))
	if err != nil {
		return Unknown
	}
	if b.Major() > a.Major() {
		return Breaking
	}
	return Safe
}

func newChange(pkg, from, to string) Change {
	return Change{Package: pkg, From: from, To: to, Class: Classify(from, to)}
}

func unknownLine(line string) Change {
	return Change{Class: Unknown, Raw: strings.TrimSpace(line)}
}
