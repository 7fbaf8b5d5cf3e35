package color

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	Primary = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}
	Success = lipgloss.AdaptiveColor{Light: "#05A167", Dark: "#05D176"}
	Error   = lipgloss.AdaptiveColor{Light: "#E06A56", Dark: "#F97171"}
	Warning = lipgloss.AdaptiveColor{Light: "#E0A956", Dark: "#F9C171"}
	Info    = lipgloss.AdaptiveColor{Light: "#5A9FE0", Dark: "#71B7F9"}
	Subtle  = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
)

var (
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	InfoStyle    = lipgloss.NewStyle().Foreground(Info)
	SubtleStyle  = lipgloss.NewStyle().Foreground(Subtle)
	// ActiveStyle marks the most recently used project in listings.
	ActiveStyle = lipgloss.NewStyle().Bold(true).Foreground(Success)
)

// Initialize forces the background assumption used by adaptive colors.
func Initialize(isDarkMode bool) {
	lipgloss.SetHasDarkBackground(isDarkMode)
}

// Disable strips all styling, for --json output and NO_COLOR.
func Disable() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// FromEnv applies PROJECTCTL_THEME (dark or light) and NO_COLOR.
func FromEnv() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		Disable()
	}
	switch strings.ToLower(os.Getenv("PROJECTCTL_THEME")) {
	case "dark":
		Initialize(true)
	case "light":
		Initialize(false)
	}
}

// ForStatus maps a service status label to its style.
func ForStatus(status string) lipgloss.Style {
	switch status {
	case "running":
		return SuccessStyle
	case "starting", "stopping":
		return InfoStyle
	case "unhealthy":
		return WarningStyle
	case "failed":
		return ErrorStyle
	default:
		return SubtleStyle
	}
}

// ForClass maps a dependency change classification to its style.
func ForClass(class string) lipgloss.Style {
	switch class {
	case "safe":
		return SuccessStyle
	case "breaking":
		return ErrorStyle
	default:
		return WarningStyle
	}
}

// ForOutcome maps a dependency update outcome to its style.
func ForOutcome(outcome string) lipgloss.Style {
	switch outcome {
	case "success":
		return SuccessStyle
	case "partial-failure":
		return WarningStyle
	default:
		return ErrorStyle
	}
}
