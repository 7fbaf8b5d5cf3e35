package color

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		isDarkMode bool
		expected   bool
	}{
		{"set dark mode", true, true},
		{"set light mode", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Initialize(tt.isDarkMode)
			assert.Equal(t, tt.expected, lipgloss.HasDarkBackground())
		})
	}
}

func TestFromEnvTheme(t *testing.T) {
	t.Setenv("PROJECTCTL_THEME", "light")
	Initialize(true)
	FromEnv()
	assert.False(t, lipgloss.HasDarkBackground())

	t.Setenv("PROJECTCTL_THEME", "DARK")
	FromEnv()
	assert.True(t, lipgloss.HasDarkBackground())
}

func TestStyleMappings(t *testing.T) {
	fg := func(s lipgloss.Style) lipgloss.TerminalColor { return s.GetForeground() }

	assert.Equal(t, fg(SuccessStyle), fg(ForStatus("running")))
	assert.Equal(t, fg(InfoStyle), fg(ForStatus("starting")))
	assert.Equal(t, fg(WarningStyle), fg(ForStatus("unhealthy")))
	assert.Equal(t, fg(ErrorStyle), fg(ForStatus("failed")))
	assert.Equal(t, fg(SubtleStyle), fg(ForStatus("stopped")))

	assert.Equal(t, fg(SuccessStyle), fg(ForClass("safe")))
	assert.Equal(t, fg(ErrorStyle), fg(ForClass("breaking")))
	assert.Equal(t, fg(WarningStyle), fg(ForClass("unknown")))

	assert.Equal(t, fg(WarningStyle), fg(ForOutcome("partial-failure")))
	assert.Equal(t, fg(ErrorStyle), fg(ForOutcome("failure")))
}

func TestDisableRendersPlain(t *testing.T) {
	Disable()
	assert.Equal(t, "running", ForStatus("running").Render("running"))
}
