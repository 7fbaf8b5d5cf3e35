package picker

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectctl/internal/errdefs"
	"projectctl/internal/project"
)

var projects = []project.Project{
	{Name: "api", Type: project.TypeFastAPI, Path: "~/code/api"},
	{Name: "shop", Type: project.TypeNextJS, Path: "~/code/shop", Aliases: []string{"store"}},
	{Name: "tool", Type: project.TypeRust, Path: "~/code/tool"},
}

func names(m Model) []string {
	var out []string
	for _, it := range m.list.Items() {
		out = append(out, it.(item).name)
	}
	return out
}

func press(m Model, msg tea.KeyMsg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestOrderPutsRecentFirst(t *testing.T) {
	m := New(projects, []string{"tool", "shop"})
	assert.Equal(t, []string{"tool", "shop", "api"}, names(m))

	m = New(projects, []string{"gone", "api"})
	assert.Equal(t, []string{"api", "shop", "tool"}, names(m))
}

func TestItemRendering(t *testing.T) {
	it := item{name: "shop", typ: project.TypeNextJS, path: "~/code/shop", aliases: []string{"store"}, recent: 1}
	assert.Equal(t, "shop  [1]", it.Title())
	assert.Equal(t, "nextjs  ~/code/shop  aka store", it.Description())
	assert.Equal(t, "shop store", it.FilterValue())
}

func TestChooseWithEnter(t *testing.T) {
	m := New(projects, nil)
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyDown})
	m, cmd := press(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, "shop", m.Chosen())
	assert.Empty(t, m.View())
}

func TestQuitChoosesNothing(t *testing.T) {
	m := New(projects, nil)
	m, cmd := press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Empty(t, m.Chosen())
	assert.True(t, m.quitting)
}

func TestViewListsProjects(t *testing.T) {
	m := New(projects, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	view := next.(Model).View()
	assert.True(t, strings.Contains(view, "Switch project"))
	assert.Contains(t, view, "api")
}

func TestPickWithoutProjects(t *testing.T) {
	_, err := Pick(context.Background(), nil, nil, strings.NewReader(""), &strings.Builder{})
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}
