// Package picker is the interactive project chooser used by `switch` when no
// reference is given.
package picker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"projectctl/internal/color"
	"projectctl/internal/errdefs"
	"projectctl/internal/project"
)

type item struct {
	name    string
	typ     project.Type
	path    string
	aliases []string
	recent  int // position in the MRU list, -1 when absent
}

func (i item) Title() string {
	if i.recent >= 0 {
		return fmt.Sprintf("%s  [%d]", i.name, i.recent)
	}
	return i.name
}

func (i item) Description() string {
	parts := []string{string(i.typ), i.path}
	if len(i.aliases) > 0 {
		parts = append(parts, "aka "+strings.Join(i.aliases, ", "))
	}
	return strings.Join(parts, "  ")
}

func (i item) FilterValue() string { return i.name + " " + strings.Join(i.aliases, " ") }

type keyMap struct {
	Choose key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Choose: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "switch"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q/esc", "cancel"),
	),
}

// Model is the bubbletea model of the picker.
type Model struct {
	list     list.Model
	chosen   string
	quitting bool
}

// New builds a picker over projects. recent is the MRU list, most recent
// first; recent projects are listed first in MRU order, the rest by name
// as given.
func New(projects []project.Project, recent []string) Model {
	rank := make(map[string]int, len(recent))
	for i, name := range recent {
		rank[name] = i
	}
	var head, tail []list.Item
	head = make([]list.Item, len(recent))
	for _, p := range projects {
		it := item{name: p.Name, typ: p.Type, path: p.Path, aliases: p.Aliases, recent: -1}
		if r, ok := rank[p.Name]; ok {
			it.recent = r
			head[r] = it
			continue
		}
		tail = append(tail, it)
	}
	items := make([]list.Item, 0, len(projects))
	for _, it := range head {
		if it != nil {
			items = append(items, it)
		}
	}
	items = append(items, tail...)

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(color.Primary).BorderForeground(color.Primary)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(color.Subtle).BorderForeground(color.Primary)

	l := list.New(items, delegate, 60, 20)
	l.Title = "Switch project"
	l.Styles.Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#FFFFFF"}).Background(color.Primary).Padding(0, 1)
	l.SetShowStatusBar(false)
	l.AdditionalShortHelpKeys = func() []key.Binding { return []key.Binding{keys.Choose} }
	l.KeyMap.Quit = keys.Quit
	return Model{list: l}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, keys.Choose):
			if it, ok := m.list.SelectedItem().(item); ok {
				m.chosen = it.name
			}
			return m, tea.Quit
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.chosen != "" || m.quitting {
		return ""
	}
	return m.list.View()
}

// Chosen returns the selected project name, empty when cancelled.
func (m Model) Chosen() string { return m.chosen }

// Pick runs the picker on the given terminal streams and returns the chosen
// project name. Cancelling returns errdefs.ErrCancelled.
func Pick(ctx context.Context, projects []project.Project, recent []string, in io.Reader, out io.Writer) (string, error) {
	if len(projects) == 0 {
		return "", fmt.Errorf("no projects registered: %w", errdefs.ErrNotFound)
	}
	p := tea.NewProgram(New(projects, recent),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("picker: %w", errdefs.ErrCancelled)
		}
		return "", fmt.Errorf("picker failed: %w", err)
	}
	name := final.(Model).Chosen()
	if name == "" {
		return "", fmt.Errorf("no project selected: %w", errdefs.ErrCancelled)
	}
	return name, nil
}
