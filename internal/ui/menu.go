package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	logoStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	itemStyle         = lipgloss.NewStyle().PaddingLeft(2)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("42")).Bold(true)
	helpStyle         = lipgloss.NewStyle().PaddingLeft(4).Foreground(lipgloss.Color("240")).Italic(true)
)

const logo = `
  __                 __
 / /____  ____  ____/ /
/ __/ _ \/ __ \/ __  /
/ /_/  __/ / / / /_/ /
\__/\___/_/ /_/\__,_/
`

type menuItem struct {
	command string
	help    string
}

var menuItems = []menuItem{
	{"status", "open tasks as a tree, with streaks and progress"},
	{"list", "open tasks as a table"},
	{"sweep", "reset lapsed streaks and surface forgotten ideas now"},
	{"serve", "HTTP API with the scheduled daily sweep"},
	{"mcp", "tools for an assistant over stdio"},
	{"init", "create a workspace in this directory"},
}

// MenuModel picks one of the top-level commands when tend runs without
// arguments.
type MenuModel struct {
	items    []menuItem
	cursor   int
	selected string
	quitting bool
}

func NewMenuModel() MenuModel {
	return MenuModel{items: menuItems}
}

func (m MenuModel) Init() tea.Cmd {
	return nil
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch s := key.String(); s {
	case "ctrl+c", "q", "esc":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "enter":
		m.selected = m.items[m.cursor].command
		return m, tea.Quit

	default:
		// Digits jump straight to an entry.
		if len(s) == 1 && s[0] >= '1' && int(s[0]-'0') <= len(m.items) {
			m.cursor = int(s[0] - '1')
			m.selected = m.items[m.cursor].command
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m MenuModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	s.WriteString(logoStyle.Render(logo))
	s.WriteString("\n\n")

	for i, item := range m.items {
		if m.cursor == i {
			s.WriteString(selectedItemStyle.Render(fmt.Sprintf("> %d %s", i+1, item.command)))
			s.WriteString("\n")
			s.WriteString(helpStyle.Render(item.help))
		} else {
			s.WriteString(itemStyle.Render(fmt.Sprintf("  %d %s", i+1, item.command)))
		}
		s.WriteString("\n")
	}

	s.WriteString("\n(j/k or arrows to move, enter or a number to run, q to quit)\n")
	return s.String()
}

func (m MenuModel) Selected() string {
	return m.selected
}

// RunMenu shows the menu and returns the chosen command, or "" when the
// user quits.
func RunMenu() (string, error) {
	p := tea.NewProgram(NewMenuModel())
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}
	return finalModel.(MenuModel).Selected(), nil
}
