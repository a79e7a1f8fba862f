package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ldi/tend/internal/lifecycle"
)

var (
	resetStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)

	nudgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	subTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	placeholderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true).
				Padding(0, 1)
)

// SweepReport renders the outcome of one owner's daily sweep as boxes of
// task titles.
type SweepReport struct {
	Reset     []string
	Nudged    []string
	Failed    []string
	Evaluated int
	Width     int
	Title     string
}

// NewSweepReport resolves task ids through names; ids without a name are
// shown as is.
func NewSweepReport(res *lifecycle.SweepResult, names map[string]string, width int) *SweepReport {
	title := func(ids []string) []string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if n, ok := names[id]; ok && n != "" {
				out = append(out, n)
			} else {
				out = append(out, id)
			}
		}
		return out
	}
	return &SweepReport{
		Reset:     title(res.StreaksReset),
		Nudged:    title(res.NudgesRaised),
		Failed:    title(res.Failed),
		Evaluated: res.Evaluated,
		Width:     width,
		Title:     fmt.Sprintf("Sweep for %s", res.OwnerID),
	}
}

func (r *SweepReport) View() string {
	var boxes []string
	if len(r.Reset) > 0 {
		boxes = append(boxes, r.renderBox("Streaks reset", r.Reset, resetStyle, "✗"))
	}
	if len(r.Nudged) > 0 {
		boxes = append(boxes, r.renderBox("Worth another look", r.Nudged, nudgeStyle, "•"))
	}
	if len(r.Failed) > 0 {
		boxes = append(boxes, r.renderBox("Could not evaluate", r.Failed, failedStyle, "?"))
	}

	var content string
	if len(boxes) == 0 {
		content = placeholderStyle.Render(fmt.Sprintf("Nothing to report (%d tasks checked)", r.Evaluated))
	} else {
		content = strings.Join(boxes, "\n")
	}

	if r.Title == "" {
		return content
	}
	return headerStyle.Render(r.Title) + "\n" + content
}

func (r *SweepReport) renderBox(title string, names []string, style lipgloss.Style, icon string) string {
	subTitle := subTitleStyle.Foreground(style.GetForeground()).Render(title)

	nameWidth := r.Width - 6
	if nameWidth < 0 {
		nameWidth = 0
	}

	var lines []string
	for _, name := range names {
		wrapped := lipgloss.NewStyle().Width(nameWidth).Render(name)
		for i, line := range strings.Split(wrapped, "\n") {
			if i == 0 {
				lines = append(lines, fmt.Sprintf("%s %s", icon, line))
			} else {
				lines = append(lines, fmt.Sprintf("  %s", line))
			}
		}
	}

	// Width excludes the border.
	boxWidth := r.Width - 2
	if boxWidth < 0 {
		boxWidth = 0
	}
	return style.Width(boxWidth).Render(subTitle + "\n" + strings.Join(lines, "\n"))
}
