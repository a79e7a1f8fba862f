package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ldi/tend/pkg/models"
)

var (
	statusStyles = map[models.TaskStatus]lipgloss.Style{
		models.TaskStatusReady:      lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		models.TaskStatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		models.TaskStatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.TaskStatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.TaskStatusArchived:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
	statusIcons = map[models.TaskStatus]string{
		models.TaskStatusReady:      "○",
		models.TaskStatusInProgress: "◐",
		models.TaskStatusBlocked:    "■",
		models.TaskStatusCompleted:  "✓",
		models.TaskStatusArchived:   "·",
	}

	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	streakStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// TaskLine is one row of a rendered task tree.
type TaskLine struct {
	Task  *models.Task
	Depth int
	Done  int
	Total int
}

// BuildTaskLines orders tasks depth first under their parents. Tasks whose
// parent is not in the slice are treated as roots. Progress counts only the
// children present in the slice.
func BuildTaskLines(tasks []*models.Task) []TaskLine {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	children := make(map[string][]*models.Task)
	var roots []*models.Task
	for _, t := range tasks {
		if t.ParentID != nil && byID[*t.ParentID] != nil {
			children[*t.ParentID] = append(children[*t.ParentID], t)
			continue
		}
		roots = append(roots, t)
	}

	lines := make([]TaskLine, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	var walk func(t *models.Task, depth int)
	walk = func(t *models.Task, depth int) {
		if seen[t.ID] {
			return
		}
		seen[t.ID] = true
		line := TaskLine{Task: t, Depth: depth}
		for _, c := range children[t.ID] {
			line.Total++
			if c.Status == models.TaskStatusCompleted {
				line.Done++
			}
		}
		lines = append(lines, line)
		kids := children[t.ID]
		sort.SliceStable(kids, func(i, j int) bool { return kids[i].CreatedAt.Before(kids[j].CreatedAt) })
		for _, c := range kids {
			walk(c, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
	return lines
}

// RenderTaskLines renders one line per task with its status icon and the
// details that matter for its kind.
func RenderTaskLines(lines []TaskLine, now time.Time) string {
	if len(lines) == 0 {
		return detailStyle.Italic(true).Render("No tasks") + "\n"
	}

	var s strings.Builder
	for _, l := range lines {
		t := l.Task
		style, ok := statusStyles[t.Status]
		if !ok {
			style = lipgloss.NewStyle()
		}
		s.WriteString(strings.Repeat("  ", l.Depth))
		s.WriteString(style.Render(fmt.Sprintf("%s %s", statusIcons[t.Status], t.Title)))
		if details := taskDetails(l, now); details != "" {
			s.WriteString(" ")
			s.WriteString(details)
		}
		s.WriteString("\n")
	}
	return s.String()
}

func taskDetails(l TaskLine, now time.Time) string {
	t := l.Task
	var parts []string
	if l.Total > 0 {
		parts = append(parts, detailStyle.Render(fmt.Sprintf("[%d/%d]", l.Done, l.Total)))
	}
	if t.IsHabit() && t.CurrentStreak > 0 {
		parts = append(parts, streakStyle.Render(fmt.Sprintf("streak %d", t.CurrentStreak)))
	}
	if t.DueDate != nil && t.Status != models.TaskStatusCompleted && t.Status != models.TaskStatusArchived {
		due := t.DueDate.In(now.Location()).Format("Mon Jan 2 15:04")
		if t.DueDate.Before(now) {
			parts = append(parts, overdueStyle.Render("overdue "+due))
		} else {
			parts = append(parts, detailStyle.Render("due "+due))
		}
	}
	if t.BlockedReason != nil {
		parts = append(parts, detailStyle.Render("("+*t.BlockedReason+")"))
	}
	if len(t.Tags) > 0 {
		parts = append(parts, detailStyle.Render("#"+strings.Join(t.Tags, " #")))
	}
	return strings.Join(parts, " ")
}
