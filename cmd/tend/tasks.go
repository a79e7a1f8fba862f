package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ldi/tend/internal/db"
	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/internal/lifecycle"
	"github.com/ldi/tend/internal/ui"
	"github.com/ldi/tend/pkg/models"
)

func (a *app) addCmd() *cobra.Command {
	var (
		description  string
		kind         string
		parentID     string
		parentTitle  string
		due          string
		tags         []string
		repeat       string
		interval     int
		unit         string
		anchor       string
		skip         string
		targetCount  int
		targetPeriod string
		nudgeDays    int
		repeating    bool
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task, habit or repeating chore",
		Example: `  tend add "water plants" --repeat fixed --interval 3 --unit days --anchor 2026-03-01T08:00
  tend add stretch --kind habit --repeat after --interval 1 --unit days
  tend add "learn guitar" --nudge-days 14
  tend add "book flights" --parent-title trip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := &models.Task{
				OwnerID:     a.cfg.Owner,
				Title:       args[0],
				Description: description,
				Kind:        models.TaskKind(kind),
				Tags:        tags,
				Repeating:   repeating,
			}
			if parentID != "" {
				task.ParentID = &parentID
				task.OwnerID = ""
			}
			if due != "" {
				t, err := a.parseWhen(due)
				if err != nil {
					return err
				}
				task.DueDate = &t
			}
			if cmd.Flags().Changed("target-count") || cmd.Flags().Changed("target-period") {
				task.TargetFrequency = &models.Frequency{Count: targetCount, Period: models.Period(targetPeriod)}
			}
			if cmd.Flags().Changed("nudge-days") {
				task.NudgeThresholdDays = &nudgeDays
			}

			var rec *models.Recurrence
			if repeat != "" {
				rec = &models.Recurrence{Interval: interval, Unit: models.Unit(unit)}
				switch repeat {
				case "fixed":
					rec.Kind = models.RecurrenceFixedSchedule
				case "after":
					rec.Kind = models.RecurrenceAfterCompletion
				default:
					return fmt.Errorf("--repeat must be fixed or after, got %q", repeat)
				}
				if anchor != "" {
					t, err := a.parseWhen(anchor)
					if err != nil {
						return err
					}
					rec.AnchorDate = &t
				}
				days, err := models.ParseWeekdays(skip)
				if err != nil {
					return err
				}
				rec.ExcludeWeekdays = days
			}

			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{Publish: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			created, err := rt.coord.CreateBatch(ctx, []lifecycle.NewTask{{Task: task, Recurrence: rec, ParentTitle: parentTitle}})
			if err != nil {
				return userError(err)
			}
			t := created[0]
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created %s %q (%s)\n", t.Kind, t.Title, t.ID)
			if t.DueDate != nil {
				fmt.Fprintf(out, "  due %s\n", a.formatTime(*t.DueDate))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&description, "description", "d", "", "Task description")
	f.StringVar(&kind, "kind", string(models.TaskKindStandard), "Task kind (standard, habit)")
	f.StringVar(&parentID, "parent", "", "Parent task id")
	f.StringVar(&parentTitle, "parent-title", "", "Parent task title")
	f.StringVar(&due, "due", "", "Due date")
	f.StringSliceVarP(&tags, "tag", "t", nil, "Tag (repeatable)")
	f.StringVar(&repeat, "repeat", "", "Repeat pattern (fixed, after)")
	f.IntVar(&interval, "interval", 1, "Repeat every N units")
	f.StringVar(&unit, "unit", string(models.UnitDays), "Interval unit (hours, days, weeks, months)")
	f.StringVar(&anchor, "anchor", "", "Start of a fixed schedule")
	f.StringVar(&skip, "skip", "", "Weekdays a fixed schedule skips, e.g. sat,sun")
	f.IntVar(&targetCount, "target-count", 1, "Habit completions per period")
	f.StringVar(&targetPeriod, "target-period", string(models.PeriodDay), "Habit period (day, week, month)")
	f.IntVar(&nudgeDays, "nudge-days", 0, "Resurface a dateless task after this many idle days")
	f.BoolVar(&repeating, "repeating", false, "Return a someday task to ready after completion")
	return cmd
}

func (a *app) completeCmd() *cobra.Command {
	var (
		at             string
		retroactive    bool
		allowUncounted bool
	)
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var when time.Time
			if at != "" {
				t, err := a.parseWhen(at)
				if err != nil {
					return err
				}
				when = t
			}

			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{Publish: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.coord.CompleteTask(ctx, args[0], when, lifecycle.CompleteOptions{
				Retroactive:    retroactive,
				AllowUncounted: allowUncounted,
			})
			if err != nil {
				return userError(err)
			}
			a.printCompletion(ctx, cmd.OutOrStdout(), rt.coord, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "When the task was done (defaults to now)")
	cmd.Flags().BoolVar(&retroactive, "retroactive", false, "Record the completion at --at, in the past")
	cmd.Flags().BoolVar(&allowUncounted, "allow-uncounted", false, "Record a late habit completion that no longer counts toward the streak")
	return cmd
}

func (a *app) printCompletion(ctx context.Context, out io.Writer, coord *lifecycle.Coordinator, res *lifecycle.CompleteResult) {
	t := res.Task
	fmt.Fprintf(out, "✓ Completed %q\n", t.Title)
	if t.IsHabit() {
		if res.Completion.CountedTowardStreak {
			fmt.Fprintf(out, "  streak %d (longest %d)\n", t.CurrentStreak, t.LongestStreak)
		} else {
			fmt.Fprintln(out, "  not counted toward the streak")
		}
	}
	if next := res.NewOccurrence; next != nil && next.DueDate != nil {
		fmt.Fprintf(out, "  next %s due %s\n", next.ID, a.formatTime(*next.DueDate))
	}
	for _, c := range res.Cascaded {
		title := c.TaskID
		if other, err := coord.GetTask(ctx, c.TaskID); err == nil {
			title = other.Title
		}
		fmt.Fprintf(out, "  ✓ also completed %q\n", title)
	}
}

func (a *app) uncompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uncomplete <id>",
		Short: "Undo a completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{Publish: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.coord.UncompleteTask(ctx, args[0])
			if err != nil {
				return userError(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "↺ Reopened %q\n", res.Task.Title)
			if res.Withdrawn != nil {
				fmt.Fprintf(out, "  withdrew next occurrence %s\n", res.Withdrawn.ID)
			}
			for _, p := range res.Reopened {
				fmt.Fprintf(out, "  ↺ also reopened %q\n", p.Title)
			}
			return nil
		},
	}
}

func (a *app) setStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status> [reason]",
		Short: "Move a task to another status",
		Long:  "Statuses: ready, in_progress, blocked, completed, archived. Blocking needs a reason.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.TaskStatus(args[1])
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			var reason string
			if len(args) == 3 {
				reason = args[2]
			}

			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{Publish: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			task, err := rt.coord.TransitionStatus(ctx, args[0], status, reason)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %q is now %s\n", task.Title, task.Status)
			return nil
		},
	}
}

func (a *app) parentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parent <id> [parent-id]",
		Short: "Move a task under another task, or detach it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var parentID string
			if len(args) == 2 {
				parentID = args[1]
			}

			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			task, err := rt.coord.SetParent(ctx, args[0], parentID)
			if err != nil {
				return userError(err)
			}
			if task.ParentID == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %q is now a top-level task\n", task.Title)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %q moved under %s\n", task.Title, *task.ParentID)
			}
			return nil
		},
	}
}

func (a *app) snoozeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snooze <id> <days>",
		Short: "Keep a someday task quiet for a number of days",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("days must be a number: %w", err)
			}

			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			task, err := rt.coord.Snooze(ctx, args[0], days)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %q snoozed until %s\n", task.Title, a.formatTime(*task.LastNudgedAt))
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var (
		status string
		kind   string
		tag    string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			tasks, err := rt.db.ListTasks(ctx, db.TaskFilter{
				OwnerID: a.cfg.Owner,
				Status:  models.TaskStatus(status),
				Kind:    models.TaskKind(kind),
				Tag:     tag,
				Open:    !all && status == "",
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s %-30s %-9s %-12s %-16s\n", "ID", "TITLE", "KIND", "STATUS", "DUE")
			fmt.Fprintln(out, "------------------------------------------------------------------------------------------------------------")
			for _, t := range tasks {
				hasChildren, err := rt.coord.HasChildren(ctx, t.ID)
				if err != nil {
					return err
				}
				dueStr := "-"
				if t.DueDate != nil {
					dueStr = a.formatTime(*t.DueDate)
				}
				fmt.Fprintf(out, "%-36s %-30s %-9s %-12s %-16s\n", t.ID, truncate(t.Title, 30), t.EffectiveKind(hasChildren), t.Status, dueStr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (standard, habit, parent)")
	cmd.Flags().StringVar(&tag, "tag", "", "Filter by tag")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include completed and archived tasks")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show open tasks as a tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			tasks, err := rt.db.ListTasks(ctx, db.TaskFilter{OwnerID: a.cfg.Owner})
			if err != nil {
				return err
			}

			counts := make(map[models.TaskStatus]int)
			var visible []*models.Task
			for _, t := range tasks {
				counts[t.Status]++
				if !engine.IsTerminal(t.Status) {
					visible = append(visible, t)
					continue
				}
				// Completed children stay visible under open parents so progress reads right.
				if t.Status == models.TaskStatusCompleted && t.ParentID != nil {
					visible = append(visible, t)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tasks for %s\n", a.cfg.Owner)
			fmt.Fprintln(out, "==========")
			fmt.Fprintf(out, "Ready: %d  In progress: %d  Blocked: %d  Completed: %d  Archived: %d\n\n",
				counts[models.TaskStatusReady], counts[models.TaskStatusInProgress], counts[models.TaskStatusBlocked],
				counts[models.TaskStatusCompleted], counts[models.TaskStatusArchived])
			fmt.Fprint(out, ui.RenderTaskLines(openTrees(ui.BuildTaskLines(visible)), rt.coord.Now()))
			return nil
		},
	}
}

// openTrees drops completed roots that were kept only as someone's child.
func openTrees(lines []ui.TaskLine) []ui.TaskLine {
	out := lines[:0]
	skipping := false
	for _, l := range lines {
		if l.Depth == 0 {
			skipping = engine.IsTerminal(l.Task.Status)
		}
		if !skipping {
			out = append(out, l)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// userError keeps the underlying error for errors.Is but leads with a
// sentence a person can act on.
func userError(err error) error {
	if engine.Kind(err) == nil {
		return err
	}
	return fmt.Errorf("%s: %w", engine.UserMessage(err), err)
}
