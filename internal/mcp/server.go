package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ldi/tend/internal/db"
	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/internal/lifecycle"
	"github.com/ldi/tend/pkg/models"
)

const defaultSession = "default"

type Options struct {
	// Owner is used when a tool call does not name one.
	Owner   string
	Version string
}

type tools struct {
	coord *lifecycle.Coordinator
	db    *db.DB
	owner string
}

// NewServer creates the MCP tool server over the coordinator.
func NewServer(coord *lifecycle.Coordinator, database *db.DB, opts Options) *server.MCPServer {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := server.NewMCPServer("Tend", opts.Version)
	h := &tools{coord: coord, db: database, owner: opts.Owner}

	// Creating tasks
	s.AddTool(mcp.NewTool("create_task", taskOptions(
		mcp.WithDescription("Create a task right away. Use stage_task to build a tree of tasks that should be created together."),
	)...), h.createTask)

	s.AddTool(mcp.NewTool("stage_task", taskOptions(
		mcp.WithDescription("Stage a task for a session. Nothing is stored until commit_staged_tasks; parents can be named by title with parent_title."),
		mcp.WithString("session_id", mcp.Description("Session ID for staging (defaults to 'default').")),
	)...), h.stageTask)

	s.AddTool(mcp.NewTool("commit_staged_tasks",
		mcp.WithDescription("Create every task staged for a session in one step. Either all are created or none."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), h.commitStaged)

	s.AddTool(mcp.NewTool("list_staged_tasks",
		mcp.WithDescription("List the tasks staged for a session. Use this to review a plan before committing."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), h.listStaged)

	// Reading
	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a task by id, with its effective kind and child progress."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), h.getTask)

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filters."),
		mcp.WithString("owner", mcp.Description("Owner id (defaults to the configured owner)")),
		mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("ready", "in_progress", "blocked", "completed", "archived")),
		mcp.WithString("kind", mcp.Description("Filter by kind"), mcp.Enum("standard", "habit", "parent")),
		mcp.WithString("tag", mcp.Description("Filter by tag")),
		mcp.WithString("parent_id", mcp.Description("Only children of this task")),
		mcp.WithBoolean("open", mcp.Description("Only tasks that are not completed or archived")),
	), h.listTasks)

	s.AddTool(mcp.NewTool("get_progress",
		mcp.WithDescription("Count completed children of a parent task."),
		mcp.WithString("id", mcp.Description("Parent task id"), mcp.Required()),
	), h.getProgress)

	s.AddTool(mcp.NewTool("habit_due",
		mcp.WithDescription("Report whether a habit still needs doing in its current period."),
		mcp.WithString("id", mcp.Description("Habit task id"), mcp.Required()),
		mcp.WithString("at", mcp.Description("RFC 3339 instant to evaluate at (defaults to now)")),
	), h.habitDue)

	s.AddTool(mcp.NewTool("preview_schedule",
		mcp.WithDescription("Preview the next due dates of a repeat pattern without creating anything."),
		mcp.WithString("recurrence_kind", mcp.Description("fixed_schedule or after_completion"), mcp.Required(), mcp.Enum("fixed_schedule", "after_completion")),
		mcp.WithNumber("interval", mcp.Description("Repeat every N units"), mcp.Required()),
		mcp.WithString("unit", mcp.Description("Interval unit"), mcp.Required(), mcp.Enum("hours", "days", "weeks", "months")),
		mcp.WithString("anchor_date", mcp.Description("RFC 3339 start of a fixed schedule")),
		mcp.WithString("exclude_weekdays", mcp.Description("Comma-separated weekdays to skip, e.g. 'sat,sun'")),
		mcp.WithString("after", mcp.Description("RFC 3339 instant to preview from (defaults to now)")),
		mcp.WithNumber("count", mcp.Description("How many dates to return (default 5, max 50)")),
	), h.previewSchedule)

	// Lifecycle events
	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Complete a task. Recurring tasks spawn their next occurrence, completing the last open child completes the parent."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("at", mcp.Description("RFC 3339 completion instant (defaults to now)")),
		mcp.WithBoolean("retroactive", mcp.Description("The completion happened earlier, at 'at'")),
		mcp.WithBoolean("allow_uncounted", mcp.Description("Record a habit completion even when the streak grace period has expired")),
	), h.completeTask)

	s.AddTool(mcp.NewTool("uncomplete_task",
		mcp.WithDescription("Undo the completion of a task. The completion stays in history."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), h.uncompleteTask)

	s.AddTool(mcp.NewTool("update_task_status",
		mcp.WithDescription("Move a task to another status."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status"), mcp.Required(), mcp.Enum("ready", "in_progress", "blocked", "completed", "archived")),
		mcp.WithString("reason", mcp.Description("Why the task is blocked (required for blocked)")),
	), h.updateStatus)

	s.AddTool(mcp.NewTool("set_parent",
		mcp.WithDescription("Move a task under another task, or detach it with an empty parent_id."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("parent_id", mcp.Description("New parent id (empty detaches)")),
	), h.setParent)

	s.AddTool(mcp.NewTool("snooze_task",
		mcp.WithDescription("Keep a someday task from resurfacing for a number of days."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithNumber("days", mcp.Description("Days to snooze"), mcp.Required()),
	), h.snoozeTask)

	s.AddTool(mcp.NewTool("run_sweep",
		mcp.WithDescription("Run the daily sweep now: expire lapsed habit streaks and surface someday tasks."),
		mcp.WithString("owner", mcp.Description("Owner id (defaults to the configured owner)")),
		mcp.WithBoolean("all", mcp.Description("Sweep every owner")),
	), h.runSweep)

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func taskOptions(extra ...mcp.ToolOption) []mcp.ToolOption {
	return append(extra,
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("owner", mcp.Description("Owner id (defaults to the parent's owner or the configured owner)")),
		mcp.WithString("kind", mcp.Description("Task kind"), mcp.Enum("standard", "habit")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("parent_id", mcp.Description("Parent task id")),
		mcp.WithString("parent_title", mcp.Description("Parent task title, e.g. a task staged earlier in the same session")),
		mcp.WithString("due_date", mcp.Description("RFC 3339 due date")),
		mcp.WithNumber("target_count", mcp.Description("Habit: completions per period (default 1)")),
		mcp.WithString("target_period", mcp.Description("Habit: period of the target"), mcp.Enum("day", "week", "month")),
		mcp.WithNumber("nudge_threshold_days", mcp.Description("Someday: resurface after this many idle days")),
		mcp.WithBoolean("repeating", mcp.Description("Someday: return to ready after completion instead of archiving")),
		mcp.WithString("recurrence_kind", mcp.Description("Repeat pattern kind"), mcp.Enum("fixed_schedule", "after_completion")),
		mcp.WithNumber("interval", mcp.Description("Repeat every N units")),
		mcp.WithString("unit", mcp.Description("Interval unit"), mcp.Enum("hours", "days", "weeks", "months")),
		mcp.WithString("anchor_date", mcp.Description("RFC 3339 start of a fixed schedule")),
		mcp.WithString("exclude_weekdays", mcp.Description("Comma-separated weekdays to skip, e.g. 'sat,sun'")),
	)
}

func has(request mcp.CallToolRequest, key string) bool {
	_, ok := request.GetArguments()[key]
	return ok
}

func parseTime(request mcp.CallToolRequest, key string) (*time.Time, error) {
	raw := mcp.ParseString(request, key, "")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp: %w", key, err)
	}
	return &t, nil
}

func parseRecurrence(request mcp.CallToolRequest) (*models.Recurrence, error) {
	kind := mcp.ParseString(request, "recurrence_kind", "")
	if kind == "" {
		return nil, nil
	}
	rec := &models.Recurrence{
		Kind:     models.RecurrenceKind(kind),
		Interval: mcp.ParseInt(request, "interval", 1),
		Unit:     models.Unit(mcp.ParseString(request, "unit", string(models.UnitDays))),
	}
	anchor, err := parseTime(request, "anchor_date")
	if err != nil {
		return nil, err
	}
	rec.AnchorDate = anchor
	excluded, err := models.ParseWeekdays(mcp.ParseString(request, "exclude_weekdays", ""))
	if err != nil {
		return nil, err
	}
	rec.ExcludeWeekdays = excluded
	return rec, nil
}

func (h *tools) newTaskFromRequest(request mcp.CallToolRequest) (lifecycle.NewTask, error) {
	t := &models.Task{
		OwnerID:     mcp.ParseString(request, "owner", ""),
		Title:       mcp.ParseString(request, "title", ""),
		Description: mcp.ParseString(request, "description", ""),
		Kind:        models.TaskKind(mcp.ParseString(request, "kind", string(models.TaskKindStandard))),
		Repeating:   mcp.ParseBoolean(request, "repeating", false),
	}
	for _, tag := range strings.Split(mcp.ParseString(request, "tags", ""), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			t.Tags = append(t.Tags, tag)
		}
	}
	if parentID := mcp.ParseString(request, "parent_id", ""); parentID != "" {
		t.ParentID = &parentID
	}
	parentTitle := mcp.ParseString(request, "parent_title", "")
	if t.OwnerID == "" && t.ParentID == nil {
		t.OwnerID = h.owner
	}

	due, err := parseTime(request, "due_date")
	if err != nil {
		return lifecycle.NewTask{}, err
	}
	t.DueDate = due

	if t.Kind == models.TaskKindHabit && (has(request, "target_count") || has(request, "target_period")) {
		t.TargetFrequency = &models.Frequency{
			Count:  mcp.ParseInt(request, "target_count", 1),
			Period: models.Period(mcp.ParseString(request, "target_period", string(models.PeriodDay))),
		}
	}
	if has(request, "nudge_threshold_days") {
		days := mcp.ParseInt(request, "nudge_threshold_days", 0)
		t.NudgeThresholdDays = &days
	}

	rec, err := parseRecurrence(request)
	if err != nil {
		return lifecycle.NewTask{}, err
	}
	return lifecycle.NewTask{Task: t, Recurrence: rec, ParentTitle: parentTitle}, nil
}

func (h *tools) createTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	item, err := h.newTaskFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	created, err := h.coord.CreateBatch(ctx, []lifecycle.NewTask{item})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(created[0])
}

func (h *tools) stageTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	item, err := h.newTaskFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(item.Task.Title) == "" {
		return mcp.NewToolResultError("title is required"), nil
	}
	sessionID := mcp.ParseString(request, "session_id", defaultSession)
	n := h.db.Staging.AddTask(sessionID, item)
	return mcp.NewToolResultText(fmt.Sprintf("Task '%s' staged for session '%s' (%d staged). Stage another or call 'commit_staged_tasks' to create them.", item.Task.Title, sessionID, n)), nil
}

func (h *tools) commitStaged(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(request, "session_id", defaultSession)
	created, err := h.db.CommitStaged(ctx, h.coord, sessionID)
	if err != nil {
		return toolError(err), nil
	}
	if len(created) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Nothing staged for session '%s'.", sessionID)), nil
	}
	return jsonResult(map[string]any{"created": created})
}

type stagedView struct {
	Title       string             `json:"title"`
	Kind        models.TaskKind    `json:"kind"`
	ParentID    *string            `json:"parent_id,omitempty"`
	ParentTitle string             `json:"parent_title,omitempty"`
	Recurrence  *models.Recurrence `json:"recurrence,omitempty"`
}

func (h *tools) listStaged(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(request, "session_id", defaultSession)
	items := h.db.Staging.Peek(sessionID)
	views := make([]stagedView, 0, len(items))
	for _, item := range items {
		views = append(views, stagedView{
			Title:       item.Task.Title,
			Kind:        item.Task.Kind,
			ParentID:    item.Task.ParentID,
			ParentTitle: item.ParentTitle,
			Recurrence:  item.Recurrence,
		})
	}
	return jsonResult(map[string]any{"session_id": sessionID, "tasks": views})
}

func (h *tools) getTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "id", "")
	task, err := h.coord.GetTask(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	done, total, err := h.coord.Progress(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"task":           task,
		"effective_kind": task.EffectiveKind(total > 0),
		"progress":       map[string]int{"done": done, "total": total},
	})
}

func (h *tools) listTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := db.TaskFilter{
		OwnerID:  mcp.ParseString(request, "owner", h.owner),
		Status:   models.TaskStatus(mcp.ParseString(request, "status", "")),
		Kind:     models.TaskKind(mcp.ParseString(request, "kind", "")),
		Tag:      mcp.ParseString(request, "tag", ""),
		ParentID: mcp.ParseString(request, "parent_id", ""),
		Open:     mcp.ParseBoolean(request, "open", false),
	}
	tasks, err := h.db.ListTasks(ctx, filter)
	if err != nil {
		return toolError(err), nil
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return jsonResult(map[string]any{"tasks": tasks})
}

func (h *tools) getProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	done, total, err := h.coord.Progress(ctx, mcp.ParseString(request, "id", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]int{"done": done, "total": total})
}

func (h *tools) habitDue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	at, err := parseTime(request, "at")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var when time.Time
	if at != nil {
		when = *at
	}
	due, err := h.coord.HabitDue(ctx, mcp.ParseString(request, "id", ""), when)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]bool{"due": due})
}

func (h *tools) previewSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, err := parseRecurrence(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if rec == nil {
		return mcp.NewToolResultError("recurrence_kind is required"), nil
	}
	after := h.coord.Now()
	if at, err := parseTime(request, "after"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	} else if at != nil {
		after = *at
	}
	count := mcp.ParseInt(request, "count", 5)
	if count < 1 || count > 50 {
		return mcp.NewToolResultError("count must be between 1 and 50"), nil
	}
	dates, err := h.coord.Upcoming(rec, after, count)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"due_dates": dates})
}

func (h *tools) completeTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	at, err := parseTime(request, "at")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var when time.Time
	if at != nil {
		when = *at
	}
	res, err := h.coord.CompleteTask(ctx, mcp.ParseString(request, "id", ""), when, lifecycle.CompleteOptions{
		Retroactive:    mcp.ParseBoolean(request, "retroactive", false),
		AllowUncounted: mcp.ParseBoolean(request, "allow_uncounted", false),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"task":           res.Task,
		"completion":     res.Completion,
		"new_occurrence": res.NewOccurrence,
		"cascaded":       res.Cascaded,
		"intents":        res.Intents,
	})
}

func (h *tools) uncompleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.coord.UncompleteTask(ctx, mcp.ParseString(request, "id", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"task":      res.Task,
		"withdrawn": res.Withdrawn,
		"reopened":  res.Reopened,
	})
}

func (h *tools) updateStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := models.TaskStatus(mcp.ParseString(request, "status", ""))
	if !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status '%s'", status)), nil
	}
	task, err := h.coord.TransitionStatus(ctx, mcp.ParseString(request, "id", ""), status, mcp.ParseString(request, "reason", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(task)
}

func (h *tools) setParent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := h.coord.SetParent(ctx, mcp.ParseString(request, "id", ""), mcp.ParseString(request, "parent_id", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(task)
}

func (h *tools) snoozeTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := h.coord.Snooze(ctx, mcp.ParseString(request, "id", ""), mcp.ParseInt(request, "days", 0))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(task)
}

func (h *tools) runSweep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if mcp.ParseBoolean(request, "all", false) {
		results, err := h.coord.SweepAll(ctx, time.Time{})
		return sweepResult(results, err)
	}
	res, err := h.coord.RunDailySweep(ctx, mcp.ParseString(request, "owner", h.owner), time.Time{})
	return sweepResult(res, err)
}

// sweepResult reports per-task failures next to the partial result.
func sweepResult(res any, err error) (*mcp.CallToolResult, error) {
	out := map[string]any{"result": res}
	if err != nil {
		out["errors"] = err.Error()
	}
	return jsonResult(out)
}

func toolError(err error) *mcp.CallToolResult {
	if engine.Kind(err) != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s (%v)", engine.UserMessage(err), err))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
