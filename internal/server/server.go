package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ldi/tend/internal/db"
	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/internal/lifecycle"
	"github.com/ldi/tend/pkg/models"
)

type Options struct {
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
	// Owner is used when a request does not name one.
	Owner string
}

type Server struct {
	coord  *lifecycle.Coordinator
	db     *db.DB
	opts   Options
	logger *slog.Logger
	server *http.Server
}

func NewServer(coord *lifecycle.Coordinator, database *db.DB, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{coord: coord, db: database, opts: opts, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /api/tasks/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /api/tasks/{id}/due", s.handleHabitDue)
	mux.HandleFunc("GET /api/tasks/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /api/tasks/{id}/uncomplete", s.handleUncomplete)
	mux.HandleFunc("POST /api/tasks/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /api/tasks/{id}/parent", s.handleSetParent)
	mux.HandleFunc("POST /api/tasks/{id}/snooze", s.handleSnooze)
	mux.HandleFunc("POST /api/sweep", s.handleSweep)

	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	return mux
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type taskResponse struct {
	*models.Task
	EffectiveKind models.TaskKind `json:"effective_kind"`
}

func (s *Server) taskResponse(ctx context.Context, t *models.Task) (taskResponse, error) {
	hasChildren, err := s.coord.HasChildren(ctx, t.ID)
	if err != nil {
		return taskResponse{}, err
	}
	return taskResponse{Task: t, EffectiveKind: t.EffectiveKind(hasChildren)}, nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.TaskFilter{
		OwnerID:  q.Get("owner"),
		Status:   models.TaskStatus(q.Get("status")),
		ParentID: q.Get("parent"),
		Kind:     models.TaskKind(q.Get("kind")),
		Tag:      q.Get("tag"),
		Open:     q.Get("open") == "true",
	}
	if filter.Status != "" && !filter.Status.Valid() {
		s.respondError(w, badRequest("unknown status %q", filter.Status))
		return
	}
	tasks, err := s.db.ListTasks(r.Context(), filter)
	if tasks == nil {
		tasks = []*models.Task{}
	}
	s.respond(w, http.StatusOK, tasks, err)
}

type createRequest struct {
	models.Task
	Recurrence  *models.Recurrence `json:"recurrence"`
	ParentTitle string             `json:"parent_title"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = s.opts.Owner
	}
	created, err := s.coord.CreateBatch(r.Context(), []lifecycle.NewTask{{
		Task:        &req.Task,
		Recurrence:  req.Recurrence,
		ParentTitle: req.ParentTitle,
	}})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, created[0], nil)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.coord.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp, err := s.taskResponse(r.Context(), task)
	s.respond(w, http.StatusOK, resp, err)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	done, total, err := s.coord.Progress(r.Context(), r.PathValue("id"))
	s.respond(w, http.StatusOK, map[string]int{"done": done, "total": total}, err)
}

func (s *Server) handleHabitDue(w http.ResponseWriter, r *http.Request) {
	var at time.Time
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, badRequest("at must be RFC 3339: %v", err))
			return
		}
		at = parsed
	}
	due, err := s.coord.HabitDue(r.Context(), r.PathValue("id"), at)
	s.respond(w, http.StatusOK, map[string]bool{"due": due}, err)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.coord.History(r.Context(), r.PathValue("id"))
	if rows == nil {
		rows = []*models.Completion{}
	}
	s.respond(w, http.StatusOK, rows, err)
}

type completeRequest struct {
	At             *time.Time `json:"at"`
	Retroactive    bool       `json:"retroactive"`
	AllowUncounted bool       `json:"allow_uncounted"`
}

type completeResponse struct {
	Task          *models.Task         `json:"task"`
	Completion    *models.Completion   `json:"completion"`
	NewOccurrence *models.Task         `json:"new_occurrence,omitempty"`
	Cascaded      []*models.Completion `json:"cascaded,omitempty"`
	Intents       []models.Intent      `json:"intents"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	res, err := s.coord.CompleteTask(r.Context(), r.PathValue("id"), at, lifecycle.CompleteOptions{
		Retroactive:    req.Retroactive,
		AllowUncounted: req.AllowUncounted,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, completeResponse{
		Task:          res.Task,
		Completion:    res.Completion,
		NewOccurrence: res.NewOccurrence,
		Cascaded:      res.Cascaded,
		Intents:       res.Intents,
	}, nil)
}

func (s *Server) handleUncomplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.UncompleteTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"task":      res.Task,
		"withdrawn": res.Withdrawn,
		"reopened":  res.Reopened,
	}, nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.TaskStatus `json:"status"`
		Reason string            `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if !req.Status.Valid() {
		s.respondError(w, badRequest("unknown status %q", req.Status))
		return
	}
	task, err := s.coord.TransitionStatus(r.Context(), r.PathValue("id"), req.Status, req.Reason)
	s.respond(w, http.StatusOK, task, err)
}

func (s *Server) handleSetParent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_id"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	task, err := s.coord.SetParent(r.Context(), r.PathValue("id"), req.ParentID)
	s.respond(w, http.StatusOK, task, err)
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Days <= 0 {
		s.respondError(w, badRequest("days must be positive"))
		return
	}
	task, err := s.coord.Snooze(r.Context(), r.PathValue("id"), req.Days)
	s.respond(w, http.StatusOK, task, err)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string     `json:"owner"`
		At    *time.Time `json:"at"`
		All   bool       `json:"all"`
	}
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	// Per-task failures still come with a result; they are reported in it.
	if req.All {
		results, err := s.coord.SweepAll(r.Context(), at)
		s.logSweepError(err)
		s.respond(w, http.StatusOK, results, contextErr(err))
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = s.opts.Owner
	}
	res, err := s.coord.RunDailySweep(r.Context(), owner, at)
	s.logSweepError(err)
	s.respond(w, http.StatusOK, res, contextErr(err))
}

func (s *Server) logSweepError(err error) {
	if err != nil {
		s.logger.Warn("sweep finished with errors", "error", err)
	}
}

func contextErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// decodeOptional accepts an empty body as the zero request.
func decodeOptional(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}

// statusFor maps lifecycle errors onto HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrGracePeriodExpired):
		return http.StatusConflict
	case errors.Is(err, engine.ErrMissingBlockReason),
		errors.Is(err, engine.ErrInvalidRecurrencePattern),
		errors.Is(err, engine.ErrMissingAnchor),
		errors.Is(err, engine.ErrSelfParent),
		errors.Is(err, engine.ErrCircularParentReference),
		errors.Is(err, lifecycle.ErrInvalidTask):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if engine.Kind(err) != nil {
		msg = engine.UserMessage(err)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": msg, "detail": err.Error()})
}

func (s *Server) respond(w http.ResponseWriter, status int, data any, err error) {
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, status, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}
