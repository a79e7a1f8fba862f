package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ldi/tend/internal/db"
	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/internal/lifecycle"
	"github.com/ldi/tend/internal/metrics"
	"github.com/ldi/tend/pkg/models"
)

type testEnv struct {
	db      *db.DB
	clock   *engine.FakeClock
	coord   *lifecycle.Coordinator
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	obs := metrics.New()
	clock := engine.NewFakeClock(time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC))
	coord := lifecycle.New(database, lifecycle.Options{Clock: clock, Logger: logger, Observer: obs})
	srv := NewServer(coord, database, Options{Metrics: obs.Handler(), Logger: logger, Owner: "me"})
	return &testEnv{db: database, clock: clock, coord: coord, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *testEnv) create(t *testing.T, body string) *models.Task {
	t.Helper()
	w := e.do(t, "POST", "/api/tasks", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create returned %d: %s", w.Code, w.Body.String())
	}
	return decodeBody[*models.Task](t, w)
}

func TestServer_CreateAndList(t *testing.T) {
	env := newTestEnv(t)

	parent := env.create(t, `{"title":"garden","tags":["outside"]}`)
	if parent.OwnerID != "me" {
		t.Errorf("Expected the default owner, got %q", parent.OwnerID)
	}
	child := env.create(t, `{"title":"weed beds","parent_title":"garden"}`)
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Errorf("Expected the parent to be resolved by title, got %v", child.ParentID)
	}

	w := env.do(t, "GET", "/api/tasks?owner=me&tag=outside", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %v", w.Code)
	}
	tasks := decodeBody[[]*models.Task](t, w)
	if len(tasks) != 1 || tasks[0].ID != parent.ID {
		t.Errorf("Expected only the tagged task, got %d", len(tasks))
	}

	w = env.do(t, "GET", "/api/tasks?status=bogus", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown status, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/tasks/"+parent.ID, "")
	got := decodeBody[map[string]any](t, w)
	if got["effective_kind"] != "parent" || got["kind"] != "standard" {
		t.Errorf("Expected a standard task presented as parent, got %v / %v", got["kind"], got["effective_kind"])
	}

	w = env.do(t, "GET", "/api/tasks?owner=nobody", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected an empty JSON array, got %s", w.Body.String())
	}
}

func TestServer_CompleteCascadeAndUncomplete(t *testing.T) {
	env := newTestEnv(t)
	parent := env.create(t, `{"title":"trip"}`)
	a := env.create(t, `{"title":"flights","parent_id":"`+parent.ID+`"}`)
	b := env.create(t, `{"title":"hotel","parent_id":"`+parent.ID+`"}`)

	w := env.do(t, "POST", "/api/tasks/"+a.ID+"/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Complete returned %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/tasks/"+parent.ID+"/progress", "")
	progress := decodeBody[map[string]int](t, w)
	if progress["done"] != 1 || progress["total"] != 2 {
		t.Errorf("Expected 1/2, got %v", progress)
	}

	w = env.do(t, "POST", "/api/tasks/"+b.ID+"/complete", `{}`)
	res := decodeBody[completeResponse](t, w)
	if len(res.Cascaded) != 1 || res.Cascaded[0].TaskID != parent.ID {
		t.Errorf("Expected the parent to auto-complete, got %+v", res.Cascaded)
	}

	w = env.do(t, "POST", "/api/tasks/"+b.ID+"/complete", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 completing twice, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/tasks/"+b.ID+"/uncomplete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Uncomplete returned %d: %s", w.Code, w.Body.String())
	}
	stored, _ := env.db.GetTask(context.Background(), parent.ID)
	if stored.Status != models.TaskStatusReady {
		t.Errorf("Expected the parent to reopen, got %s", stored.Status)
	}

	w = env.do(t, "GET", "/api/tasks/"+b.ID+"/history", "")
	if rows := decodeBody[[]models.Completion](t, w); len(rows) != 1 {
		t.Errorf("Expected the completion to stay in history, got %d", len(rows))
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, `{"title":"fix sink"}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing task", "GET", "/api/tasks/nope", "", http.StatusNotFound},
		{"complete missing", "POST", "/api/tasks/nope/complete", "", http.StatusNotFound},
		{"blocked without reason", "POST", "/api/tasks/" + task.ID + "/status", `{"status":"blocked"}`, http.StatusUnprocessableEntity},
		{"unknown status", "POST", "/api/tasks/" + task.ID + "/status", `{"status":"done"}`, http.StatusBadRequest},
		{"self parent", "POST", "/api/tasks/" + task.ID + "/parent", `{"parent_id":"` + task.ID + `"}`, http.StatusUnprocessableEntity},
		{"bad json", "POST", "/api/tasks", `{"title":`, http.StatusBadRequest},
		{"unknown field", "POST", "/api/tasks", `{"title":"x","colour":"red"}`, http.StatusBadRequest},
		{"empty title", "POST", "/api/tasks", `{"title":"  "}`, http.StatusUnprocessableEntity},
		{"fixed without anchor", "POST", "/api/tasks", `{"title":"x","recurrence":{"kind":"fixed_schedule","interval":1,"unit":"days"}}`, http.StatusUnprocessableEntity},
		{"zero snooze", "POST", "/api/tasks/" + task.ID + "/snooze", `{"days":0}`, http.StatusBadRequest},
		{"wrong method", "DELETE", "/api/tasks/" + task.ID, "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	w := env.do(t, "POST", "/api/tasks/"+task.ID+"/status", `{"status":"blocked"}`)
	body := decodeBody[map[string]string](t, w)
	if body["error"] != engine.UserMessage(engine.ErrMissingBlockReason) {
		t.Errorf("Expected the user-facing message, got %q", body["error"])
	}
}

func TestServer_HabitDueSnoozeAndSweep(t *testing.T) {
	env := newTestEnv(t)
	habit := env.create(t, `{"title":"run","kind":"habit","target_frequency":{"count":1,"period":"day"},
		"recurrence":{"kind":"after_completion","interval":1,"unit":"days"}}`)

	w := env.do(t, "GET", "/api/tasks/"+habit.ID+"/due", "")
	if due := decodeBody[map[string]bool](t, w); !due["due"] {
		t.Errorf("Expected the habit to be due, got %v", due)
	}
	w = env.do(t, "GET", "/api/tasks/"+habit.ID+"/due?at=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad instant, got %d", w.Code)
	}

	someday := env.create(t, `{"title":"learn piano","nudge_threshold_days":2}`)
	env.clock.Advance(72 * time.Hour)

	w = env.do(t, "POST", "/api/sweep", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Sweep returned %d: %s", w.Code, w.Body.String())
	}
	res := decodeBody[lifecycle.SweepResult](t, w)
	if len(res.NudgesRaised) != 1 || res.NudgesRaised[0] != someday.ID {
		t.Errorf("Expected one nudge, got %+v", res)
	}

	w = env.do(t, "POST", "/api/tasks/"+someday.ID+"/snooze", `{"days":3}`)
	snoozed := decodeBody[models.Task](t, w)
	if snoozed.LastNudgedAt == nil || !snoozed.LastNudgedAt.Equal(env.clock.Now().AddDate(0, 0, 3)) {
		t.Errorf("Expected the nudge to be pushed out, got %v", snoozed.LastNudgedAt)
	}

	w = env.do(t, "POST", "/api/sweep", `{"all":true}`)
	all := decodeBody[[]lifecycle.SweepResult](t, w)
	if len(all) != 1 || len(all[0].NudgesRaised) != 0 {
		t.Errorf("Expected a quiet sweep after snoozing, got %+v", all)
	}
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, `{"title":"water plants"}`)
	env.do(t, "POST", "/api/tasks/"+task.ID+"/complete", "")

	w := env.do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`tend_completions_total{cascaded="false",counted="false"} 1`)) {
		t.Errorf("Expected the completion counter in:\n%s", w.Body.String())
	}
}
