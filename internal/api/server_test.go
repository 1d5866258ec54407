package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/heartbeat"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage/memory"
)

type countingWaker struct{ wakes int }

func (w *countingWaker) Wake() { w.wakes++ }

func newTestServer(t *testing.T) (*Server, *memory.TaskRepo, *countingWaker) {
	t.Helper()
	store := memory.NewTaskRepo()
	scheduler := heartbeat.NewScheduler(heartbeat.Config{}, store, nil)
	waker := &countingWaker{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(0, store, scheduler, waker, log), store, waker
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestAddTask(t *testing.T) {
	s, store, waker := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/tasks", map[string]string{
		"description": "summarize inbox",
		"priority":    "high",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["id"] == "" {
		t.Error("Expected task id in response")
	}

	task, err := store.GetByID(context.Background(), resp["id"])
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if task.Priority != domain.PriorityHigh {
		t.Errorf("Expected high priority, got %s", task.Priority)
	}
	if waker.wakes != 1 {
		t.Errorf("Expected 1 wake, got %d", waker.wakes)
	}
}

func TestAddTask_Validation(t *testing.T) {
	s, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]string
	}{
		{"missing description", map[string]string{"priority": "high"}},
		{"bad priority", map[string]string{"description": "x", "priority": "urgent"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/v1/tasks", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestCancelTask(t *testing.T) {
	s, store, _ := newTestServer(t)
	ctx := context.Background()

	id, err := store.Add(ctx, storage.AddParams{Description: "to cancel"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, fmt.Sprintf("/v1/tasks/%s/cancel", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// A second cancel hits a terminal task
	rec = doRequest(t, s, http.MethodPost, fmt.Sprintf("/v1/tasks/%s/cancel", id), nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}
}

func TestListTasks(t *testing.T) {
	s, store, _ := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Add(ctx, storage.AddParams{Description: fmt.Sprintf("task %d", i)}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	rec := doRequest(t, s, http.MethodGet, "/v1/tasks?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var tasks []*domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(tasks))
	}
}

func TestPendingTasks_ClaimOrder(t *testing.T) {
	s, store, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, storage.AddParams{Description: "cleanup logs", Priority: domain.PriorityLow.Ref()}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := store.Add(ctx, storage.AddParams{Description: "check inbox", Priority: domain.PriorityHigh.Ref()}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/v1/tasks/pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var tasks []*domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Description != "check inbox" {
		t.Errorf("Expected high priority task first, got %+v", tasks)
	}
}

func TestStats(t *testing.T) {
	s, store, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, storage.AddParams{Description: "one"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var stats map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if stats["pending"] != 1 {
		t.Errorf("Expected 1 pending, got %d", stats["pending"])
	}
}

func TestStatus(t *testing.T) {
	s, store, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, storage.AddParams{Description: "pending one"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Tasks map[string]int `json:"tasks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Tasks["pending"] != 1 {
		t.Errorf("Expected 1 pending, got %d", resp.Tasks["pending"])
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}
