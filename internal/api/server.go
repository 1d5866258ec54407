package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/heartbeat"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/metrics"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
)

// Waker is notified when new work may be available.
type Waker interface {
	Wake()
}

// Server provides the HTTP surface: task producers, status and metrics.
type Server struct {
	store     storage.TaskRepository
	scheduler *heartbeat.Scheduler
	waker     Waker
	server    *http.Server
	log       *slog.Logger
}

// NewServer creates a new API server.
func NewServer(
	port int,
	store storage.TaskRepository,
	scheduler *heartbeat.Scheduler,
	waker Waker,
	log *slog.Logger,
) *Server {
	mux := http.NewServeMux()
	s := &Server{
		store:     store,
		scheduler: scheduler,
		waker:     waker,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: log.With("component", "api"),
	}

	mux.HandleFunc("POST /v1/tasks", s.handleAddTask)
	mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /v1/tasks/pending", s.handlePendingTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", s.handleCancelTask)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("POST /v1/heartbeat", s.handleTrigger)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type addTaskRequest struct {
	Description   string     `json:"description"`
	Priority      string     `json:"priority"`
	Type          string     `json:"type"`
	TargetHandler string     `json:"target_handler"`
	MaxRetries    int        `json:"max_retries"`
	RunAt         *time.Time `json:"run_at"`
	Metadata      string     `json:"metadata"`
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.Add(r.Context(), storage.AddParams{
		Description:   req.Description,
		Priority:      priority.Ref(),
		Type:          domain.TaskType(req.Type),
		TargetHandler: req.TargetHandler,
		MaxRetries:    req.MaxRetries,
		RunAt:         req.RunAt,
		Metadata:      req.Metadata,
	})
	if err != nil {
		s.log.Error("add task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add task")
		return
	}

	taskType := req.Type
	if taskType == "" {
		taskType = string(domain.TaskTypeManual)
	}
	metrics.TasksAdded.WithLabelValues(priority.String(), taskType).Inc()

	// Immediately claimable tasks should not wait for the next heartbeat
	if req.RunAt == nil || !req.RunAt.After(time.Now()) {
		s.waker.Wake()
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	tasks, err := s.store.GetAll(r.Context(), limit)
	if err != nil {
		s.log.Error("list tasks failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

// handlePendingTasks returns pending tasks in claim order. When the due
// query parameter is set, only tasks whose run_at has passed come back.
func (s *Server) handlePendingTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []*domain.Task
		err   error
	)
	if r.URL.Query().Get("due") != "" {
		tasks, err = s.store.GetDueReminders(r.Context())
	} else {
		tasks, err = s.store.GetPending(r.Context())
	}
	if err != nil {
		s.log.Error("pending tasks failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list pending tasks")
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error("get task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	err := s.store.Cancel(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, storage.ErrTerminalState):
		writeError(w, http.StatusConflict, "task is already in a terminal state")
	case err != nil:
		s.log.Error("cancel task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"heartbeat": s.scheduler.Status(),
		"tasks":     stats,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
