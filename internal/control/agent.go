package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/classify"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/failover"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/heartbeat"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/worker"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/api"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/config"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
	redisclient "github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/redis"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage/memory"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage/postgres"
)

// Handler executes one task and returns its result text.
type Handler func(ctx context.Context, task *domain.Task) (string, error)

// Agent is the main application struct that wires storage, the heartbeat
// scheduler, the worker loop and the HTTP surface together.
type Agent struct {
	cfg       *config.AppConfig
	store     storage.TaskRepository
	db        *postgres.DB
	redis     *redisclient.Client
	executor  *failover.Executor
	scheduler *heartbeat.Scheduler
	worker    *worker.Worker
	server    *api.Server
	handlers  map[string]Handler
	log       *slog.Logger
}

// NewAgent creates an Agent with all dependencies initialized.
func NewAgent(cfg *config.AppConfig) (*Agent, error) {
	log := slog.Default()

	// 1. Initialize Storage
	var store storage.TaskRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		store = postgres.NewTaskRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store = memory.NewTaskRepo()
		log.Info("Using Memory storage")
	}

	// 2. Initialize Redis (optional)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, alerts disabled", "error", err)
		}
	}

	a := &Agent{
		cfg:      cfg,
		store:    store,
		db:       db,
		redis:    redisClient,
		handlers: make(map[string]Handler),
		log:      log,
	}

	// The default handler is a plain log sink so the core runs without
	// any integration configured.
	a.RegisterHandler(cfg.Agent.DefaultHandler, logHandler(log))

	// 3. Initialize Executor
	backoffs := make(map[classify.Kind]time.Duration, len(cfg.Agent.BackoffSeconds))
	for kind, secs := range cfg.Agent.BackoffSeconds {
		backoffs[classify.Kind(kind)] = time.Duration(secs) * time.Second
	}
	a.executor = failover.NewExecutor(failover.Config{
		MaxAttempts:    cfg.Agent.MaxAttempts,
		AttemptTimeout: time.Duration(cfg.Agent.AttemptTimeoutMinutes) * time.Minute,
		Backoffs:       backoffs,
	}, cfg.Agent.Failover, a.dispatch, a.onExhausted)

	// 4. Initialize Worker and Scheduler
	a.worker = worker.NewWorker(worker.Config{
		PollInterval:   time.Duration(cfg.Agent.WorkerPollSeconds) * time.Second,
		DefaultHandler: cfg.Agent.DefaultHandler,
	}, store, a.executor, nil)

	a.scheduler = heartbeat.NewScheduler(heartbeat.Config{
		Interval:                 time.Duration(cfg.Agent.HeartbeatIntervalMinutes) * time.Minute,
		SelfModelRefreshInterval: time.Duration(cfg.Agent.SelfModelRefreshMinutes) * time.Minute,
		MemorySyncEvery:          cfg.Agent.MemorySyncEvery,
	}, store, a.worker)

	a.scheduler.SetSelfModelRefresh(a.refreshSelfModel)
	a.scheduler.SetMemorySync(a.syncMemory)

	// 5. Initialize API Server
	a.server = api.NewServer(cfg.Server.Port, store, a.scheduler, a.worker, log)

	return a, nil
}

// RegisterHandler binds a handler name to its implementation. Must be
// called before Start.
func (a *Agent) RegisterHandler(name string, h Handler) {
	a.handlers[name] = h
}

// Start starts the agent and all its components.
func (a *Agent) Start(ctx context.Context) error {
	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("API server failed", "error", err)
		}
	}()

	a.scheduler.Start(ctx)
	a.worker.Start(ctx)

	// Fire one heartbeat on boot so due tasks are not stuck waiting for
	// the first interval to elapse.
	a.scheduler.Trigger()

	a.log.Info("Agent started", "port", a.cfg.Server.Port,
		"heartbeat_interval_minutes", a.cfg.Agent.HeartbeatIntervalMinutes)
	return nil
}

// Stop stops the agent.
func (a *Agent) Stop(ctx context.Context) error {
	a.log.Info("Stopping Agent...")

	a.worker.Stop()
	a.scheduler.Stop()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}

	return a.server.Stop(ctx)
}

// dispatch routes an execute call to the registered handler.
func (a *Agent) dispatch(ctx context.Context, handler string, task *domain.Task) (string, error) {
	h, ok := a.handlers[handler]
	if !ok {
		return "", fmt.Errorf("handler %q is not registered", handler)
	}
	return h(ctx, task)
}

// onExhausted records a chain exhaustion in Redis for external consumers.
func (a *Agent) onExhausted(ctx context.Context, handler string, task *domain.Task, attempts []string, lastErr error) {
	a.log.Error("handler chain exhausted",
		"task", task.ID, "handler", handler, "attempts", attempts, "error", lastErr)

	if a.redis == nil {
		return
	}
	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	alert := redisclient.Alert{
		TaskID:    task.ID,
		Handler:   handler,
		Attempts:  attempts,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	if err := a.redis.PushAlert(ctx, alert); err != nil {
		a.log.Warn("Failed to push alert", "error", err)
	}
}

// refreshSelfModel recomputes the queue shape the agent reports about
// itself. Runs on the self model refresh cadence.
func (a *Agent) refreshSelfModel(ctx context.Context) error {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	a.log.Info("self model refreshed",
		"pending", stats[domain.TaskStatusPending],
		"in_progress", stats[domain.TaskStatusInProgress],
		"completed", stats[domain.TaskStatusCompleted],
		"failed", stats[domain.TaskStatusFailed])
	return nil
}

// syncMemory snapshots queue stats to Redis every few heartbeats.
func (a *Agent) syncMemory(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return a.redis.SaveSnapshot(ctx, stats)
}

// logHandler returns the built-in handler that records the task without
// doing external work.
func logHandler(log *slog.Logger) Handler {
	return func(ctx context.Context, task *domain.Task) (string, error) {
		log.Info("executing task", "task", task.ID, "description", task.Description)
		return "acknowledged: " + task.Description, nil
	}
}
