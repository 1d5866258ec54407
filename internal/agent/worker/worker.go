// Package worker drains the task store one task at a time. Consumption is
// strictly sequential: there is exactly one worker goroutine, so at most
// one task is ever in flight.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/failover"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/metrics"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
)

// SelectHandler resolves a handler name for a task without an explicit
// target. Pluggable so gateways can route by content.
type SelectHandler func(task *domain.Task) string

// Config tunes the worker.
type Config struct {
	// PollInterval is the safety-net wake timeout; the worker re-checks
	// the store this often even without a signal (default 60s)
	PollInterval time.Duration

	// DefaultHandler is used when a task has no target and no selector
	// answers (default "assistant")
	DefaultHandler string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.DefaultHandler == "" {
		c.DefaultHandler = "assistant"
	}
	return c
}

// Worker claims and executes tasks via the failover executor.
type Worker struct {
	cfg      Config
	store    storage.TaskRepository
	executor *failover.Executor
	selector SelectHandler
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wake    chan struct{}
}

// NewWorker creates a worker. selector may be nil.
func NewWorker(cfg Config, store storage.TaskRepository, executor *failover.Executor, selector SelectHandler) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		store:    store,
		executor: executor,
		selector: selector,
		log:      slog.Default().With("component", "worker"),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the worker loop. Idempotent.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(runCtx, w.done)
	w.log.Info("worker started", "poll_interval", w.cfg.PollInterval)
}

// Stop cancels the loop and waits for it to finish the current drain.
// Work already inside a handler is not interrupted beyond context
// cancellation. Idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	w.log.Info("worker stopped")
}

// Wake signals the loop that pending work exists. Non-blocking; repeated
// wakes coalesce.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// OnHeartbeat wakes the worker whenever a beat saw pending work, which
// makes the worker a direct scheduler listener.
func (w *Worker) OnHeartbeat(_ context.Context, ev domain.HeartbeatEvent) {
	if len(ev.Pending) > 0 {
		w.Wake()
	}
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-time.After(w.cfg.PollInterval):
			// Safety net: claim even if no wake signal arrived.
		}

		if err := w.drain(ctx); err != nil {
			// Only storage faults surface here; they are fatal for the
			// loop's current cycle and must stay visible.
			w.log.Error("worker drain failed", "error", err)
		}
	}
}

// drain claims tasks until the store runs dry.
func (w *Worker) drain(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		task, err := w.store.ClaimNext(ctx)
		if err != nil {
			return fmt.Errorf("claim next: %w", err)
		}
		if task == nil {
			return nil
		}
		metrics.TasksClaimed.Inc()

		w.execute(ctx, task)
	}
}

// execute runs one claimed task through the failover chain and records
// the outcome. Logical failures never propagate past this point.
func (w *Worker) execute(ctx context.Context, task *domain.Task) {
	handler := w.resolveHandler(task)
	w.log.Info("executing task", "task", task.ID, "handler", handler, "priority", task.Priority.String())

	result, err := w.executor.Run(ctx, handler, task)
	if err != nil {
		retry, failErr := w.store.Fail(ctx, task.ID, err.Error())
		if failErr != nil {
			w.log.Error("recording task failure failed", "task", task.ID, "error", failErr)
			return
		}
		outcome := "terminal"
		if retry {
			outcome = "retry"
		}
		metrics.TasksFailed.WithLabelValues(outcome).Inc()
		w.log.Warn("task failed", "task", task.ID, "handler", handler, "outcome", outcome, "error", err)
		return
	}

	if err := w.store.Complete(ctx, task.ID, result); err != nil {
		w.log.Error("recording task completion failed", "task", task.ID, "error", err)
		return
	}
	metrics.TasksCompleted.Inc()
	w.log.Info("task completed", "task", task.ID, "handler", handler)
}

func (w *Worker) resolveHandler(task *domain.Task) string {
	if task.TargetHandler != "" {
		return task.TargetHandler
	}
	if w.selector != nil {
		if h := w.selector(task); h != "" {
			return h
		}
	}
	return w.cfg.DefaultHandler
}
