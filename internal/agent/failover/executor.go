// Package failover executes a task through a primary handler and an
// ordered chain of fallbacks, consulting the classifier after each
// failure. The executor never panics and never returns a raw handler
// error to the worker without having exhausted its options first.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/classify"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/metrics"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
)

// ExecuteFunc runs a task on a named handler. Handlers are opaque to the
// core; they may suspend for arbitrary external I/O.
type ExecuteFunc func(ctx context.Context, handler string, task *domain.Task) (string, error)

// AlertFunc is called once when a whole chain is exhausted. Attempts holds
// one "handler=kind" entry per execute call, in order.
type AlertFunc func(ctx context.Context, handler string, task *domain.Task, attempts []string, lastErr error)

// Config tunes the executor.
type Config struct {
	// MaxAttempts caps the handler sequence length (default 3)
	MaxAttempts int

	// AttemptTimeout bounds a single execute call. A hung handler must
	// not block the worker loop forever (default 10 min).
	AttemptTimeout time.Duration

	// SwitchBackoffCap bounds the sleep between handler switches
	// (default 5s)
	SwitchBackoffCap time.Duration

	// Backoffs overrides per-category backoff durations
	Backoffs map[classify.Kind]time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Minute
	}
	if c.SwitchBackoffCap <= 0 {
		c.SwitchBackoffCap = 5 * time.Second
	}
	return c
}

// Executor walks a static handler -> fallback chain for each task.
type Executor struct {
	cfg     Config
	chains  map[string][]string
	execute ExecuteFunc
	alert   AlertFunc
	log     *slog.Logger
}

// NewExecutor creates an executor over a static chain map. alert may be nil.
func NewExecutor(cfg Config, chains map[string][]string, execute ExecuteFunc, alert AlertFunc) *Executor {
	return &Executor{
		cfg:     cfg.withDefaults(),
		chains:  chains,
		execute: execute,
		alert:   alert,
		log:     slog.Default().With("component", "failover"),
	}
}

// Run executes the task through the primary handler's chain. A nil error
// means result holds the handler output. A non-nil error means every
// option was exhausted; the alert sink has already been notified and the
// caller should record the failure via the task store.
func (e *Executor) Run(ctx context.Context, primary string, task *domain.Task) (string, error) {
	sequence := e.sequence(primary)

	var attempts []string
	var lastErr error

	for i, handler := range sequence {
		result, err := e.attempt(ctx, handler, task)
		if err == nil {
			return result, nil
		}
		lastErr = err

		failure := classify.ClassifyWith(err, e.cfg.Backoffs)
		attempts = append(attempts, handler+"="+string(failure.Kind))
		metrics.FailoverAttempts.WithLabelValues(handler, string(failure.Kind)).Inc()
		e.log.Warn("handler attempt failed",
			"task", task.ID, "handler", handler, "kind", failure.Kind, "error", err)

		// A retriable failure on the very first attempt earns one
		// immediate retry of the same handler, not counted against the cap.
		if failure.Retriable && i == 0 {
			if err := sleep(ctx, failure.Backoff); err != nil {
				return "", fmt.Errorf("execution interrupted for task %s: %w", task.ID, err)
			}
			result, err = e.attempt(ctx, handler, task)
			if err == nil {
				return result, nil
			}
			lastErr = err
			failure = classify.ClassifyWith(err, e.cfg.Backoffs)
			attempts = append(attempts, handler+"="+string(failure.Kind))
			metrics.FailoverAttempts.WithLabelValues(handler, string(failure.Kind)).Inc()
		}

		if !failure.Failover || i == len(sequence)-1 {
			break
		}

		if err := sleep(ctx, min(failure.Backoff, e.cfg.SwitchBackoffCap)); err != nil {
			// An interrupted chain is not an exhausted one; no alert.
			return "", fmt.Errorf("execution interrupted for task %s: %w", task.ID, err)
		}
	}

	metrics.ChainExhausted.WithLabelValues(primary).Inc()
	if e.alert != nil {
		e.alert(ctx, primary, task, attempts, lastErr)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no handlers available for %q", primary)
	}
	return "", fmt.Errorf("all handlers exhausted for task %s: %w", task.ID, lastErr)
}

// sequence builds dedup([primary] + chain[primary]) capped at MaxAttempts.
func (e *Executor) sequence(primary string) []string {
	seen := map[string]bool{primary: true}
	seq := []string{primary}
	for _, h := range e.chains[primary] {
		if len(seq) >= e.cfg.MaxAttempts {
			break
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		seq = append(seq, h)
	}
	return seq
}

// attempt runs one execute call under the per-attempt timeout. The
// handler runs in its own goroutine so a handler that ignores its context
// cannot wedge the worker loop; panics are converted to errors.
func (e *Executor) attempt(ctx context.Context, handler string, task *domain.Task) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler %s panicked: %v", handler, r)}
			}
		}()
		result, err := e.execute(attemptCtx, handler, task)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		metrics.ExecuteLatency.WithLabelValues(handler).Observe(time.Since(start).Seconds())
		return o.result, o.err
	case <-attemptCtx.Done():
		metrics.ExecuteLatency.WithLabelValues(handler).Observe(time.Since(start).Seconds())
		return "", fmt.Errorf("handler %s timed out after %s: %w", handler, e.cfg.AttemptTimeout, attemptCtx.Err())
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
