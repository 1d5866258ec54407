// Package heartbeat runs the periodic wake cycle of the execution core.
// Each beat snapshots pending work, runs its maintenance actions and
// notifies the registered listener; the worker loop hangs off that
// notification.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/agent/metrics"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
)

// Listener receives one event per heartbeat.
type Listener interface {
	OnHeartbeat(ctx context.Context, ev domain.HeartbeatEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev domain.HeartbeatEvent)

func (f ListenerFunc) OnHeartbeat(ctx context.Context, ev domain.HeartbeatEvent) { f(ctx, ev) }

// MaintenanceFunc is a side action run during a beat (self-model refresh,
// memory sync). Errors are logged, never fatal.
type MaintenanceFunc func(ctx context.Context) error

// Config tunes the scheduler.
type Config struct {
	// Interval between beats (default 15 min)
	Interval time.Duration

	// SelfModelRefreshInterval gates the self-model refresh action
	// (default 6 h)
	SelfModelRefreshInterval time.Duration

	// MemorySyncEvery runs the memory sync action every N beats
	// (default 4)
	MemorySyncEvery int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.SelfModelRefreshInterval <= 0 {
		c.SelfModelRefreshInterval = 6 * time.Hour
	}
	if c.MemorySyncEvery <= 0 {
		c.MemorySyncEvery = 4
	}
	return c
}

// Status is the operational snapshot returned by Status().
type Status struct {
	Running              bool       `json:"running"`
	HeartbeatCount       int64      `json:"heartbeat_count"`
	IntervalMinutes      float64    `json:"interval_minutes"`
	LastHeartbeat        *time.Time `json:"last_heartbeat,omitempty"`
	LastSelfModelRefresh *time.Time `json:"last_self_model_refresh,omitempty"`
	UptimeSeconds        float64    `json:"uptime_seconds"`
}

// Scheduler is the heartbeat timer. Start and Stop are idempotent.
type Scheduler struct {
	cfg      Config
	store    storage.TaskRepository
	listener Listener
	log      *slog.Logger

	// Optional maintenance hooks
	selfModelRefresh MaintenanceFunc
	memorySync       MaintenanceFunc

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	trigger     chan struct{}
	startedAt   time.Time
	count       int64
	lastBeat    time.Time
	lastRefresh time.Time
}

// NewScheduler creates a scheduler. listener may be nil.
func NewScheduler(cfg Config, store storage.TaskRepository, listener Listener) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		store:    store,
		listener: listener,
		log:      slog.Default().With("component", "heartbeat"),
	}
}

// SetSelfModelRefresh installs the self-model refresh action.
func (s *Scheduler) SetSelfModelRefresh(fn MaintenanceFunc) { s.selfModelRefresh = fn }

// SetMemorySync installs the memory sync action.
func (s *Scheduler) SetMemorySync(fn MaintenanceFunc) { s.memorySync = fn }

// Start launches the beat loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.trigger = make(chan struct{}, 1)
	s.startedAt = time.Now()

	go s.run(runCtx, s.done, s.trigger)
	s.log.Info("heartbeat scheduler started", "interval", s.cfg.Interval)
}

// Stop cancels the timer and waits for the loop to drain. Safe to call
// repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("heartbeat scheduler stopped")
}

// Trigger forces an out-of-band beat. Used by tests and the manual wake
// endpoint.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	trigger, running := s.trigger, s.running
	s.mu.Unlock()
	if !running {
		return
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}

// Status reports the operational snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:         s.running,
		HeartbeatCount:  s.count,
		IntervalMinutes: s.cfg.Interval.Minutes(),
	}
	if !s.lastBeat.IsZero() {
		lb := s.lastBeat
		st.LastHeartbeat = &lb
	}
	if !s.lastRefresh.IsZero() {
		lr := s.lastRefresh
		st.LastSelfModelRefresh = &lr
	}
	if s.running {
		st.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	return st
}

func (s *Scheduler) run(ctx context.Context, done, trigger chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.beat(ctx)
		case <-trigger:
			s.beat(ctx)
		}
	}
}

// beat runs one wake cycle: count, snapshot, maintenance, notify.
func (s *Scheduler) beat(ctx context.Context) {
	s.mu.Lock()
	s.count++
	seq := s.count
	s.lastBeat = time.Now()
	dueRefresh := s.selfModelRefresh != nil &&
		(s.lastRefresh.IsZero() || time.Since(s.lastRefresh) >= s.cfg.SelfModelRefreshInterval)
	dueSync := s.memorySync != nil && seq%int64(s.cfg.MemorySyncEvery) == 0
	s.mu.Unlock()

	metrics.Heartbeats.Inc()

	pending, err := s.store.GetPending(ctx)
	if err != nil {
		s.log.Error("heartbeat pending query failed", "error", err)
	}
	metrics.PendingTasks.Set(float64(len(pending)))

	var actions []string
	if dueRefresh {
		if err := s.selfModelRefresh(ctx); err != nil {
			s.log.Warn("self-model refresh failed", "error", err)
		} else {
			actions = append(actions, "self_model_refresh")
			s.mu.Lock()
			s.lastRefresh = time.Now()
			s.mu.Unlock()
		}
	}
	if dueSync {
		if err := s.memorySync(ctx); err != nil {
			s.log.Warn("memory sync failed", "error", err)
		} else {
			actions = append(actions, "memory_sync")
		}
	}

	ev := domain.HeartbeatEvent{
		Timestamp: time.Now(),
		Sequence:  seq,
		Pending:   pending,
		Actions:   actions,
	}
	s.log.Debug("heartbeat", "sequence", seq, "pending", len(pending), "actions", actions)

	if s.listener != nil {
		s.listener.OnHeartbeat(ctx, ev)
	}
}
