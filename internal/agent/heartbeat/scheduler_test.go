package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage/memory"
)

type recordingListener struct {
	mu     sync.Mutex
	events []domain.HeartbeatEvent
}

func (l *recordingListener) OnHeartbeat(_ context.Context, ev domain.HeartbeatEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) snapshot() []domain.HeartbeatEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.HeartbeatEvent(nil), l.events...)
}

func TestScheduler_ManualTrigger(t *testing.T) {
	repo := memory.NewTaskRepo()
	if _, err := repo.Add(context.Background(), storage.AddParams{Description: "pending work"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	listener := &recordingListener{}
	s := NewScheduler(Config{Interval: time.Hour}, repo, listener)
	s.Start(context.Background())
	defer s.Stop()

	s.Trigger()

	waitFor(t, func() bool { return len(listener.snapshot()) == 1 })

	ev := listener.snapshot()[0]
	if ev.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", ev.Sequence)
	}
	if len(ev.Pending) != 1 {
		t.Errorf("expected 1 pending task in snapshot, got %d", len(ev.Pending))
	}
}

func TestScheduler_StatusFields(t *testing.T) {
	repo := memory.NewTaskRepo()
	s := NewScheduler(Config{Interval: 30 * time.Minute}, repo, nil)

	st := s.Status()
	if st.Running {
		t.Error("scheduler should not be running before Start")
	}
	if st.HeartbeatCount != 0 {
		t.Errorf("expected 0 heartbeats, got %d", st.HeartbeatCount)
	}

	s.Start(context.Background())
	defer s.Stop()

	s.Trigger()
	waitFor(t, func() bool { return s.Status().HeartbeatCount == 1 })

	st = s.Status()
	if !st.Running {
		t.Error("scheduler should report running")
	}
	if st.IntervalMinutes != 30 {
		t.Errorf("expected interval 30 min, got %v", st.IntervalMinutes)
	}
	if st.LastHeartbeat == nil {
		t.Error("expected last heartbeat to be set")
	}
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	repo := memory.NewTaskRepo()
	s := NewScheduler(Config{Interval: time.Hour}, repo, nil)

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()

	if s.Status().Running {
		t.Error("scheduler should be stopped")
	}

	// Restart after stop works.
	s.Start(context.Background())
	s.Trigger()
	waitFor(t, func() bool { return s.Status().HeartbeatCount >= 1 })
	s.Stop()
}

func TestScheduler_MaintenanceActions(t *testing.T) {
	repo := memory.NewTaskRepo()
	listener := &recordingListener{}

	var mu sync.Mutex
	refreshes, syncs := 0, 0

	s := NewScheduler(Config{
		Interval:                 time.Hour,
		SelfModelRefreshInterval: time.Hour,
		MemorySyncEvery:          2,
	}, repo, listener)
	s.SetSelfModelRefresh(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		refreshes++
		return nil
	})
	s.SetMemorySync(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		syncs++
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 4; i++ {
		s.Trigger()
		want := i + 1
		waitFor(t, func() bool { return len(listener.snapshot()) == want })
	}

	mu.Lock()
	defer mu.Unlock()
	// The refresh interval has not elapsed again after the first run.
	if refreshes != 1 {
		t.Errorf("expected 1 self-model refresh, got %d", refreshes)
	}
	// Beats 2 and 4.
	if syncs != 2 {
		t.Errorf("expected 2 memory syncs, got %d", syncs)
	}

	events := listener.snapshot()
	if len(events[0].Actions) != 1 || events[0].Actions[0] != "self_model_refresh" {
		t.Errorf("beat 1 actions = %v", events[0].Actions)
	}
	if len(events[1].Actions) != 1 || events[1].Actions[0] != "memory_sync" {
		t.Errorf("beat 2 actions = %v", events[1].Actions)
	}
	if st := s.Status(); st.LastSelfModelRefresh == nil {
		t.Error("expected last self-model refresh to be recorded")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
