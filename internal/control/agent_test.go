package control

import (
	"context"
	"testing"
	"time"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/config"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Server: config.ServerConfig{Port: 0},
		Agent: config.AgentConfig{
			HeartbeatIntervalMinutes: 60,
			SelfModelRefreshMinutes:  60,
			MemorySyncEvery:          4,
			MaxAttempts:              3,
			AttemptTimeoutMinutes:    1,
			WorkerPollSeconds:        3600,
			DefaultHandler:           "assistant",
			Failover: map[string][]string{
				"assistant": {"fallback"},
			},
		},
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
	t.Fatal("condition not met before deadline")
}

func TestAgent_ExecutesTaskEndToEnd(t *testing.T) {
	agent, err := NewAgent(testConfig())
	if err != nil {
		t.Fatalf("NewAgent failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agent.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agent.Stop(context.Background())

	id, err := agent.store.Add(ctx, storage.AddParams{Description: "write summary"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	agent.scheduler.Trigger()

	waitFor(t, func() bool {
		task, err := agent.store.GetByID(ctx, id)
		return err == nil && task.Status == domain.TaskStatusCompleted
	})

	task, err := agent.store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if task.Result == "" {
		t.Error("Expected a result from the default handler")
	}
}

func TestAgent_FailoverToRegisteredHandler(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.BackoffSeconds = map[string]int{"timeout": 0}
	agent, err := NewAgent(cfg)
	if err != nil {
		t.Fatalf("NewAgent failed: %v", err)
	}

	// Primary always fails with a failover-eligible error
	agent.RegisterHandler("assistant", func(ctx context.Context, task *domain.Task) (string, error) {
		return "", context.DeadlineExceeded
	})
	agent.RegisterHandler("fallback", func(ctx context.Context, task *domain.Task) (string, error) {
		return "handled by fallback", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agent.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agent.Stop(context.Background())

	id, err := agent.store.Add(ctx, storage.AddParams{Description: "needs fallback"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	agent.scheduler.Trigger()

	waitFor(t, func() bool {
		task, err := agent.store.GetByID(ctx, id)
		return err == nil && task.Status == domain.TaskStatusCompleted
	})

	task, _ := agent.store.GetByID(ctx, id)
	if task.Result != "handled by fallback" {
		t.Errorf("Expected fallback result, got %q", task.Result)
	}
}

func TestAgent_UnregisteredHandlerFailsTask(t *testing.T) {
	agent, err := NewAgent(testConfig())
	if err != nil {
		t.Fatalf("NewAgent failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agent.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agent.Stop(context.Background())

	id, err := agent.store.Add(ctx, storage.AddParams{
		Description:   "routed nowhere",
		TargetHandler: "missing",
		MaxRetries:    1,
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	agent.scheduler.Trigger()

	waitFor(t, func() bool {
		task, err := agent.store.GetByID(ctx, id)
		return err == nil && task.Status == domain.TaskStatusFailed
	})

	task, _ := agent.store.GetByID(ctx, id)
	if task.Error == "" {
		t.Error("Expected the failure to be recorded on the task")
	}
}
