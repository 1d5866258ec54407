package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders tasks for claiming. Lower value is served first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Ref returns a pointer to p, for optional priority fields.
func (p Priority) Ref() *Priority { return &p }

// ParsePriority maps a priority name to its value. Empty input means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// TaskType records where a task came from. Provenance only, never affects
// claim ordering.
type TaskType string

const (
	TaskTypeManual    TaskType = "manual"
	TaskTypeScheduled TaskType = "scheduled"
	TaskTypeTriggered TaskType = "triggered"
	TaskTypeDelegated TaskType = "delegated"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status is immutable.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is the unit of work in the execution core.
type Task struct {
	ID            string     `json:"id"`
	Description   string     `json:"description"`
	Priority      Priority   `json:"priority"`
	Type          TaskType   `json:"task_type"`
	TargetHandler string     `json:"target_handler,omitempty"`
	Status        TaskStatus `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	CreatedAt     time.Time  `json:"created_at"`
	RunAt         *time.Time `json:"run_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Result        string     `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
	Metadata      string     `json:"metadata,omitempty"`
}

// Due reports whether the task is eligible to be claimed at the given time.
func (t *Task) Due(now time.Time) bool {
	return t.RunAt == nil || !t.RunAt.After(now)
}

// HeartbeatEvent is produced once per scheduler wake. Never persisted.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
	Pending   []*Task   `json:"pending"`
	Actions   []string  `json:"actions"`
}
