package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
)

var (
	// ErrTaskNotFound is returned when a task id does not exist
	ErrTaskNotFound = errors.New("task not found")

	// ErrTerminalState is returned when a mutation targets a completed,
	// failed or cancelled task
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrNotInProgress is returned when Complete or Fail targets a task
	// no worker holds
	ErrNotInProgress = errors.New("task is not in progress")
)

// ResultLimit caps stored result and error text.
const ResultLimit = 2000

// AddParams describes a new task. Zero values get store defaults:
// priority normal, type manual, max retries 3. Priority is a pointer
// because critical is the zero value; nil means normal.
type AddParams struct {
	Description   string
	Priority      *domain.Priority
	Type          domain.TaskType
	TargetHandler string
	MaxRetries    int
	RunAt         *time.Time
	Metadata      string
}

// EffectivePriority resolves the priority an Add call should store.
func (p AddParams) EffectivePriority() domain.Priority {
	if p.Priority == nil {
		return domain.PriorityNormal
	}
	return *p.Priority
}

// LegacyRecord is one row from the pre-migration task list. Priority is on
// the legacy 1-10 urgency scale and gets remapped on import.
type LegacyRecord struct {
	ID          string
	Description string
	Priority    int
	Status      string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// TaskRepository handles durable task storage. It is the only mutable
// shared resource in the core; all mutation funnels through it.
type TaskRepository interface {
	// Add inserts a pending task and returns its id
	Add(ctx context.Context, p AddParams) (string, error)

	// ClaimNext atomically flips the highest-priority, oldest, due pending
	// task to in_progress and returns it. Returns (nil, nil) when nothing
	// is eligible. Implemented as a single conditional update-and-return,
	// never a read followed by a write.
	ClaimNext(ctx context.Context) (*domain.Task, error)

	// Complete marks an in_progress task completed with a truncated result
	Complete(ctx context.Context, id, result string) error

	// Fail records a failure. Returns true when the task went back to
	// pending for another attempt, false when it is terminally failed.
	Fail(ctx context.Context, id, errMsg string) (bool, error)

	// Cancel moves any non-terminal task to cancelled
	Cancel(ctx context.Context, id string) error

	// GetPending returns pending tasks in claim order
	GetPending(ctx context.Context) ([]*domain.Task, error)

	// GetAll returns tasks newest first, up to limit
	GetAll(ctx context.Context, limit int) ([]*domain.Task, error)

	// GetByID retrieves a single task
	GetByID(ctx context.Context, id string) (*domain.Task, error)

	// Stats returns task counts by status
	Stats(ctx context.Context) (map[domain.TaskStatus]int, error)

	// GetDueReminders returns pending tasks whose run_at has passed,
	// ascending by run_at
	GetDueReminders(ctx context.Context) ([]*domain.Task, error)

	// ImportLegacy inserts legacy records, skipping ids that already
	// exist, and returns the number imported
	ImportLegacy(ctx context.Context, records []LegacyRecord) (int, error)
}

// Truncate caps s at ResultLimit bytes.
func Truncate(s string) string {
	if len(s) <= ResultLimit {
		return s
	}
	return s[:ResultLimit]
}

// RemapLegacyStatus maps legacy status labels onto the task state machine.
// Unrecognized labels come in as pending so the worker picks them up.
func RemapLegacyStatus(s string) domain.TaskStatus {
	switch s {
	case "done", "completed", "complete":
		return domain.TaskStatusCompleted
	case "failed", "error":
		return domain.TaskStatusFailed
	case "cancelled", "canceled", "dropped":
		return domain.TaskStatusCancelled
	default:
		return domain.TaskStatusPending
	}
}

// RemapLegacyPriority converts the legacy 1-10 urgency scale to the 0-3
// priority scale. Out-of-range values fall back to normal.
func RemapLegacyPriority(p int) domain.Priority {
	switch {
	case p <= 0 || p > 10:
		return domain.PriorityNormal
	case p <= 2:
		return domain.PriorityCritical
	case p <= 4:
		return domain.PriorityHigh
	case p <= 7:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}
