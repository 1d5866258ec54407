package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
)

// TaskRepo is an in-memory task repository. It backs tests and the
// storage-less dev mode; a single mutex makes every mutation, claiming
// included, one atomic step.
type TaskRepo struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	seq   int64
}

func NewTaskRepo() *TaskRepo {
	return &TaskRepo{tasks: make(map[string]*domain.Task)}
}

func (r *TaskRepo) Add(ctx context.Context, p storage.AddParams) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Type == "" {
		p.Type = domain.TaskTypeManual
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	r.seq++
	t := &domain.Task{
		ID:            uuid.NewString(),
		Description:   p.Description,
		Priority:      p.EffectivePriority(),
		Type:          p.Type,
		TargetHandler: p.TargetHandler,
		Status:        domain.TaskStatusPending,
		MaxRetries:    p.MaxRetries,
		CreatedAt:     time.Now().Add(time.Duration(r.seq) * time.Nanosecond),
		RunAt:         p.RunAt,
		Metadata:      p.Metadata,
	}
	r.tasks[t.ID] = t
	return t.ID, nil
}

// ClaimNext picks the best eligible pending task and flips it to
// in_progress under the same lock, so two overlapping claims can never
// return the same task.
func (r *TaskRepo) ClaimNext(ctx context.Context) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var best *domain.Task
	for _, t := range r.tasks {
		if t.Status != domain.TaskStatusPending || !t.Due(now) {
			continue
		}
		if best == nil || claimBefore(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = domain.TaskStatusInProgress
	started := now
	best.StartedAt = &started
	return copyTask(best), nil
}

func (r *TaskRepo) Complete(ctx context.Context, id, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.inProgress(id)
	if err != nil {
		return err
	}
	now := time.Now()
	t.Status = domain.TaskStatusCompleted
	t.CompletedAt = &now
	t.Result = storage.Truncate(result)
	return nil
}

func (r *TaskRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.inProgress(id)
	if err != nil {
		return false, err
	}
	t.RetryCount++
	t.Error = storage.Truncate(errMsg)
	if t.RetryCount < t.MaxRetries {
		t.Status = domain.TaskStatusPending
		t.StartedAt = nil
		return true, nil
	}
	now := time.Now()
	t.Status = domain.TaskStatusFailed
	t.CompletedAt = &now
	return false, nil
}

func (r *TaskRepo) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return storage.ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return storage.ErrTerminalState
	}
	t.Status = domain.TaskStatusCancelled
	return nil
}

func (r *TaskRepo) GetPending(ctx context.Context) ([]*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Task
	for _, t := range r.tasks {
		if t.Status == domain.TaskStatusPending {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return claimBefore(out[i], out[j]) })
	return out, nil
}

func (r *TaskRepo) GetAll(ctx context.Context, limit int) ([]*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]*domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TaskRepo) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, storage.ErrTaskNotFound
	}
	return copyTask(t), nil
}

func (r *TaskRepo) Stats(ctx context.Context) (map[domain.TaskStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[domain.TaskStatus]int)
	for _, t := range r.tasks {
		stats[t.Status]++
	}
	return stats, nil
}

func (r *TaskRepo) GetDueReminders(ctx context.Context) ([]*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.Status == domain.TaskStatusPending && t.RunAt != nil && !t.RunAt.After(now) {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(*out[j].RunAt) })
	return out, nil
}

func (r *TaskRepo) ImportLegacy(ctx context.Context, records []storage.LegacyRecord) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	imported := 0
	for _, rec := range records {
		if _, exists := r.tasks[rec.ID]; exists {
			continue
		}
		r.tasks[rec.ID] = &domain.Task{
			ID:          rec.ID,
			Description: rec.Description,
			Priority:    storage.RemapLegacyPriority(rec.Priority),
			Type:        domain.TaskTypeManual,
			Status:      storage.RemapLegacyStatus(rec.Status),
			MaxRetries:  3,
			CreatedAt:   rec.CreatedAt,
			CompletedAt: rec.CompletedAt,
		}
		imported++
	}
	return imported, nil
}

// inProgress returns the live task only when a worker holds it.
func (r *TaskRepo) inProgress(id string) (*domain.Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, storage.ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return nil, storage.ErrTerminalState
	}
	if t.Status != domain.TaskStatusInProgress {
		return nil, storage.ErrNotInProgress
	}
	return t, nil
}

// claimBefore orders tasks by (priority asc, created_at asc).
func claimBefore(a, b *domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func copyTask(t *domain.Task) *domain.Task {
	c := *t
	return &c
}
