package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
)

const taskColumns = `id, description, priority, task_type, target_handler, status,
retry_count, max_retries, created_at, run_at, started_at, completed_at,
result, error, metadata`

// TaskRepo is the PostgreSQL-backed task repository.
type TaskRepo struct {
	db *sql.DB
}

func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db.DB}
}

func (r *TaskRepo) Add(ctx context.Context, p storage.AddParams) (string, error) {
	id := uuid.NewString()
	if p.Type == "" {
		p.Type = domain.TaskTypeManual
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, description, priority, task_type, target_handler, status,
		                   retry_count, max_retries, created_at, run_at, metadata)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), 'pending', 0, $6, NOW(), $7, NULLIF($8, ''))`,
		id, p.Description, int(p.EffectivePriority()), string(p.Type), p.TargetHandler,
		p.MaxRetries, p.RunAt, p.Metadata)
	if err != nil {
		return "", fmt.Errorf("add task: %w", err)
	}
	return id, nil
}

// ClaimNext selects the best eligible pending task and flips it to
// in_progress in one statement. SKIP LOCKED keeps two overlapping claims
// from ever returning the same row.
func (r *TaskRepo) ClaimNext(ctx context.Context) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		WITH candidate AS (
			SELECT id FROM tasks
			WHERE status = 'pending' AND (run_at IS NULL OR run_at <= NOW())
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tasks t
		SET status = 'in_progress', started_at = NOW()
		FROM candidate c
		WHERE t.id = c.id
		RETURNING `+prefixed("t.", taskColumns))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) Complete(ctx context.Context, id, result string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'completed', completed_at = NOW(), result = $2
		WHERE id = $1 AND status = 'in_progress'`,
		id, storage.Truncate(result))
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	return r.checkMutated(ctx, res, id)
}

func (r *TaskRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET retry_count = retry_count + 1,
		    error       = $2,
		    status      = CASE WHEN retry_count + 1 < max_retries THEN 'pending' ELSE 'failed' END,
		    started_at  = CASE WHEN retry_count + 1 < max_retries THEN NULL ELSE started_at END,
		    completed_at = CASE WHEN retry_count + 1 < max_retries THEN NULL ELSE NOW() END
		WHERE id = $1 AND status = 'in_progress'
		RETURNING status`,
		id, storage.Truncate(errMsg)).Scan(&status)
	if err == sql.ErrNoRows {
		return false, r.notMutatedErr(ctx, id)
	}
	if err != nil {
		return false, fmt.Errorf("fail task %s: %w", id, err)
	}
	return status == string(domain.TaskStatusPending), nil
}

func (r *TaskRepo) Cancel(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'cancelled'
		WHERE id = $1 AND status IN ('pending', 'in_progress')`, id)
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", id, err)
	}
	return r.checkMutated(ctx, res, id)
}

func (r *TaskRepo) GetPending(ctx context.Context) ([]*domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("get pending tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) GetAll(ctx context.Context, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("get all tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (r *TaskRepo) Stats(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[domain.TaskStatus(status)] = count
	}
	return stats, rows.Err()
}

func (r *TaskRepo) GetDueReminders(ctx context.Context) ([]*domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'pending' AND run_at IS NOT NULL AND run_at <= NOW()
		ORDER BY run_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("get due reminders: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ImportLegacy(ctx context.Context, records []storage.LegacyRecord) (int, error) {
	imported := 0
	for _, rec := range records {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO tasks (id, description, priority, task_type, status,
			                   retry_count, max_retries, created_at, completed_at)
			VALUES ($1, $2, $3, 'manual', $4, 0, 3, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.Description,
			int(storage.RemapLegacyPriority(rec.Priority)),
			string(storage.RemapLegacyStatus(rec.Status)),
			rec.CreatedAt, rec.CompletedAt)
		if err != nil {
			return imported, fmt.Errorf("import legacy record %s: %w", rec.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return imported, err
		}
		imported += int(n)
	}
	return imported, nil
}

// checkMutated distinguishes a missing row from a terminal one after a
// guarded UPDATE touched nothing.
func (r *TaskRepo) checkMutated(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return r.notMutatedErr(ctx, id)
}

func (r *TaskRepo) notMutatedErr(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return storage.ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if domain.TaskStatus(status).Terminal() {
		return storage.ErrTerminalState
	}
	return storage.ErrNotInProgress
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var priority int
	var taskType, status string
	var targetHandler, result, errMsg, metadata sql.NullString
	var runAt, startedAt, completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Description, &priority, &taskType, &targetHandler,
		&status, &t.RetryCount, &t.MaxRetries, &t.CreatedAt,
		&runAt, &startedAt, &completedAt, &result, &errMsg, &metadata)
	if err != nil {
		return nil, err
	}

	t.Priority = domain.Priority(priority)
	t.Type = domain.TaskType(taskType)
	t.Status = domain.TaskStatus(status)
	t.TargetHandler = targetHandler.String
	t.Result = result.String
	t.Error = errMsg.String
	t.Metadata = metadata.String
	if runAt.Valid {
		t.RunAt = &runAt.Time
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
