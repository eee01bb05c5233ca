package mysql

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"timebid/internal/domain"
)

const taskColumns = `id, kind, reference, payload, status, attempts, last_error, run_at, created_at, updated_at`

type taskRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Reference string    `db:"reference"`
	Payload   jsonMap   `db:"payload"`
	Status    string    `db:"status"`
	Attempts  int       `db:"attempts"`
	LastError string    `db:"last_error"`
	RunAt     time.Time `db:"run_at"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type reconciliationRepository struct {
	q sqlx.ExtContext
}

func (r *reconciliationRepository) CreateTask(ctx context.Context, task *domain.ReconciliationTask) error {
	query := `
        INSERT INTO reconciliation_tasks (` + taskColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.q.ExecContext(ctx, query,
		task.ID, string(task.Kind), task.Reference, jsonMap(task.Payload),
		string(task.Status), task.Attempts, task.LastError,
		task.RunAt, task.CreatedAt, task.UpdatedAt)
	return mapError(err, "reconciliation task")
}

func (r *reconciliationRepository) GetPendingTasks(ctx context.Context, before time.Time, limit int) ([]*domain.ReconciliationTask, error) {
	query := `
        SELECT ` + taskColumns + `
        FROM reconciliation_tasks
        WHERE status = 'pending' AND run_at <= ?
        ORDER BY run_at ASC
        LIMIT ?
    `
	var rows []taskRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, before, limit); err != nil {
		return nil, mapError(err, "reconciliation tasks")
	}

	tasks := make([]*domain.ReconciliationTask, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, &domain.ReconciliationTask{
			ID:        row.ID,
			Kind:      domain.TaskKind(row.Kind),
			Reference: row.Reference,
			Payload:   row.Payload,
			Status:    domain.TaskStatus(row.Status),
			Attempts:  row.Attempts,
			LastError: row.LastError,
			RunAt:     row.RunAt,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return tasks, nil
}

func (r *reconciliationRepository) UpdateTask(ctx context.Context, task *domain.ReconciliationTask) error {
	query := `
        UPDATE reconciliation_tasks
        SET status = ?, attempts = ?, last_error = ?, run_at = ?, updated_at = ?
        WHERE id = ?
    `
	_, err := r.q.ExecContext(ctx, query,
		string(task.Status), task.Attempts, task.LastError, task.RunAt, task.UpdatedAt, task.ID)
	return mapError(err, "reconciliation task")
}
