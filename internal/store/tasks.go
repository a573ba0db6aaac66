package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const taskColumns = `id, project_id, title, description, status, priority, assigned_to, due_date, created_by, is_deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var task Task
	err := row.Scan(
		&task.ID,
		&task.ProjectID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.Priority,
		&task.AssignedTo,
		&task.DueDate,
		&task.CreatedBy,
		&task.IsDeleted,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	return task, err
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) (Task, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, priority, assigned_to, due_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, task.ID, task.ProjectID, task.Title, task.Description, task.Status, task.Priority, task.AssignedTo, task.DueDate, task.CreatedBy).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetTask returns the task whether or not it is soft-deleted.
func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID))
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, int, error) {
	where := sq.And{sq.Eq{"project_id": filter.ProjectID}}
	if !filter.IncludeDeleted {
		where = append(where, sq.Eq{"is_deleted": false})
	}
	if filter.Status != "" {
		where = append(where, sq.Eq{"status": filter.Status})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("tasks").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count tasks: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	query, args, err := psql.Select(taskColumns).
		From("tasks").
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list tasks: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, total, nil
}

// UpdateTask persists the editable fields of task.
func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) (Task, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET title=$2, description=$3, priority=$4, assigned_to=$5, due_date=$6, updated_at=NOW()
		WHERE id=$1
		RETURNING updated_at
	`, task.ID, task.Title, task.Description, task.Priority, task.AssignedTo, task.DueDate).Scan(&task.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=$2, updated_at=NOW() WHERE id=$1
	`, taskID, status)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return requireAffected(result, "update task status")
}

func (s *PostgresStore) SetTaskDeleted(ctx context.Context, taskID string, deleted bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET is_deleted=$2, updated_at=NOW() WHERE id=$1
	`, taskID, deleted)
	if err != nil {
		return fmt.Errorf("set task deleted: %w", err)
	}
	return requireAffected(result, "set task deleted")
}

// DeleteTask removes the task; its comments, likes and reactions cascade.
func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireAffected(result, "delete task")
}
