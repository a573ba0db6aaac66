package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

type activityRow struct {
	ID            int64     `db:"id"`
	ProjectID     *string   `db:"project_id"`
	SubjectUserID *string   `db:"subject_user_id"`
	TaskID        *string   `db:"task_id"`
	CommentID     *string   `db:"comment_id"`
	ActorID       string    `db:"actor_id"`
	ActorName     *string   `db:"actor_name"`
	Action        string    `db:"action"`
	Metadata      []byte    `db:"metadata"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r activityRow) toActivity() Activity {
	metadata := json.RawMessage(r.Metadata)
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	entry := Activity{
		ID:            r.ID,
		SubjectUserID: r.SubjectUserID,
		TaskID:        r.TaskID,
		CommentID:     r.CommentID,
		ActorID:       r.ActorID,
		ActorName:     r.ActorName,
		Action:        r.Action,
		Metadata:      metadata,
		CreatedAt:     r.CreatedAt,
	}
	if r.ProjectID != nil {
		entry.ProjectID = *r.ProjectID
	}
	return entry
}

// InsertActivity appends one entry. Rows are immutable once written.
func (s *PostgresStore) InsertActivity(ctx context.Context, entry Activity) (Activity, error) {
	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO activities (project_id, subject_user_id, task_id, comment_id, actor_id, action, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING id, created_at
	`, nullString(entry.ProjectID), entry.SubjectUserID, entry.TaskID, entry.CommentID, entry.ActorID, entry.Action, string(metadata)).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	entry.Metadata = metadata
	return entry, nil
}

// ListActivities returns one page newest first and the total matching count.
func (s *PostgresStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, int, error) {
	where := sq.And{}
	if filter.ProjectID != "" {
		where = append(where, sq.Eq{"a.project_id": filter.ProjectID})
	}
	if filter.TaskID != "" {
		where = append(where, sq.Eq{"a.task_id": filter.TaskID})
	}
	if filter.ActorID != "" {
		where = append(where, sq.Eq{"a.actor_id": filter.ActorID})
	}
	if filter.UserID != "" {
		where = append(where, sq.Or{sq.Eq{"a.actor_id": filter.UserID}, sq.Eq{"a.subject_user_id": filter.UserID}})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("activities a").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count activities: %w", err)
	}
	var total int
	if err := s.dbx.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count activities: %w", err)
	}

	query, args, err := psql.
		Select(
			"a.id", "a.project_id", "a.subject_user_id", "a.task_id", "a.comment_id", "a.actor_id",
			"u.name AS actor_name", "a.action", "a.metadata", "a.created_at",
		).
		From("activities a").
		LeftJoin("users u ON u.id = a.actor_id").
		Where(where).
		OrderBy("a.created_at DESC", "a.id DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list activities: %w", err)
	}

	var rows []activityRow
	if err := s.dbx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	items := make([]Activity, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toActivity())
	}
	return items, total, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
