package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres implements Searcher with a case-insensitive substring match over
// live comments.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: sqlx.NewDb(db, "pgx")}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *Postgres) Healthy() bool {
	return true
}

func liveComments(columns ...string) sq.SelectBuilder {
	return psql.Select(columns...).
		From("comments c").
		Join("tasks t ON t.id = c.task_id").
		Where(sq.Eq{"c.is_deleted": false, "t.is_deleted": false})
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []Result{}, 0, nil
	}

	where := sq.And{
		sq.Eq{"t.project_id": q.ProjectID},
		sq.ILike{"c.content": "%" + escapeLike(text) + "%"},
	}
	if q.TaskID != "" {
		where = append(where, sq.Eq{"c.task_id": q.TaskID})
	}

	countQuery, countArgs, err := liveComments("COUNT(*)").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build comment search count: %w", err)
	}
	var total int
	if err := p.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("comment search count: %w", err)
	}

	query, args, err := liveComments("c.id", "c.content", "c.task_id", "t.project_id", "c.author_id").
		Where(where).
		OrderBy("c.created_at DESC", "c.id DESC").
		Limit(uint64(clampLimit(q.Limit))).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build comment search: %w", err)
	}
	var records []CommentRecord
	if err := p.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("comment search: %w", err)
	}

	results := make([]Result, 0, len(records))
	for _, record := range records {
		results = append(results, Result{
			ID:        record.ID,
			Snippet:   record.Content,
			TaskID:    record.TaskID,
			ProjectID: record.ProjectID,
			AuthorID:  record.AuthorID,
		})
	}
	return results, total, nil
}

// LoadComments returns every live comment for a full reindex.
func (p *Postgres) LoadComments(ctx context.Context) ([]CommentRecord, error) {
	query, args, err := liveComments("c.id", "c.content", "c.task_id", "t.project_id", "c.author_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build load comments: %w", err)
	}
	records := make([]CommentRecord, 0)
	if err := p.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	return records, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
