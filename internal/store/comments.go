package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const commentSelect = `
	SELECT c.id, c.content, c.author_id, c.task_id, c.parent_id, c.is_deleted, c.created_at, c.updated_at,
		u.id, u.name, u.email
	FROM comments c
	JOIN users u ON u.id = c.author_id`

func scanComment(row rowScanner) (Comment, error) {
	var comment Comment
	var author CommentAuthor
	err := row.Scan(
		&comment.ID,
		&comment.Content,
		&comment.AuthorID,
		&comment.TaskID,
		&comment.ParentID,
		&comment.IsDeleted,
		&comment.CreatedAt,
		&comment.UpdatedAt,
		&author.ID,
		&author.Name,
		&author.Email,
	)
	if err != nil {
		return Comment{}, err
	}
	comment.Author = &author
	return comment, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, content, author_id, task_id, parent_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING is_deleted, created_at, updated_at
	`, comment.ID, comment.Content, comment.AuthorID, comment.TaskID, comment.ParentID).Scan(&comment.IsDeleted, &comment.CreatedAt, &comment.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

// GetComment returns the comment with its author, including soft-deleted rows.
func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	comment, err := scanComment(s.db.QueryRowContext(ctx, commentSelect+` WHERE c.id=$1`, commentID))
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return comment, nil
}

// ListCommentsByTask returns live comments oldest first.
func (s *PostgresStore) ListCommentsByTask(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelect+`
		WHERE c.task_id=$1 AND c.is_deleted=FALSE
		ORDER BY c.created_at ASC, c.id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

// ListCommentEdges returns the parent pointer of every comment on the task,
// deleted ones included.
func (s *PostgresStore) ListCommentEdges(ctx context.Context, taskID string) ([]CommentEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id
		FROM comments
		WHERE task_id=$1
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comment edges: %w", err)
	}
	defer rows.Close()

	edges := make([]CommentEdge, 0)
	for rows.Next() {
		var edge CommentEdge
		if err := rows.Scan(&edge.ID, &edge.ParentID); err != nil {
			return nil, fmt.Errorf("scan comment edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment edges: %w", err)
	}
	return edges, nil
}

func (s *PostgresStore) UpdateCommentContent(ctx context.Context, commentID, content string) (Comment, error) {
	var updated Comment
	err := s.db.QueryRowContext(ctx, `
		UPDATE comments
		SET content=$2, updated_at=NOW()
		WHERE id=$1 AND is_deleted=FALSE
		RETURNING id, content, author_id, task_id, parent_id, is_deleted, created_at, updated_at
	`, commentID, content).Scan(
		&updated.ID,
		&updated.Content,
		&updated.AuthorID,
		&updated.TaskID,
		&updated.ParentID,
		&updated.IsDeleted,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return updated, nil
}

// ErrStateChanged reports that the target row was no longer in the state the
// caller checked, usually because a concurrent request got there first.
var ErrStateChanged = errors.New("row state changed")

// SoftDeleteComments flags rootID and the rest of ids as deleted. The root
// must still be live; otherwise nothing changes and ErrStateChanged is
// returned.
func (s *PostgresStore) SoftDeleteComments(ctx context.Context, rootID string, ids []string) (int64, error) {
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := psql.
			Update("comments").
			Set("is_deleted", true).
			Set("updated_at", sq.Expr("NOW()")).
			Where(sq.Eq{"id": rootID, "is_deleted": false}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build soft delete comment: %w", err)
		}
		n, err := execAffected(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("soft delete comment: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("soft delete comment: %w", ErrStateChanged)
		}
		affected = n

		rest := without(ids, rootID)
		if len(rest) == 0 {
			return nil
		}
		query, args, err = psql.
			Update("comments").
			Set("is_deleted", true).
			Set("updated_at", sq.Expr("NOW()")).
			Where(sq.Eq{"id": rest}).
			Where(sq.Eq{"is_deleted": false}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build soft delete replies: %w", err)
		}
		n, err = execAffected(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("soft delete replies: %w", err)
		}
		affected += n
		return nil
	})
	return affected, err
}

// HardDeleteComments removes rootID, which must already be soft-deleted, and
// the rest of ids. Replies, likes and reactions also go through the cascade.
func (s *PostgresStore) HardDeleteComments(ctx context.Context, rootID string, ids []string) (int64, error) {
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := execAffected(ctx, tx, `DELETE FROM comments WHERE id=$1 AND is_deleted=TRUE`, rootID)
		if err != nil {
			return fmt.Errorf("hard delete comment: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("hard delete comment: %w", ErrStateChanged)
		}
		affected = n

		rest := without(ids, rootID)
		if len(rest) == 0 {
			return nil
		}
		query, args, err := psql.Delete("comments").Where(sq.Eq{"id": rest}).ToSql()
		if err != nil {
			return fmt.Errorf("build hard delete replies: %w", err)
		}
		n, err = execAffected(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("hard delete replies: %w", err)
		}
		affected += n
		return nil
	})
	return affected, err
}

func execAffected(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
