package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskflow/api/internal/util"
)

// toggleAttempts bounds retries when a concurrent toggle on the same
// (comment, user) pair removes or inserts the row between statements.
const toggleAttempts = 3

var ErrToggleContention = errors.New("toggle contention")

// ToggleCommentLike flips the viewer's like. The unique (comment_id, user_id)
// constraint arbitrates concurrent callers: an insert that conflicts falls
// through to a delete.
func (s *PostgresStore) ToggleCommentLike(ctx context.Context, commentID, userID string) (bool, error) {
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		var id string
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO comment_likes (id, comment_id, user_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (comment_id, user_id) DO NOTHING
			RETURNING id
		`, util.NewID(), commentID, userID).Scan(&id)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("insert comment like: %w", err)
		}

		result, err := s.db.ExecContext(ctx, `
			DELETE FROM comment_likes WHERE comment_id=$1 AND user_id=$2
		`, commentID, userID)
		if err != nil {
			return false, fmt.Errorf("delete comment like: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("delete comment like rows: %w", err)
		}
		if affected > 0 {
			return false, nil
		}
	}
	return false, fmt.Errorf("toggle comment like: %w", ErrToggleContention)
}

// ToggleCommentReaction applies the exclusive-reaction rules: no row inserts,
// the same emoji removes, a different emoji replaces in place.
func (s *PostgresStore) ToggleCommentReaction(ctx context.Context, commentID, userID, emoji string) (ReactionToggle, error) {
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		reaction := Reaction{CommentID: commentID, UserID: userID, Emoji: emoji}
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO comment_reactions (id, comment_id, user_id, emoji)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (comment_id, user_id) DO NOTHING
			RETURNING id, created_at, updated_at
		`, util.NewID(), commentID, userID, emoji).Scan(&reaction.ID, &reaction.CreatedAt, &reaction.UpdatedAt)
		if err == nil {
			return ReactionToggle{Action: ReactionAdded, Reaction: &reaction}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return ReactionToggle{}, fmt.Errorf("insert comment reaction: %w", err)
		}

		var removedID string
		err = s.db.QueryRowContext(ctx, `
			DELETE FROM comment_reactions
			WHERE comment_id=$1 AND user_id=$2 AND emoji=$3
			RETURNING id
		`, commentID, userID, emoji).Scan(&removedID)
		if err == nil {
			return ReactionToggle{Action: ReactionRemoved, PreviousEmoji: emoji}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return ReactionToggle{}, fmt.Errorf("delete comment reaction: %w", err)
		}

		var previous string
		err = s.db.QueryRowContext(ctx, `
			UPDATE comment_reactions r
			SET emoji=$3, updated_at=NOW()
			FROM (
				SELECT id, emoji FROM comment_reactions
				WHERE comment_id=$1 AND user_id=$2
				FOR UPDATE
			) prev
			WHERE r.id = prev.id AND prev.emoji <> $3
			RETURNING r.id, prev.emoji, r.created_at, r.updated_at
		`, commentID, userID, emoji).Scan(&reaction.ID, &previous, &reaction.CreatedAt, &reaction.UpdatedAt)
		if err == nil {
			return ReactionToggle{Action: ReactionUpdated, Reaction: &reaction, PreviousEmoji: previous}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return ReactionToggle{}, fmt.Errorf("update comment reaction: %w", err)
		}
	}
	return ReactionToggle{}, fmt.Errorf("toggle comment reaction: %w", ErrToggleContention)
}

// CountCommentLikes returns the like total and whether viewerID is among them.
func (s *PostgresStore) CountCommentLikes(ctx context.Context, commentID, viewerID string) (int, bool, error) {
	var total int
	var likedByViewer bool
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int, COALESCE(BOOL_OR(user_id::text = $2), FALSE)
		FROM comment_likes
		WHERE comment_id=$1
	`, commentID, viewerID).Scan(&total, &likedByViewer)
	if err != nil {
		return 0, false, fmt.Errorf("count comment likes: %w", err)
	}
	return total, likedByViewer, nil
}

// ListCommentReactionCounts groups reactions by emoji, most used first.
func (s *PostgresStore) ListCommentReactionCounts(ctx context.Context, commentID, viewerID string) ([]ReactionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT emoji, COUNT(*)::int, BOOL_OR(user_id::text = $2)
		FROM comment_reactions
		WHERE comment_id=$1
		GROUP BY emoji
		ORDER BY COUNT(*) DESC, emoji ASC
	`, commentID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list comment reaction counts: %w", err)
	}
	defer rows.Close()

	counts := make([]ReactionCount, 0)
	for rows.Next() {
		var item ReactionCount
		if err := rows.Scan(&item.Emoji, &item.Count, &item.ReactedByViewer); err != nil {
			return nil, fmt.Errorf("scan comment reaction count: %w", err)
		}
		counts = append(counts, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment reaction counts: %w", err)
	}
	return counts, nil
}
