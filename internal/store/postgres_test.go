package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestToggleCommentLike(t *testing.T) {
	ctx := context.Background()

	t.Run("InsertsWhenAbsent", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO comment_likes .* ON CONFLICT \(comment_id, user_id\) DO NOTHING RETURNING id`).
			WithArgs(sqlmock.AnyArg(), "c1", "u1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("l1"))

		liked, err := s.ToggleCommentLike(ctx, "c1", "u1")
		require.NoError(t, err)
		assert.True(t, liked)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DeletesWhenPresent", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO comment_likes`).
			WithArgs(sqlmock.AnyArg(), "c1", "u1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(`DELETE FROM comment_likes WHERE comment_id=\$1 AND user_id=\$2`).
			WithArgs("c1", "u1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		liked, err := s.ToggleCommentLike(ctx, "c1", "u1")
		require.NoError(t, err)
		assert.False(t, liked)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RetriesThenGivesUp", func(t *testing.T) {
		s, mock := newMockStore(t)
		for i := 0; i < toggleAttempts; i++ {
			mock.ExpectQuery(`INSERT INTO comment_likes`).
				WillReturnRows(sqlmock.NewRows([]string{"id"}))
			mock.ExpectExec(`DELETE FROM comment_likes`).
				WillReturnResult(sqlmock.NewResult(0, 0))
		}

		_, err := s.ToggleCommentLike(ctx, "c1", "u1")
		assert.ErrorIs(t, err, ErrToggleContention)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PropagatesStorageErrors", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO comment_likes`).
			WillReturnError(errors.New("connection reset"))

		_, err := s.ToggleCommentLike(ctx, "c1", "u1")
		assert.ErrorContains(t, err, "insert comment like")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestToggleCommentReaction(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Added", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO comment_reactions`).
			WithArgs(sqlmock.AnyArg(), "c1", "u1", "👍").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("r1", now, now))

		result, err := s.ToggleCommentReaction(ctx, "c1", "u1", "👍")
		require.NoError(t, err)
		assert.Equal(t, ReactionAdded, result.Action)
		require.NotNil(t, result.Reaction)
		assert.Equal(t, "r1", result.Reaction.ID)
		assert.Equal(t, "👍", result.Reaction.Emoji)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RemovedWhenSameEmoji", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO comment_reactions`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))
		mock.ExpectQuery(`DELETE FROM comment_reactions WHERE comment_id=\$1 AND user_id=\$2 AND emoji=\$3 RETURNING id`).
			WithArgs("c1", "u1", "👍").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))

		result, err := s.ToggleCommentReaction(ctx, "c1", "u1", "👍")
		require.NoError(t, err)
		assert.Equal(t, ReactionRemoved, result.Action)
		assert.Nil(t, result.Reaction)
		assert.Equal(t, "👍", result.PreviousEmoji)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UpdatedWhenDifferentEmoji", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO comment_reactions`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))
		mock.ExpectQuery(`DELETE FROM comment_reactions`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(`UPDATE comment_reactions r SET emoji=\$3`).
			WithArgs("c1", "u1", "🎉").
			WillReturnRows(sqlmock.NewRows([]string{"id", "emoji", "created_at", "updated_at"}).AddRow("r1", "👍", now, now))

		result, err := s.ToggleCommentReaction(ctx, "c1", "u1", "🎉")
		require.NoError(t, err)
		assert.Equal(t, ReactionUpdated, result.Action)
		assert.Equal(t, "👍", result.PreviousEmoji)
		require.NotNil(t, result.Reaction)
		assert.Equal(t, "🎉", result.Reaction.Emoji)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSoftDeleteCommentsGuardsRootThenCascades(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE comments SET is_deleted = \$1, updated_at = NOW\(\) WHERE id = \$2 AND is_deleted = \$3`).
		WithArgs(true, "R", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE comments SET is_deleted = \$1, updated_at = NOW\(\) WHERE id IN \(\$2,\$3\) AND is_deleted = \$4`).
		WithArgs(true, "C1", "C1a", false).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	affected, err := s.SoftDeleteComments(context.Background(), "R", []string{"R", "C1", "C1a"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteCommentsRejectsAlreadyDeletedRoot(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE comments SET is_deleted = \$1, updated_at = NOW\(\) WHERE id = \$2 AND is_deleted = \$3`).
		WithArgs(true, "R", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.SoftDeleteComments(context.Background(), "R", []string{"R", "C1"})
	require.ErrorIs(t, err, ErrStateChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHardDeleteCommentsRequiresSoftDeletedRoot(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM comments WHERE id=\$1 AND is_deleted=TRUE`).
		WithArgs("R").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.HardDeleteComments(context.Background(), "R", []string{"R"})
	require.ErrorIs(t, err, ErrStateChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHardDeleteCommentsRemovesRemainingIDs(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM comments WHERE id=\$1 AND is_deleted=TRUE`).
		WithArgs("R").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM comments WHERE id IN \(\$1\)`).
		WithArgs("C1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	affected, err := s.HardDeleteComments(context.Background(), "R", []string{"R", "C1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCommentNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM comments c JOIN users u ON u.id = c.author_id WHERE c.id=\$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetComment(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListActivitiesPaginatesNewestFirst(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	taskID := "t1"

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM activities a WHERE \(a.project_id = \$1\)`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT a.id, .* FROM activities a LEFT JOIN users u ON u.id = a.actor_id WHERE \(a.project_id = \$1\) ORDER BY a.created_at DESC, a.id DESC LIMIT 10 OFFSET 10`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "task_id", "comment_id", "actor_id", "actor_name", "action", "metadata", "created_at"}).
			AddRow(int64(2), "p1", taskID, nil, "u1", "Avery", "task_created", []byte(`{"title":"T"}`), now).
			AddRow(int64(1), "p1", nil, nil, "u1", nil, "project_created", nil, now.Add(-time.Minute)))

	items, total, err := s.ListActivities(context.Background(), ActivityFilter{ProjectID: "p1", Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, items, 2)
	assert.Equal(t, int64(2), items[0].ID)
	require.NotNil(t, items[0].TaskID)
	assert.Equal(t, "t1", *items[0].TaskID)
	assert.Equal(t, "Avery", *items[0].ActorName)
	assert.JSONEq(t, `{"title":"T"}`, string(items[0].Metadata))
	assert.Nil(t, items[1].TaskID)
	assert.Equal(t, json.RawMessage(`{}`), items[1].Metadata)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertActivityDefaultsMetadata(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO activities .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7::jsonb\) RETURNING id, created_at`).
		WithArgs("p1", nil, nil, nil, "u1", "project_restored", "{}").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	entry, err := s.InsertActivity(context.Background(), Activity{ProjectID: "p1", ActorID: "u1", Action: "project_restored"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.ID)
	assert.Equal(t, now, entry.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProjectWithMembersIsTransactional(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	project := Project{ID: "p1", Name: "Apollo", OwnerID: "u1"}
	members := []ProjectMember{{UserID: "u1", Role: "owner"}, {UserID: "u2", Role: "member"}}

	t.Run("Commits", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO projects`).
			WithArgs("p1", "Apollo", "", "u1").
			WillReturnRows(sqlmock.NewRows([]string{"is_active", "created_at", "updated_at"}).AddRow(true, now, now))
		mock.ExpectExec(`INSERT INTO project_members`).WithArgs("p1", "u1", "owner").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO project_members`).WithArgs("p1", "u2", "member").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		created, err := s.CreateProjectWithMembers(ctx, project, members)
		require.NoError(t, err)
		assert.True(t, created.IsActive)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollsBackOnMemberFailure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO projects`).
			WillReturnRows(sqlmock.NewRows([]string{"is_active", "created_at", "updated_at"}).AddRow(true, now, now))
		mock.ExpectExec(`INSERT INTO project_members`).WithArgs("p1", "u1", "owner").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO project_members`).WithArgs("p1", "u2", "member").
			WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()

		_, err := s.CreateProjectWithMembers(ctx, project, members)
		assert.ErrorIs(t, err, ErrDuplicate)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRemoveProjectMembersBuildsInClause(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM project_members WHERE project_id = \$1 AND user_id IN \(\$2,\$3\)`).
		WithArgs("p1", "u2", "u3").
		WillReturnResult(sqlmock.NewResult(0, 2))

	removed, err := s.RemoveProjectMembers(context.Background(), "p1", []string{"u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.CreateUser(context.Background(), User{ID: "u1", Email: "A@Example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUpdateProjectMemberRoleMissingMember(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE project_members SET role=\$3`).
		WithArgs("p1", "ghost", "manager").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateProjectMemberRole(context.Background(), "p1", "ghost", "manager")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListUsersSearchesNameAndEmail(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE \(name ILIKE \$1 OR email ILIKE \$2\)`).
		WithArgs(`%a\_v%`, `%a\_v%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT id, name, email, role, is_active, created_at, updated_at FROM users WHERE .* ORDER BY created_at DESC, id DESC LIMIT 2 OFFSET 2`).
		WithArgs(`%a\_v%`, `%a\_v%`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "role", "is_active", "created_at", "updated_at"}).
			AddRow("u3", "A_very", "avery@example.com", "member", true, now, now))

	users, total, err := s.ListUsers(context.Background(), UserFilter{Search: " a_v ", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, users, 1)
	assert.Equal(t, "u3", users[0].ID)
	assert.Empty(t, users[0].PasswordHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUserActiveReportsStateChange(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE users SET is_active=\$2, updated_at=NOW\(\) WHERE id=\$1 AND is_active<>\$2`).
		WithArgs("u1", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetUserActive(context.Background(), "u1", false)
	assert.ErrorIs(t, err, ErrStateChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserDetailsDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE users SET name=\$2, email=\$3`).
		WithArgs("u1", "Avery", "taken@example.com").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.UpdateUserDetails(context.Background(), "u1", "Avery", "Taken@example.com")
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProjectOnlyRemovesInactive(t *testing.T) {
	ctx := context.Background()

	t.Run("Deletes", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`DELETE FROM projects WHERE id=\$1 AND is_active=FALSE`).
			WithArgs("p1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, s.DeleteProject(ctx, "p1"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RejectsActive", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`DELETE FROM projects WHERE id=\$1 AND is_active=FALSE`).
			WithArgs("p1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, s.DeleteProject(ctx, "p1"), ErrStateChanged)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListProjectContent(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id FROM tasks WHERE project_id=\$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("t1").AddRow("t2"))
	mock.ExpectQuery(`SELECT c.id FROM comments c JOIN tasks t ON t.id = c.task_id WHERE t.project_id=\$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))

	content, err := s.ListProjectContent(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, content.TaskIDs)
	assert.Equal(t, []string{"c1"}, content.CommentIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertActivityForAccountEvent(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subject := "u2"
	mock.ExpectQuery(`INSERT INTO activities`).
		WithArgs(nil, "u2", nil, nil, "u1", "user_deactivated", `{"email":"b@example.com"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(9), now))

	entry, err := s.InsertActivity(context.Background(), Activity{
		SubjectUserID: &subject,
		ActorID:       "u1",
		Action:        "user_deactivated",
		Metadata:      json.RawMessage(`{"email":"b@example.com"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActivitiesMatchesActorOrSubject(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM activities a WHERE \(\(a.actor_id = \$1 OR a.subject_user_id = \$2\)\)`).
		WithArgs("u2", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT a.id, a.project_id, a.subject_user_id, .* WHERE \(\(a.actor_id = \$1 OR a.subject_user_id = \$2\)\)`).
		WithArgs("u2", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "subject_user_id", "task_id", "comment_id", "actor_id", "actor_name", "action", "metadata", "created_at"}).
			AddRow(int64(4), nil, "u2", nil, nil, "u1", "Ada", "user_role_updated", []byte(`{}`), now))

	items, total, err := s.ListActivities(context.Background(), ActivityFilter{UserID: "u2", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "", items[0].ProjectID)
	require.NotNil(t, items[0].SubjectUserID)
	assert.Equal(t, "u2", *items[0].SubjectUserID)
	require.NoError(t, mock.ExpectationsWereMet())
}
