package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// CreateProjectWithMembers inserts the project and every member row in one
// transaction.
func (s *PostgresStore) CreateProjectWithMembers(ctx context.Context, project Project, members []ProjectMember) (Project, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO projects (id, name, description, owner_id, is_active)
			VALUES ($1, $2, $3, $4, TRUE)
			RETURNING is_active, created_at, updated_at
		`, project.ID, project.Name, project.Description, project.OwnerID).Scan(&project.IsActive, &project.CreatedAt, &project.UpdatedAt); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return insertMembers(ctx, tx, project.ID, members)
	})
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

// AddProjectMembers inserts all members or none.
func (s *PostgresStore) AddProjectMembers(ctx context.Context, projectID string, members []ProjectMember) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertMembers(ctx, tx, projectID, members)
	})
}

func insertMembers(ctx context.Context, tx *sql.Tx, projectID string, members []ProjectMember) error {
	for _, member := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_members (project_id, user_id, role)
			VALUES ($1, $2, $3)
		`, projectID, member.UserID, member.Role); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert project member %s: %w", member.UserID, ErrDuplicate)
			}
			return fmt.Errorf("insert project member %s: %w", member.UserID, err)
		}
	}
	return nil
}

func (s *PostgresStore) RemoveProjectMembers(ctx context.Context, projectID string, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	query, args, err := psql.
		Delete("project_members").
		Where(sq.Eq{"project_id": projectID, "user_id": userIDs}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build remove members: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("remove project members: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove project members rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, is_active, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&project.ID, &project.Name, &project.Description, &project.OwnerID, &project.IsActive, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// ListProjects returns one page of projects and the total matching count.
func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, int, error) {
	base := psql.Select().From("projects p")
	if filter.MemberID != "" {
		base = base.Where(sq.Expr("EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = ?)", filter.MemberID))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		base = base.Where(sq.Or{sq.ILike{"p.name": pattern}, sq.ILike{"p.description": pattern}})
	}

	countQuery, countArgs, err := base.Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count projects: %w", err)
	}
	var total int
	if err := s.dbx.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	listQuery, listArgs, err := base.
		Columns("p.id", "p.name", "p.description", "p.owner_id", "p.is_active", "p.created_at", "p.updated_at").
		OrderBy("p.created_at DESC", "p.id DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list projects: %w", err)
	}
	projects := make([]Project, 0)
	if err := s.dbx.SelectContext(ctx, &projects, listQuery, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	return projects, total, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project Project) (Project, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET name=$2, description=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING updated_at
	`, project.ID, project.Name, project.Description).Scan(&project.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	return project, nil
}

func (s *PostgresStore) SetProjectActive(ctx context.Context, projectID string, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET is_active=$2, updated_at=NOW() WHERE id=$1
	`, projectID, active)
	if err != nil {
		return fmt.Errorf("set project active: %w", err)
	}
	return requireAffected(result, "set project active")
}

func (s *PostgresStore) ListProjectMembers(ctx context.Context, projectID string) ([]ProjectMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pm.project_id, pm.user_id, pm.role, pm.joined_at, u.name, u.email
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id=$1
		ORDER BY pm.joined_at ASC, u.name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()

	members := make([]ProjectMember, 0)
	for rows.Next() {
		var member ProjectMember
		if err := rows.Scan(&member.ProjectID, &member.UserID, &member.Role, &member.JoinedAt, &member.Name, &member.Email); err != nil {
			return nil, fmt.Errorf("scan project member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project members: %w", err)
	}
	return members, nil
}

// GetProjectMember returns sql.ErrNoRows when the user is not a member.
func (s *PostgresStore) GetProjectMember(ctx context.Context, projectID, userID string) (ProjectMember, error) {
	var member ProjectMember
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, user_id, role, joined_at
		FROM project_members
		WHERE project_id=$1 AND user_id=$2
	`, projectID, userID).Scan(&member.ProjectID, &member.UserID, &member.Role, &member.JoinedAt)
	if err != nil {
		return ProjectMember{}, fmt.Errorf("get project member: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) UpdateProjectMemberRole(ctx context.Context, projectID, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE project_members SET role=$3 WHERE project_id=$1 AND user_id=$2
	`, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return requireAffected(result, "update member role")
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

// DeleteProject removes an inactive project. Child rows go through the
// cascade; activities have no foreign keys and are kept.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1 AND is_active=FALSE`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete project: %w", ErrStateChanged)
	}
	return nil
}

// ListProjectContent collects the task and comment ids a project delete will
// cascade over.
func (s *PostgresStore) ListProjectContent(ctx context.Context, projectID string) (ProjectContent, error) {
	content := ProjectContent{TaskIDs: []string{}, CommentIDs: []string{}}
	if err := s.dbx.SelectContext(ctx, &content.TaskIDs,
		`SELECT id FROM tasks WHERE project_id=$1 ORDER BY created_at ASC, id ASC`, projectID); err != nil {
		return ProjectContent{}, fmt.Errorf("list project tasks: %w", err)
	}
	if err := s.dbx.SelectContext(ctx, &content.CommentIDs, `
		SELECT c.id
		FROM comments c
		JOIN tasks t ON t.id = c.task_id
		WHERE t.project_id=$1
		ORDER BY c.created_at ASC, c.id ASC
	`, projectID); err != nil {
		return ProjectContent{}, fmt.Errorf("list project comments: %w", err)
	}
	return content, nil
}
