package app

import (
	"context"
	"database/sql"
	"errors"

	"taskflow/api/internal/rbac"
	"taskflow/api/internal/store"
)

// projectAccess is a loaded project plus the caller's role in it.
type projectAccess struct {
	project store.Project
	role    rbac.ProjectRole
	session Session
}

func (a projectAccess) allows(action rbac.Action) bool {
	return rbac.Allowed(a.session.globalRole(), a.role, action)
}

func (a projectAccess) isMember() bool {
	return a.role != rbac.ProjectNone
}

// requireActive rejects mutations on a deactivated project.
func (a projectAccess) requireActive() error {
	if !a.project.IsActive {
		return conflictError("project is deactivated", nil)
	}
	return nil
}

func (s *Service) loadProjectAccess(ctx context.Context, session Session, projectID string) (projectAccess, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return projectAccess{}, notFoundOr(err, "project not found")
	}
	access := projectAccess{project: project, role: rbac.ProjectNone, session: session}
	member, err := s.store.GetProjectMember(ctx, projectID, session.UserID)
	switch {
	case err == nil:
		access.role = rbac.NormalizeProject(member.Role)
	case !errors.Is(err, sql.ErrNoRows):
		return projectAccess{}, err
	}
	return access, nil
}

// requireProject loads the project and checks that the caller may perform
// action on it.
func (s *Service) requireProject(ctx context.Context, session Session, projectID string, action rbac.Action) (projectAccess, error) {
	access, err := s.loadProjectAccess(ctx, session, projectID)
	if err != nil {
		return projectAccess{}, err
	}
	if !access.allows(action) {
		if access.isMember() || session.IsAdmin() {
			return projectAccess{}, forbiddenError("insufficient project role")
		}
		return projectAccess{}, forbiddenError("not a member of this project")
	}
	return access, nil
}

// loadTask resolves a task through the cache. Deleted tasks are returned;
// callers decide whether they are visible.
func (s *Service) loadTask(ctx context.Context, taskID string) (store.Task, error) {
	task, err := readThrough(ctx, s, familyTask, taskKey(taskID), s.cfg.TaskCacheTTL, func(ctx context.Context) (store.Task, error) {
		return s.store.GetTask(ctx, taskID)
	})
	if err != nil {
		return store.Task{}, notFoundOr(err, "task not found")
	}
	return task, nil
}

// scopedTask returns a live task that belongs to projectID.
func (s *Service) scopedTask(ctx context.Context, projectID, taskID string) (store.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if task.ProjectID != projectID || task.IsDeleted {
		return store.Task{}, notFoundError("task not found")
	}
	return task, nil
}

// scopedComment returns a comment of taskID, including soft-deleted ones.
func (s *Service) scopedComment(ctx context.Context, taskID, commentID string) (store.Comment, error) {
	comment, err := readThrough(ctx, s, familyComment, commentKey(commentID), s.cfg.CommentCacheTTL, func(ctx context.Context) (store.Comment, error) {
		return s.store.GetComment(ctx, commentID)
	})
	if err != nil {
		return store.Comment{}, notFoundOr(err, "comment not found")
	}
	if comment.TaskID != taskID {
		return store.Comment{}, notFoundError("comment not found")
	}
	return comment, nil
}

// liveComment is scopedComment restricted to comments not yet deleted.
func (s *Service) liveComment(ctx context.Context, taskID, commentID string) (store.Comment, error) {
	comment, err := s.scopedComment(ctx, taskID, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.IsDeleted {
		return store.Comment{}, notFoundError("comment not found")
	}
	return comment, nil
}

// PageRequest is a 1-based offset page.
type PageRequest struct {
	Page  int
	Limit int
}

func (p PageRequest) offset() int {
	return (p.Page - 1) * p.Limit
}

type Page[T any] struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
	Items      []T `json:"items"`
}

func newPage[T any](req PageRequest, items []T, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if req.Limit > 0 {
		totalPages = (total + req.Limit - 1) / req.Limit
	}
	return Page[T]{Page: req.Page, Limit: req.Limit, Total: total, TotalPages: totalPages, Items: items}
}
