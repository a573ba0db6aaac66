package app

import (
	"context"

	"taskflow/api/internal/rbac"
	"taskflow/api/internal/store"
)

func (s *Service) activityPage(ctx context.Context, filter store.ActivityFilter, req PageRequest) (Page[store.Activity], error) {
	filter.Limit = req.Limit
	filter.Offset = req.offset()
	items, total, err := s.store.ListActivities(ctx, filter)
	if err != nil {
		return Page[store.Activity]{}, err
	}
	return newPage(req, items, total), nil
}

// ProjectActivities is the project's feed, newest first.
func (s *Service) ProjectActivities(ctx context.Context, session Session, projectID string, req PageRequest) (Page[store.Activity], error) {
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionViewActivity); err != nil {
		return Page[store.Activity]{}, err
	}
	return s.activityPage(ctx, store.ActivityFilter{ProjectID: projectID}, req)
}

// TaskActivities is the feed of one task. Deleted tasks keep their history.
func (s *Service) TaskActivities(ctx context.Context, session Session, projectID, taskID string, req PageRequest) (Page[store.Activity], error) {
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionViewActivity); err != nil {
		return Page[store.Activity]{}, err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return Page[store.Activity]{}, err
	}
	if task.ProjectID != projectID {
		return Page[store.Activity]{}, notFoundError("task not found")
	}
	return s.activityPage(ctx, store.ActivityFilter{ProjectID: projectID, TaskID: taskID}, req)
}

// UserActivities lists everything one user did across projects, plus the
// account events where the user was the subject.
func (s *Service) UserActivities(ctx context.Context, session Session, userID string, req PageRequest) (Page[store.Activity], error) {
	if !rbac.CanGlobal(session.globalRole(), rbac.ActionViewUserAudits) {
		return Page[store.Activity]{}, forbiddenError("admin access required")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return Page[store.Activity]{}, notFoundOr(err, "user not found")
	}
	return s.activityPage(ctx, store.ActivityFilter{UserID: userID}, req)
}
