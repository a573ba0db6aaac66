package app

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"taskflow/api/internal/postcommit"
	"taskflow/api/internal/rbac"
	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
)

const (
	TaskTodo       = "todo"
	TaskInProgress = "in-progress"
	TaskDone       = "done"

	maxTaskTitleRunes       = 200
	maxTaskDescriptionRunes = 10000
)

var (
	taskStatuses   = []string{TaskTodo, TaskInProgress, TaskDone}
	taskPriorities = []string{"low", "medium", "high"}
)

type CreateTaskInput struct {
	Title       string
	Description string
	Priority    string
	AssignedTo  *string
	DueDate     *string
}

// UpdateTaskInput carries only the fields being changed. An empty
// AssignedTo or DueDate clears the value.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Priority    *string
	AssignedTo  *string
	DueDate     *string
}

func normalizeTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", validationError("title is required", map[string]string{"title": "required"})
	}
	if utf8.RuneCountInString(trimmed) > maxTaskTitleRunes {
		return "", validationError("title is too long", map[string]any{"title": "max", "max": maxTaskTitleRunes})
	}
	return trimmed, nil
}

func normalizeTaskDescription(description string) (string, error) {
	trimmed := strings.TrimSpace(description)
	if utf8.RuneCountInString(trimmed) > maxTaskDescriptionRunes {
		return "", validationError("description is too long", map[string]any{"description": "max", "max": maxTaskDescriptionRunes})
	}
	return trimmed, nil
}

func normalizePriority(priority string) (string, error) {
	trimmed := strings.TrimSpace(priority)
	if trimmed == "" {
		return "medium", nil
	}
	if !slices.Contains(taskPriorities, trimmed) {
		return "", validationError("priority must be low, medium or high", map[string]string{"priority": priority})
	}
	return trimmed, nil
}

// parseDueDate accepts RFC 3339 timestamps and plain dates.
func parseDueDate(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			parsed = parsed.UTC()
			return &parsed, nil
		}
	}
	return nil, validationError("dueDate must be a date", map[string]string{"dueDate": raw})
}

// resolveAssignee returns nil for an empty id and otherwise requires a
// project member.
func (s *Service) resolveAssignee(ctx context.Context, projectID string, raw *string) (*string, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	userID := strings.TrimSpace(*raw)
	if !util.IsID(userID) {
		return nil, validationError("assignedTo must be a valid id", map[string]string{"assignedTo": *raw})
	}
	if _, err := s.store.GetProjectMember(ctx, projectID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validationError("assignee must be a project member", map[string]string{"assignedTo": userID})
		}
		return nil, err
	}
	return &userID, nil
}

func taskActivity(session Session, task store.Task, action string, meta any) store.Activity {
	entry := activity(session, task.ProjectID, action, meta)
	entry.TaskID = stringPtr(task.ID)
	return entry
}

func (s *Service) CreateTask(ctx context.Context, session Session, projectID string, input CreateTaskInput) (store.Task, error) {
	title, err := normalizeTitle(input.Title)
	if err != nil {
		return store.Task{}, err
	}
	description, err := normalizeTaskDescription(input.Description)
	if err != nil {
		return store.Task{}, err
	}
	priority, err := normalizePriority(input.Priority)
	if err != nil {
		return store.Task{}, err
	}
	var dueDate *time.Time
	if input.DueDate != nil {
		if dueDate, err = parseDueDate(*input.DueDate); err != nil {
			return store.Task{}, err
		}
	}

	access, err := s.requireProject(ctx, session, projectID, rbac.ActionWriteTask)
	if err != nil {
		return store.Task{}, err
	}
	if err := access.requireActive(); err != nil {
		return store.Task{}, err
	}
	assignee, err := s.resolveAssignee(ctx, projectID, input.AssignedTo)
	if err != nil {
		return store.Task{}, err
	}

	task, err := s.store.CreateTask(ctx, store.Task{
		ID:          util.NewID(),
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		Status:      TaskTodo,
		Priority:    priority,
		AssignedTo:  assignee,
		DueDate:     dueDate,
		CreatedBy:   session.UserID,
	})
	if err != nil {
		return store.Task{}, err
	}
	s.after(ctx,
		s.invalidateTask(projectID, task.ID),
		s.recordActivity(taskActivity(session, task, "task_created", map[string]any{
			"title":      task.Title,
			"priority":   task.Priority,
			"assignedTo": task.AssignedTo,
		})),
	)
	return task, nil
}

// ListTasks pages through the project's live tasks, optionally filtered by
// status.
func (s *Service) ListTasks(ctx context.Context, session Session, projectID, status string, req PageRequest) (Page[store.Task], error) {
	status = strings.TrimSpace(status)
	if status != "" && !slices.Contains(taskStatuses, status) {
		return Page[store.Task]{}, validationError("status must be todo, in-progress or done", map[string]string{"status": status})
	}
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return Page[store.Task]{}, err
	}
	key := taskListKey(projectID, status, req.Page, req.Limit)
	return readThrough(ctx, s, familyTaskList, key, s.cfg.TaskCacheTTL, func(ctx context.Context) (Page[store.Task], error) {
		tasks, total, err := s.store.ListTasks(ctx, store.TaskFilter{
			ProjectID: projectID,
			Status:    status,
			Limit:     req.Limit,
			Offset:    req.offset(),
		})
		if err != nil {
			return Page[store.Task]{}, err
		}
		return newPage(req, tasks, total), nil
	})
}

func (s *Service) GetTask(ctx context.Context, session Session, projectID, taskID string) (store.Task, error) {
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return store.Task{}, err
	}
	return s.scopedTask(ctx, projectID, taskID)
}

func (s *Service) UpdateTask(ctx context.Context, session Session, projectID, taskID string, input UpdateTaskInput) (store.Task, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionWriteTask)
	if err != nil {
		return store.Task{}, err
	}
	if err := access.requireActive(); err != nil {
		return store.Task{}, err
	}
	current, err := s.scopedTask(ctx, projectID, taskID)
	if err != nil {
		return store.Task{}, err
	}

	next := current
	changes := map[string]change{}
	if input.Title != nil {
		title, err := normalizeTitle(*input.Title)
		if err != nil {
			return store.Task{}, err
		}
		if title != current.Title {
			changes["title"] = change{Old: current.Title, New: title}
			next.Title = title
		}
	}
	if input.Description != nil {
		description, err := normalizeTaskDescription(*input.Description)
		if err != nil {
			return store.Task{}, err
		}
		if description != current.Description {
			changes["description"] = change{Old: current.Description, New: description}
			next.Description = description
		}
	}
	if input.Priority != nil {
		priority, err := normalizePriority(*input.Priority)
		if err != nil {
			return store.Task{}, err
		}
		if priority != current.Priority {
			changes["priority"] = change{Old: current.Priority, New: priority}
			next.Priority = priority
		}
	}
	if input.AssignedTo != nil {
		assignee, err := s.resolveAssignee(ctx, projectID, input.AssignedTo)
		if err != nil {
			return store.Task{}, err
		}
		if deref(assignee) != deref(current.AssignedTo) {
			changes["assignedTo"] = change{Old: current.AssignedTo, New: assignee}
			next.AssignedTo = assignee
		}
	}
	if input.DueDate != nil {
		dueDate, err := parseDueDate(*input.DueDate)
		if err != nil {
			return store.Task{}, err
		}
		if !sameTime(dueDate, current.DueDate) {
			changes["dueDate"] = change{Old: current.DueDate, New: dueDate}
			next.DueDate = dueDate
		}
	}
	if len(changes) == 0 {
		return store.Task{}, conflictError("no changes detected", nil)
	}

	updated, err := s.store.UpdateTask(ctx, next)
	if err != nil {
		return store.Task{}, notFoundOr(err, "task not found")
	}
	s.after(ctx,
		s.invalidateTask(projectID, taskID),
		s.recordActivity(taskActivity(session, updated, "task_details_updated", changes)),
	)
	return updated, nil
}

// UpdateTaskStatus is open to owners, managers and the task's assignee.
func (s *Service) UpdateTaskStatus(ctx context.Context, session Session, projectID, taskID, status string) (store.Task, error) {
	status = strings.TrimSpace(status)
	if !slices.Contains(taskStatuses, status) {
		return store.Task{}, validationError("status must be todo, in-progress or done", map[string]string{"status": status})
	}
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionRead)
	if err != nil {
		return store.Task{}, err
	}
	if err := access.requireActive(); err != nil {
		return store.Task{}, err
	}
	task, err := s.scopedTask(ctx, projectID, taskID)
	if err != nil {
		return store.Task{}, err
	}
	assignee := access.isMember() && deref(task.AssignedTo) == session.UserID
	if !access.allows(rbac.ActionWriteTask) && !assignee {
		return store.Task{}, forbiddenError("only owners, managers or the assignee can change the status")
	}
	if task.Status == status {
		return store.Task{}, conflictError("task already has this status", nil)
	}

	if err := s.store.UpdateTaskStatus(ctx, taskID, status); err != nil {
		return store.Task{}, notFoundOr(err, "task not found")
	}
	previous := task.Status
	task.Status = status
	s.after(ctx,
		s.invalidateTask(projectID, taskID),
		s.recordActivity(taskActivity(session, task, "task_status_updated", map[string]change{
			"status": {Old: previous, New: status},
		})),
	)
	return task, nil
}

// SetTaskDeleted soft-deletes or restores a task. Comments of a deleted task
// leave the search index and come back on restore.
func (s *Service) SetTaskDeleted(ctx context.Context, session Session, projectID, taskID string, deleted bool) (store.Task, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionWriteTask)
	if err != nil {
		return store.Task{}, err
	}
	if err := access.requireActive(); err != nil {
		return store.Task{}, err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if task.ProjectID != projectID {
		return store.Task{}, notFoundError("task not found")
	}
	if task.IsDeleted == deleted {
		if deleted {
			return store.Task{}, conflictError("task is already deleted", nil)
		}
		return store.Task{}, conflictError("task is not deleted", nil)
	}

	if err := s.store.SetTaskDeleted(ctx, taskID, deleted); err != nil {
		return store.Task{}, notFoundOr(err, "task not found")
	}
	task.IsDeleted = deleted

	action := "task_restored"
	indexHook := s.reindexTaskComments(projectID, taskID)
	if deleted {
		action = "task_deactivated"
		indexHook = s.unindexTaskComments(taskID)
	}
	s.after(ctx,
		s.invalidateTask(projectID, taskID),
		s.invalidate(nil, commentListPattern(taskID)),
		s.recordActivity(taskActivity(session, task, action, map[string]string{"title": task.Title})),
	)
	s.background(ctx, indexHook)
	return task, nil
}

// HardDeleteTask permanently removes a soft-deleted task with its comments.
func (s *Service) HardDeleteTask(ctx context.Context, session Session, projectID, taskID string) error {
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionPurge); err != nil {
		return err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.ProjectID != projectID {
		return notFoundError("task not found")
	}
	if !task.IsDeleted {
		return conflictError("task must be soft-deleted before permanent deletion", nil)
	}

	edges, err := s.store.ListCommentEdges(ctx, taskID)
	if err != nil {
		return err
	}
	commentIDs := make([]string, 0, len(edges))
	for _, edge := range edges {
		commentIDs = append(commentIDs, edge.ID)
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return notFoundOr(err, "task not found")
	}

	s.after(ctx,
		s.invalidateTask(projectID, taskID),
		s.invalidateComments(taskID, commentIDs...),
		s.recordActivity(taskActivity(session, task, "task_deleted_permanently", map[string]any{
			"title":      task.Title,
			"commentIds": commentIDs,
		})),
	)
	if len(commentIDs) > 0 {
		s.background(ctx, s.unindexComments(commentIDs))
	}
	return nil
}

func (s *Service) unindexTaskComments(taskID string) postcommit.Hook {
	return postcommit.Hook{
		Name: "search_delete",
		Run: func(ctx context.Context) error {
			if s.search == nil {
				return nil
			}
			edges, err := s.store.ListCommentEdges(ctx, taskID)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(edges))
			for _, edge := range edges {
				ids = append(ids, edge.ID)
			}
			if len(ids) == 0 {
				return nil
			}
			return s.search.DeleteComments(ctx, ids)
		},
	}
}

func (s *Service) reindexTaskComments(projectID, taskID string) postcommit.Hook {
	return postcommit.Hook{
		Name: "search_index",
		Run: func(ctx context.Context) error {
			if s.search == nil {
				return nil
			}
			comments, err := s.store.ListCommentsByTask(ctx, taskID)
			if err != nil {
				return err
			}
			var errs []error
			for _, comment := range comments {
				if err := s.search.IndexComment(ctx, commentRecord(projectID, comment)); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
