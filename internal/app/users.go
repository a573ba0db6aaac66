package app

import (
	"context"
	"errors"
	"strings"

	"taskflow/api/internal/authpw"
	"taskflow/api/internal/rbac"
	"taskflow/api/internal/store"
)

// userActivity records an account-level event. It carries no project.
func userActivity(session Session, subjectID, action string, meta any) store.Activity {
	entry := activity(session, "", action, meta)
	entry.SubjectUserID = stringPtr(subjectID)
	return entry
}

func (s *Service) requireUserAdmin(session Session) error {
	if !rbac.CanGlobal(session.globalRole(), rbac.ActionManageUsers) {
		return forbiddenError("admin access required")
	}
	return nil
}

func (s *Service) loadUser(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, notFoundOr(err, "user not found")
	}
	return user, nil
}

// ListUsers pages through every account, newest first.
func (s *Service) ListUsers(ctx context.Context, session Session, query string, req PageRequest) (Page[store.User], error) {
	if err := s.requireUserAdmin(session); err != nil {
		return Page[store.User]{}, err
	}
	users, total, err := s.store.ListUsers(ctx, store.UserFilter{
		Search: strings.TrimSpace(query),
		Limit:  req.Limit,
		Offset: req.offset(),
	})
	if err != nil {
		return Page[store.User]{}, err
	}
	return newPage(req, users, total), nil
}

func (s *Service) GetUser(ctx context.Context, session Session, userID string) (store.User, error) {
	if err := s.requireUserAdmin(session); err != nil {
		return store.User{}, err
	}
	return s.loadUser(ctx, userID)
}

// SetUserActive deactivates or restores another account. A deactivated
// account fails authentication on its next request.
func (s *Service) SetUserActive(ctx context.Context, session Session, userID string, active bool) (store.User, error) {
	if err := s.requireUserAdmin(session); err != nil {
		return store.User{}, err
	}
	if userID == session.UserID {
		return store.User{}, conflictError("cannot change the status of your own account", nil)
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if user.IsActive == active {
		if active {
			return store.User{}, conflictError("user is already active", nil)
		}
		return store.User{}, conflictError("user is already deactivated", nil)
	}
	if err := s.store.SetUserActive(ctx, userID, active); err != nil {
		if errors.Is(err, store.ErrStateChanged) {
			return store.User{}, conflictError("user status changed concurrently", nil)
		}
		return store.User{}, err
	}
	user.IsActive = active

	action := "user_deactivated"
	if active {
		action = "user_restored"
	}
	s.after(ctx, s.recordActivity(userActivity(session, userID, action, map[string]string{"email": user.Email})))
	s.logger.Info("user status changed", "user_id", userID, "active", active, "actor_id", session.UserID)
	return user, nil
}

// UpdateUserRole assigns a global role to another account.
func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (store.User, error) {
	if err := s.requireUserAdmin(session); err != nil {
		return store.User{}, err
	}
	next, ok := rbac.ParseRole(strings.TrimSpace(role))
	if !ok {
		return store.User{}, validationError("role must be one of admin, member, guest", map[string]string{"role": role})
	}
	if userID == session.UserID {
		return store.User{}, conflictError("cannot change your own role", nil)
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if user.Role == string(next) {
		return store.User{}, conflictError("user already has this role", nil)
	}
	if err := s.store.UpdateUserRole(ctx, userID, string(next)); err != nil {
		return store.User{}, notFoundOr(err, "user not found")
	}
	previous := user.Role
	user.Role = string(next)

	s.after(ctx, s.recordActivity(userActivity(session, userID, "user_role_updated", map[string]change{
		"role": {Old: previous, New: user.Role},
	})))
	return user, nil
}

type UpdateProfileInput struct {
	Name  *string
	Email *string
}

// UpdateProfile changes the caller's own name or email.
func (s *Service) UpdateProfile(ctx context.Context, session Session, input UpdateProfileInput) (store.User, error) {
	before, updated, err := s.passwords.UpdateDetails(ctx, session.UserID, authpw.DetailsRequest{
		Name:  input.Name,
		Email: input.Email,
	})
	if err != nil {
		return store.User{}, notFoundOr(err, "user not found")
	}

	changes := map[string]change{}
	if before.Name != updated.Name {
		changes["name"] = change{Old: before.Name, New: updated.Name}
	}
	if before.Email != updated.Email {
		changes["email"] = change{Old: before.Email, New: updated.Email}
	}
	s.after(ctx, s.recordActivity(userActivity(session, session.UserID, "user_details_updated", changes)))
	return updated, nil
}

// ChangePassword replaces the caller's password and ends the current session.
func (s *Service) ChangePassword(ctx context.Context, session Session, oldPassword, newPassword string) error {
	if err := s.passwords.ChangePassword(ctx, session.UserID, oldPassword, newPassword); err != nil {
		return notFoundOr(err, "user not found")
	}
	s.after(ctx, s.recordActivity(userActivity(session, session.UserID, "user_password_changed", nil)))
	return s.Logout(ctx, session)
}

// DeactivateAccount is the self-service account delete. The row stays so the
// user's comments and history keep their author.
func (s *Service) DeactivateAccount(ctx context.Context, session Session) error {
	if err := s.store.SetUserActive(ctx, session.UserID, false); err != nil {
		if errors.Is(err, store.ErrStateChanged) {
			return conflictError("account is already deactivated", nil)
		}
		return err
	}
	s.after(ctx, s.recordActivity(userActivity(session, session.UserID, "user_account_deleted", map[string]string{
		"email": session.Email,
	})))
	s.logger.Info("account deactivated by owner", "user_id", session.UserID)
	return s.Logout(ctx, session)
}

// DeleteProject permanently removes a deactivated project and everything
// under it. Activities survive.
func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionDeleteProject)
	if err != nil {
		return err
	}
	project := access.project
	if project.IsActive {
		return conflictError("project must be deactivated before permanent deletion", nil)
	}

	content, err := s.store.ListProjectContent(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrStateChanged) {
			return conflictError("project must be deactivated before permanent deletion", nil)
		}
		return err
	}

	keys := make([]string, 0, len(content.TaskIDs)+len(content.CommentIDs))
	patterns := []string{taskListPattern(projectID)}
	for _, taskID := range content.TaskIDs {
		keys = append(keys, taskKey(taskID))
		patterns = append(patterns, commentListPattern(taskID))
	}
	for _, commentID := range content.CommentIDs {
		keys = append(keys, commentKey(commentID))
		patterns = append(patterns, summaryPattern(commentID))
	}
	s.after(ctx,
		s.invalidate(keys, patterns...),
		s.recordActivity(activity(session, projectID, "project_deleted_permanently", map[string]any{
			"name":        project.Name,
			"description": project.Description,
			"taskCount":   len(content.TaskIDs),
		})),
	)
	if len(content.CommentIDs) > 0 {
		s.background(ctx, s.unindexComments(content.CommentIDs))
	}
	s.logger.Info("project deleted", "project_id", projectID, "actor_id", session.UserID)
	return nil
}
