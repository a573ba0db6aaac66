package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode/utf8"

	"taskflow/api/internal/rbac"
	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
)

const (
	maxProjectNameRunes        = 200
	maxProjectDescriptionRunes = 5000
)

type MemberInput struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type CreateProjectInput struct {
	Name        string
	Description string
	Members     []MemberInput
}

type UpdateProjectInput struct {
	Name        *string
	Description *string
}

// ProjectDetail is a project together with its member list.
type ProjectDetail struct {
	store.Project
	Members []store.ProjectMember `json:"members"`
}

func normalizeProjectName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", validationError("name is required", map[string]string{"name": "required"})
	}
	if utf8.RuneCountInString(trimmed) > maxProjectNameRunes {
		return "", validationError("name is too long", map[string]any{"name": "max", "max": maxProjectNameRunes})
	}
	return trimmed, nil
}

func normalizeProjectDescription(description string) (string, error) {
	trimmed := strings.TrimSpace(description)
	if utf8.RuneCountInString(trimmed) > maxProjectDescriptionRunes {
		return "", validationError("description is too long", map[string]any{"description": "max", "max": maxProjectDescriptionRunes})
	}
	return trimmed, nil
}

// normalizeMembers validates ids and roles and drops duplicates and skip.
func normalizeMembers(inputs []MemberInput, skip string) ([]store.ProjectMember, error) {
	seen := map[string]bool{skip: true}
	members := make([]store.ProjectMember, 0, len(inputs))
	for _, input := range inputs {
		userID := strings.TrimSpace(input.UserID)
		if !util.IsID(userID) {
			return nil, validationError("member userId must be a valid id", map[string]string{"userId": input.UserID})
		}
		role := rbac.ProjectRole(strings.TrimSpace(input.Role))
		if role == rbac.ProjectNone {
			role = rbac.ProjectMember
		}
		if !rbac.Assignable(role) {
			return nil, validationError("member role must be manager or member", map[string]string{"role": input.Role})
		}
		if seen[userID] {
			continue
		}
		seen[userID] = true
		members = append(members, store.ProjectMember{UserID: userID, Role: string(role)})
	}
	return members, nil
}

// requireActiveUsers fails unless every member refers to an active account.
func (s *Service) requireActiveUsers(ctx context.Context, members []store.ProjectMember) error {
	if len(members) == 0 {
		return nil
	}
	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.UserID)
	}
	users, err := s.store.ListUsersByIDs(ctx, ids)
	if err != nil {
		return err
	}
	active := make(map[string]bool, len(users))
	for _, user := range users {
		active[user.ID] = user.IsActive
	}
	var invalid []string
	for _, id := range ids {
		if !active[id] {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return validationError("some users do not exist or are inactive", map[string][]string{"userIds": invalid})
	}
	return nil
}

func (s *Service) projectDetail(ctx context.Context, project store.Project) (ProjectDetail, error) {
	members, err := s.store.ListProjectMembers(ctx, project.ID)
	if err != nil {
		return ProjectDetail{}, err
	}
	return ProjectDetail{Project: project, Members: members}, nil
}

// CreateProject creates a project owned by the caller together with its
// initial members.
func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) (ProjectDetail, error) {
	if !rbac.CanGlobal(session.globalRole(), rbac.ActionCreateProject) {
		return ProjectDetail{}, forbiddenError("admin access required")
	}
	name, err := normalizeProjectName(input.Name)
	if err != nil {
		return ProjectDetail{}, err
	}
	description, err := normalizeProjectDescription(input.Description)
	if err != nil {
		return ProjectDetail{}, err
	}
	members, err := normalizeMembers(input.Members, session.UserID)
	if err != nil {
		return ProjectDetail{}, err
	}
	if err := s.requireActiveUsers(ctx, members); err != nil {
		return ProjectDetail{}, err
	}

	project := store.Project{ID: util.NewID(), Name: name, Description: description, OwnerID: session.UserID}
	rows := append([]store.ProjectMember{{UserID: session.UserID, Role: string(rbac.ProjectOwner)}}, members...)
	created, err := s.store.CreateProjectWithMembers(ctx, project, rows)
	if err != nil {
		return ProjectDetail{}, err
	}

	s.after(ctx, s.recordActivity(activity(session, created.ID, "project_created", map[string]any{
		"name":    created.Name,
		"members": rows,
	})))
	return s.projectDetail(ctx, created)
}

// ListProjects pages through every project for admins and through the
// caller's memberships for everyone else.
func (s *Service) ListProjects(ctx context.Context, session Session, query string, req PageRequest) (Page[store.Project], error) {
	filter := store.ProjectFilter{
		Search: strings.TrimSpace(query),
		Limit:  req.Limit,
		Offset: req.offset(),
	}
	if !session.IsAdmin() {
		filter.MemberID = session.UserID
	}
	projects, total, err := s.store.ListProjects(ctx, filter)
	if err != nil {
		return Page[store.Project]{}, err
	}
	return newPage(req, projects, total), nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (ProjectDetail, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionRead)
	if err != nil {
		return ProjectDetail{}, err
	}
	return s.projectDetail(ctx, access.project)
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input UpdateProjectInput) (store.Project, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionUpdateProject)
	if err != nil {
		return store.Project{}, err
	}
	if err := access.requireActive(); err != nil {
		return store.Project{}, err
	}

	current := access.project
	next := current
	changes := map[string]change{}
	if input.Name != nil {
		name, err := normalizeProjectName(*input.Name)
		if err != nil {
			return store.Project{}, err
		}
		if name != current.Name {
			changes["name"] = change{Old: current.Name, New: name}
			next.Name = name
		}
	}
	if input.Description != nil {
		description, err := normalizeProjectDescription(*input.Description)
		if err != nil {
			return store.Project{}, err
		}
		if description != current.Description {
			changes["description"] = change{Old: current.Description, New: description}
			next.Description = description
		}
	}
	if len(changes) == 0 {
		return store.Project{}, conflictError("no changes detected", nil)
	}

	updated, err := s.store.UpdateProject(ctx, next)
	if err != nil {
		return store.Project{}, err
	}
	s.after(ctx, s.recordActivity(activity(session, projectID, "project_details_updated", changes)))
	return updated, nil
}

// SetProjectActive deactivates or restores a project.
func (s *Service) SetProjectActive(ctx context.Context, session Session, projectID string, active bool) (store.Project, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionDeactivate)
	if err != nil {
		return store.Project{}, err
	}
	project := access.project
	if project.IsActive == active {
		if active {
			return store.Project{}, conflictError("project is already active", nil)
		}
		return store.Project{}, conflictError("project is already deactivated", nil)
	}
	if err := s.store.SetProjectActive(ctx, projectID, active); err != nil {
		return store.Project{}, notFoundOr(err, "project not found")
	}
	project.IsActive = active

	action := "project_deactivated"
	if active {
		action = "project_restored"
	}
	s.after(ctx, s.recordActivity(activity(session, projectID, action, map[string]string{"name": project.Name})))
	return project, nil
}

// AddMembers adds users to the project in one transaction.
func (s *Service) AddMembers(ctx context.Context, session Session, projectID string, inputs []MemberInput) ([]store.ProjectMember, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionManageMembers)
	if err != nil {
		return nil, err
	}
	if err := access.requireActive(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, validationError("members are required", map[string]string{"members": "required"})
	}
	members, err := normalizeMembers(inputs, "")
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var already []string
	for _, member := range members {
		if slices.ContainsFunc(existing, func(m store.ProjectMember) bool { return m.UserID == member.UserID }) {
			already = append(already, member.UserID)
		}
	}
	if len(already) > 0 {
		return nil, conflictError("some users are already members", map[string][]string{"userIds": already})
	}
	if err := s.requireActiveUsers(ctx, members); err != nil {
		return nil, err
	}

	if err := s.store.AddProjectMembers(ctx, projectID, members); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflictError("some users are already members", nil)
		}
		return nil, err
	}
	s.after(ctx, s.recordActivity(activity(session, projectID, "members_added_to_project", map[string]any{"members": members})))
	return s.store.ListProjectMembers(ctx, projectID)
}

// RemoveMembers removes users from the project. The owner stays.
func (s *Service) RemoveMembers(ctx context.Context, session Session, projectID string, userIDs []string) ([]string, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionManageMembers)
	if err != nil {
		return nil, err
	}
	if err := access.requireActive(); err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, validationError("userIds are required", map[string]string{"userIds": "required"})
	}
	for _, id := range userIDs {
		if !util.IsID(id) {
			return nil, validationError("userIds must be valid ids", map[string]string{"userIds": id})
		}
	}
	if slices.Contains(userIDs, access.project.OwnerID) {
		return nil, conflictError("the project owner cannot be removed", nil)
	}

	existing, err := s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	removable := make([]string, 0, len(userIDs))
	for _, member := range existing {
		if slices.Contains(userIDs, member.UserID) {
			removable = append(removable, member.UserID)
		}
	}
	if len(removable) == 0 {
		return nil, notFoundError("none of the users are members")
	}

	if _, err := s.store.RemoveProjectMembers(ctx, projectID, removable); err != nil {
		return nil, err
	}
	s.after(ctx, s.recordActivity(activity(session, projectID, "members_removed_from_project", map[string]any{"userIds": removable})))
	return removable, nil
}

// UpdateMemberRole switches a member between manager and member.
func (s *Service) UpdateMemberRole(ctx context.Context, session Session, projectID, userID, role string) (store.ProjectMember, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionChangeRoles)
	if err != nil {
		return store.ProjectMember{}, err
	}
	if err := access.requireActive(); err != nil {
		return store.ProjectMember{}, err
	}
	next := rbac.ProjectRole(strings.TrimSpace(role))
	if !rbac.Assignable(next) {
		return store.ProjectMember{}, validationError("role must be manager or member", map[string]string{"role": role})
	}

	member, err := s.store.GetProjectMember(ctx, projectID, userID)
	if err != nil {
		return store.ProjectMember{}, notFoundOr(err, "member not found")
	}
	if rbac.NormalizeProject(member.Role) == rbac.ProjectOwner {
		return store.ProjectMember{}, conflictError("the owner's role cannot be changed", nil)
	}
	if member.Role == string(next) {
		return store.ProjectMember{}, conflictError("member already has this role", nil)
	}

	if err := s.store.UpdateProjectMemberRole(ctx, projectID, userID, string(next)); err != nil {
		return store.ProjectMember{}, notFoundOr(err, "member not found")
	}
	previous := member.Role
	member.Role = string(next)
	s.after(ctx, s.recordActivity(activity(session, projectID, "member_role_updated", map[string]any{
		"userId": userID,
		"role":   change{Old: previous, New: member.Role},
	})))
	return member, nil
}
