package rbac

// Role is a global account role.
type Role string

// ProjectRole is a user's role inside one project.
type ProjectRole string

type Action string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

const (
	ProjectOwner   ProjectRole = "owner"
	ProjectManager ProjectRole = "manager"
	ProjectMember  ProjectRole = "member"
	// ProjectNone marks a caller outside the project.
	ProjectNone ProjectRole = ""
)

const (
	ActionRead           Action = "read"
	ActionComment        Action = "comment"
	ActionWriteTask      Action = "write_task"
	ActionManageMembers  Action = "manage_members"
	ActionUpdateProject  Action = "update_project"
	ActionViewActivity   Action = "view_activity"
	ActionChangeRoles    Action = "change_roles"
	ActionDeactivate     Action = "deactivate"
	ActionCreateProject  Action = "create_project"
	ActionPurge          Action = "purge"
	ActionModerate       Action = "moderate"
	ActionViewUserAudits Action = "view_user_audits"
	ActionManageUsers    Action = "manage_users"
	ActionDeleteProject  Action = "delete_project"
)

// Can reports whether a project role alone permits action.
func Can(role ProjectRole, action Action) bool {
	switch role {
	case ProjectOwner:
		switch action {
		case ActionRead, ActionComment, ActionWriteTask, ActionManageMembers, ActionUpdateProject,
			ActionViewActivity, ActionChangeRoles, ActionDeactivate, ActionDeleteProject:
			return true
		}
	case ProjectManager:
		switch action {
		case ActionRead, ActionComment, ActionWriteTask, ActionManageMembers, ActionUpdateProject, ActionViewActivity:
			return true
		}
	case ProjectMember:
		return action == ActionRead || action == ActionComment
	}
	return false
}

// CanGlobal reports whether a global role permits action regardless of
// project membership. Admins may act on any project but neither author
// comments nor reassign project roles there.
func CanGlobal(role Role, action Action) bool {
	if role != RoleAdmin {
		return false
	}
	switch action {
	case ActionComment, ActionChangeRoles:
		return false
	default:
		return true
	}
}

// Allowed combines the global and project checks.
func Allowed(global Role, project ProjectRole, action Action) bool {
	return CanGlobal(global, action) || Can(project, action)
}

// ParseRole reports whether role names a global role.
func ParseRole(role string) (Role, bool) {
	switch Role(role) {
	case RoleAdmin, RoleMember, RoleGuest:
		return Role(role), true
	default:
		return "", false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleMember, RoleGuest:
		return Role(role)
	default:
		return RoleGuest
	}
}

// NormalizeProject maps unknown values to ProjectNone.
func NormalizeProject(role string) ProjectRole {
	switch ProjectRole(role) {
	case ProjectOwner, ProjectManager, ProjectMember:
		return ProjectRole(role)
	default:
		return ProjectNone
	}
}

// Assignable reports whether role may be granted through membership calls.
// Ownership is fixed at project creation.
func Assignable(role ProjectRole) bool {
	return role == ProjectManager || role == ProjectMember
}
