package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	IsActive     bool      `json:"isActive" db:"is_active"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

type UserFilter struct {
	// Search matches name or email, case-insensitively.
	Search string
	Limit  int
	Offset int
}

type Project struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	OwnerID     string    `json:"ownerId" db:"owner_id"`
	IsActive    bool      `json:"isActive" db:"is_active"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

type ProjectMember struct {
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joinedAt"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// ProjectContent holds the ids of every task and comment under a project,
// deleted ones included.
type ProjectContent struct {
	TaskIDs    []string
	CommentIDs []string
}

type ProjectFilter struct {
	// MemberID restricts results to projects the user belongs to; empty means all.
	MemberID string
	Search   string
	Limit    int
	Offset   int
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssignedTo  *string    `json:"assignedTo"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedBy   string     `json:"createdBy"`
	IsDeleted   bool       `json:"isDeleted"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type TaskFilter struct {
	ProjectID      string
	Status         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type CommentAuthor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Comment struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	AuthorID  string         `json:"authorId"`
	TaskID    string         `json:"taskId"`
	ParentID  *string        `json:"parentId"`
	IsDeleted bool           `json:"isDeleted"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Author    *CommentAuthor `json:"author,omitempty"`
}

// CommentEdge is the parent pointer of one comment, deleted or not.
type CommentEdge struct {
	ID       string
	ParentID *string
}

type Reaction struct {
	ID        string    `json:"id"`
	CommentID string    `json:"commentId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	ReactionAdded   = "added"
	ReactionUpdated = "updated"
	ReactionRemoved = "removed"
)

// ReactionToggle is the result of one reaction toggle. Reaction is nil when
// the outcome is ReactionRemoved.
type ReactionToggle struct {
	Action        string
	Reaction      *Reaction
	PreviousEmoji string
}

type ReactionCount struct {
	Emoji           string `json:"emoji"`
	Count           int    `json:"count"`
	ReactedByViewer bool   `json:"reactedByViewer"`
}

// Activity is one audit entry. Account-level entries have no ProjectID and
// name the affected account in SubjectUserID.
type Activity struct {
	ID            int64           `json:"id"`
	ProjectID     string          `json:"projectId,omitempty"`
	SubjectUserID *string         `json:"subjectUserId,omitempty"`
	TaskID        *string         `json:"taskId"`
	CommentID     *string         `json:"commentId"`
	ActorID       string          `json:"actorId"`
	ActorName     *string         `json:"actorName,omitempty"`
	Action        string          `json:"action"`
	Metadata      json.RawMessage `json:"metadata"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type ActivityFilter struct {
	ProjectID string
	TaskID    string
	ActorID   string
	// UserID matches entries the user either performed or was the subject of.
	UserID string
	Limit     int
	Offset    int
}
