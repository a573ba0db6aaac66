package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
)

// memStore is an in-memory dataStore with the same row semantics as the
// Postgres store: cascading comment deletes, unique likes and reactions and
// a newest-first activity feed.
type memStore struct {
	mu sync.Mutex

	clock      time.Time
	users      map[string]store.User
	projects   map[string]store.Project
	members    map[string]map[string]store.ProjectMember
	tasks      map[string]store.Task
	comments   map[string]store.Comment
	likes      map[[2]string]time.Time
	reactions  map[[2]string]store.Reaction
	activities []store.Activity
	revoked    map[string]time.Time

	getCommentCalls   int
	listCommentsCalls int
	insertActivityErr error
	softDeleteErr     error
}

func newMemStore() *memStore {
	return &memStore{
		clock:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		users:     map[string]store.User{},
		projects:  map[string]store.Project{},
		members:   map[string]map[string]store.ProjectMember{},
		tasks:     map[string]store.Task{},
		comments:  map[string]store.Comment{},
		likes:     map[[2]string]time.Time{},
		reactions: map[[2]string]store.Reaction{},
		revoked:   map[string]time.Time{},
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return store.User{}, store.ErrDuplicate
		}
	}
	user.CreatedAt = m.tick()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) ListUsersByIDs(_ context.Context, ids []string) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]store.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := m.users[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (m *memStore) ListUsers(_ context.Context, filter store.UserFilter) ([]store.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	var matched []store.User
	for _, user := range m.users {
		if needle != "" && !strings.Contains(strings.ToLower(user.Name), needle) && !strings.Contains(user.Email, needle) {
			continue
		}
		matched = append(matched, user)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return window(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (m *memStore) UpdateUserDetails(_ context.Context, id, name, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	for _, existing := range m.users {
		if existing.ID != id && existing.Email == email {
			return store.User{}, store.ErrDuplicate
		}
	}
	user.Name, user.Email, user.UpdatedAt = name, email, m.tick()
	m.users[id] = user
	return user, nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash, user.UpdatedAt = hash, m.tick()
	m.users[id] = user
	return nil
}

func (m *memStore) SetUserActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || user.IsActive == active {
		return store.ErrStateChanged
	}
	user.IsActive, user.UpdatedAt = active, m.tick()
	m.users[id] = user
	return nil
}

func (m *memStore) UpdateUserRole(_ context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role, user.UpdatedAt = role, m.tick()
	m.users[id] = user
	return nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

func (m *memStore) insertMembersLocked(projectID string, members []store.ProjectMember) error {
	existing := m.members[projectID]
	for _, member := range members {
		if _, ok := existing[member.UserID]; ok {
			return store.ErrDuplicate
		}
	}
	if existing == nil {
		existing = map[string]store.ProjectMember{}
		m.members[projectID] = existing
	}
	for _, member := range members {
		member.ProjectID = projectID
		member.JoinedAt = m.tick()
		existing[member.UserID] = member
	}
	return nil
}

func (m *memStore) CreateProjectWithMembers(_ context.Context, project store.Project, members []store.ProjectMember) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project.IsActive = true
	project.CreatedAt = m.tick()
	project.UpdatedAt = project.CreatedAt
	if err := m.insertMembersLocked(project.ID, members); err != nil {
		return store.Project{}, err
	}
	m.projects[project.ID] = project
	return project, nil
}

func (m *memStore) AddProjectMembers(_ context.Context, projectID string, members []store.ProjectMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertMembersLocked(projectID, members)
}

func (m *memStore) RemoveProjectMembers(_ context.Context, projectID string, userIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for _, id := range userIDs {
		if _, ok := m.members[projectID][id]; ok {
			delete(m.members[projectID], id)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) GetProject(_ context.Context, id string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (m *memStore) ListProjects(_ context.Context, filter store.ProjectFilter) ([]store.Project, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []store.Project
	for _, project := range m.projects {
		if filter.MemberID != "" {
			if _, ok := m.members[project.ID][filter.MemberID]; !ok {
				continue
			}
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(project.Name+" "+project.Description), needle) {
				continue
			}
		}
		matched = append(matched, project)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return window(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (m *memStore) UpdateProject(_ context.Context, project store.Project) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.projects[project.ID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	current.Name = project.Name
	current.Description = project.Description
	current.UpdatedAt = m.tick()
	m.projects[project.ID] = current
	return current, nil
}

func (m *memStore) SetProjectActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return sql.ErrNoRows
	}
	project.IsActive = active
	m.projects[id] = project
	return nil
}

func (m *memStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok || project.IsActive {
		return store.ErrStateChanged
	}
	delete(m.projects, id)
	delete(m.members, id)
	for taskID, task := range m.tasks {
		if task.ProjectID != id {
			continue
		}
		delete(m.tasks, taskID)
		for commentID, comment := range m.comments {
			if comment.TaskID == taskID {
				m.deleteCommentLocked(commentID)
			}
		}
	}
	return nil
}

func (m *memStore) ListProjectContent(_ context.Context, projectID string) (store.ProjectContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content := store.ProjectContent{TaskIDs: []string{}, CommentIDs: []string{}}
	for taskID, task := range m.tasks {
		if task.ProjectID != projectID {
			continue
		}
		content.TaskIDs = append(content.TaskIDs, taskID)
		for _, comment := range m.sortedCommentsLocked(taskID) {
			content.CommentIDs = append(content.CommentIDs, comment.ID)
		}
	}
	sort.Strings(content.TaskIDs)
	return content, nil
}

func (m *memStore) ListProjectMembers(_ context.Context, projectID string) ([]store.ProjectMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]store.ProjectMember, 0, len(m.members[projectID]))
	for _, member := range m.members[projectID] {
		user := m.users[member.UserID]
		member.Name = user.Name
		member.Email = user.Email
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

func (m *memStore) GetProjectMember(_ context.Context, projectID, userID string) (store.ProjectMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[projectID][userID]
	if !ok {
		return store.ProjectMember{}, sql.ErrNoRows
	}
	return member, nil
}

func (m *memStore) UpdateProjectMemberRole(_ context.Context, projectID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[projectID][userID]
	if !ok {
		return sql.ErrNoRows
	}
	member.Role = role
	m.members[projectID][userID] = member
	return nil
}

func (m *memStore) CreateTask(_ context.Context, task store.Task) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.CreatedAt = m.tick()
	task.UpdatedAt = task.CreatedAt
	m.tasks[task.ID] = task
	return task, nil
}

func (m *memStore) GetTask(_ context.Context, id string) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return store.Task{}, sql.ErrNoRows
	}
	return task, nil
}

func (m *memStore) ListTasks(_ context.Context, filter store.TaskFilter) ([]store.Task, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []store.Task
	for _, task := range m.tasks {
		if task.ProjectID != filter.ProjectID || (task.IsDeleted && !filter.IncludeDeleted) {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		matched = append(matched, task)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return window(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (m *memStore) UpdateTask(_ context.Context, task store.Task) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return store.Task{}, sql.ErrNoRows
	}
	task.UpdatedAt = m.tick()
	m.tasks[task.ID] = task
	return task, nil
}

func (m *memStore) UpdateTaskStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return sql.ErrNoRows
	}
	task.Status = status
	task.UpdatedAt = m.tick()
	m.tasks[id] = task
	return nil
}

func (m *memStore) SetTaskDeleted(_ context.Context, id string, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return sql.ErrNoRows
	}
	task.IsDeleted = deleted
	m.tasks[id] = task
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.tasks, id)
	for commentID, comment := range m.comments {
		if comment.TaskID == id {
			m.deleteCommentLocked(commentID)
		}
	}
	return nil
}

func (m *memStore) withAuthorLocked(comment store.Comment) store.Comment {
	user := m.users[comment.AuthorID]
	comment.Author = &store.CommentAuthor{ID: user.ID, Name: user.Name, Email: user.Email}
	return comment
}

func (m *memStore) InsertComment(_ context.Context, comment store.Comment) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[comment.TaskID]; !ok {
		return store.Comment{}, errors.New("comment task missing")
	}
	comment.CreatedAt = m.tick()
	comment.UpdatedAt = comment.CreatedAt
	comment.Author = nil
	m.comments[comment.ID] = comment
	return comment, nil
}

func (m *memStore) GetComment(_ context.Context, id string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCommentCalls++
	comment, ok := m.comments[id]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return m.withAuthorLocked(comment), nil
}

func (m *memStore) sortedCommentsLocked(taskID string) []store.Comment {
	var comments []store.Comment
	for _, comment := range m.comments {
		if comment.TaskID == taskID {
			comments = append(comments, comment)
		}
	}
	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.Before(comments[j].CreatedAt)
		}
		return comments[i].ID < comments[j].ID
	})
	return comments
}

func (m *memStore) ListCommentsByTask(_ context.Context, taskID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCommentsCalls++
	comments := make([]store.Comment, 0)
	for _, comment := range m.sortedCommentsLocked(taskID) {
		if !comment.IsDeleted {
			comments = append(comments, m.withAuthorLocked(comment))
		}
	}
	return comments, nil
}

func (m *memStore) ListCommentEdges(_ context.Context, taskID string) ([]store.CommentEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	edges := make([]store.CommentEdge, 0)
	for _, comment := range m.sortedCommentsLocked(taskID) {
		edges = append(edges, store.CommentEdge{ID: comment.ID, ParentID: comment.ParentID})
	}
	return edges, nil
}

func (m *memStore) UpdateCommentContent(_ context.Context, id, content string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[id]
	if !ok || comment.IsDeleted {
		return store.Comment{}, sql.ErrNoRows
	}
	comment.Content = content
	comment.UpdatedAt = m.tick()
	m.comments[id] = comment
	return comment, nil
}

func (m *memStore) SoftDeleteComments(_ context.Context, rootID string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.softDeleteErr != nil {
		return 0, m.softDeleteErr
	}
	if root, ok := m.comments[rootID]; !ok || root.IsDeleted {
		return 0, store.ErrStateChanged
	}
	var affected int64
	for _, id := range ids {
		comment, ok := m.comments[id]
		if !ok || comment.IsDeleted {
			continue
		}
		comment.IsDeleted = true
		m.comments[id] = comment
		affected++
	}
	return affected, nil
}

// deleteCommentLocked removes the comment and, like ON DELETE CASCADE, its
// replies, likes and reactions.
func (m *memStore) deleteCommentLocked(id string) int64 {
	if _, ok := m.comments[id]; !ok {
		return 0
	}
	delete(m.comments, id)
	for key := range m.likes {
		if key[0] == id {
			delete(m.likes, key)
		}
	}
	for key := range m.reactions {
		if key[0] == id {
			delete(m.reactions, key)
		}
	}
	affected := int64(1)
	for childID, child := range m.comments {
		if child.ParentID != nil && *child.ParentID == id {
			affected += m.deleteCommentLocked(childID)
		}
	}
	return affected
}

func (m *memStore) HardDeleteComments(_ context.Context, rootID string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if root, ok := m.comments[rootID]; !ok || !root.IsDeleted {
		return 0, store.ErrStateChanged
	}
	var affected int64
	for _, id := range ids {
		affected += m.deleteCommentLocked(id)
	}
	return affected, nil
}

func (m *memStore) ToggleCommentLike(_ context.Context, commentID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{commentID, userID}
	if _, ok := m.likes[key]; ok {
		delete(m.likes, key)
		return false, nil
	}
	m.likes[key] = m.tick()
	return true, nil
}

func (m *memStore) ToggleCommentReaction(_ context.Context, commentID, userID, emoji string) (store.ReactionToggle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{commentID, userID}
	existing, ok := m.reactions[key]
	switch {
	case !ok:
		now := m.tick()
		reaction := store.Reaction{ID: util.NewID(), CommentID: commentID, UserID: userID, Emoji: emoji, CreatedAt: now, UpdatedAt: now}
		m.reactions[key] = reaction
		return store.ReactionToggle{Action: store.ReactionAdded, Reaction: &reaction}, nil
	case existing.Emoji == emoji:
		delete(m.reactions, key)
		return store.ReactionToggle{Action: store.ReactionRemoved, PreviousEmoji: emoji}, nil
	default:
		previous := existing.Emoji
		existing.Emoji = emoji
		existing.UpdatedAt = m.tick()
		m.reactions[key] = existing
		return store.ReactionToggle{Action: store.ReactionUpdated, Reaction: &existing, PreviousEmoji: previous}, nil
	}
}

func (m *memStore) CountCommentLikes(_ context.Context, commentID, viewerID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for key := range m.likes {
		if key[0] == commentID {
			total++
		}
	}
	_, liked := m.likes[[2]string{commentID, viewerID}]
	return total, liked, nil
}

func (m *memStore) ListCommentReactionCounts(_ context.Context, commentID, viewerID string) ([]store.ReactionCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byEmoji := map[string]*store.ReactionCount{}
	for key, reaction := range m.reactions {
		if key[0] != commentID {
			continue
		}
		count, ok := byEmoji[reaction.Emoji]
		if !ok {
			count = &store.ReactionCount{Emoji: reaction.Emoji}
			byEmoji[reaction.Emoji] = count
		}
		count.Count++
		if key[1] == viewerID {
			count.ReactedByViewer = true
		}
	}
	counts := make([]store.ReactionCount, 0, len(byEmoji))
	for _, count := range byEmoji {
		counts = append(counts, *count)
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Emoji < counts[j].Emoji
	})
	return counts, nil
}

func (m *memStore) InsertActivity(_ context.Context, entry store.Activity) (store.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertActivityErr != nil {
		return store.Activity{}, m.insertActivityErr
	}
	entry.ID = int64(len(m.activities) + 1)
	entry.CreatedAt = m.tick()
	m.activities = append(m.activities, entry)
	return entry, nil
}

func (m *memStore) ListActivities(_ context.Context, filter store.ActivityFilter) ([]store.Activity, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []store.Activity
	for _, entry := range m.activities {
		if filter.ProjectID != "" && entry.ProjectID != filter.ProjectID {
			continue
		}
		if filter.TaskID != "" && (entry.TaskID == nil || *entry.TaskID != filter.TaskID) {
			continue
		}
		if filter.ActorID != "" && entry.ActorID != filter.ActorID {
			continue
		}
		if filter.UserID != "" && entry.ActorID != filter.UserID &&
			(entry.SubjectUserID == nil || *entry.SubjectUserID != filter.UserID) {
			continue
		}
		matched = append(matched, entry)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return window(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// actions returns the recorded activity tags oldest first.
func (m *memStore) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.activities))
	for _, entry := range m.activities {
		actions = append(actions, entry.Action)
	}
	return actions
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
