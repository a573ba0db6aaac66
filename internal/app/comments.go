package app

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"taskflow/api/internal/commenttree"
	"taskflow/api/internal/postcommit"
	"taskflow/api/internal/rbac"
	"taskflow/api/internal/search"
	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
)

const (
	maxCommentRunes = 5000
	maxEmojiRunes   = 8

	deleteModeLeaf    = "leaf"
	deleteModeThread  = "thread"
	deleteModeSubtree = "subtree"
)

type CreateCommentInput struct {
	Content  string
	ParentID *string
}

// DeleteResult lists every comment id a delete affected.
type DeleteResult struct {
	Mode       string   `json:"mode"`
	DeletedIDs []string `json:"deletedIds"`
}

type LikeResult struct {
	Liked bool `json:"liked"`
}

type ReactionResult struct {
	Action   string          `json:"action"`
	Reaction *store.Reaction `json:"reaction"`
}

type ReactionSummary struct {
	Likes         int                   `json:"likes"`
	LikedByViewer bool                  `json:"likedByViewer"`
	Reactions     []store.ReactionCount `json:"reactions"`
}

func normalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", validationError("content is required", map[string]string{"content": "required"})
	}
	if utf8.RuneCountInString(trimmed) > maxCommentRunes {
		return "", validationError("content is too long", map[string]any{"content": "max", "max": maxCommentRunes})
	}
	return trimmed, nil
}

func commentRecord(projectID string, comment store.Comment) search.CommentRecord {
	return search.CommentRecord{
		ID:        comment.ID,
		Content:   comment.Content,
		TaskID:    comment.TaskID,
		ProjectID: projectID,
		AuthorID:  comment.AuthorID,
	}
}

func commentActivity(session Session, projectID string, comment store.Comment, action string, meta any) store.Activity {
	entry := activity(session, projectID, action, meta)
	entry.TaskID = stringPtr(comment.TaskID)
	entry.CommentID = stringPtr(comment.ID)
	return entry
}

func (s *Service) indexComment(projectID string, comment store.Comment) postcommit.Hook {
	return postcommit.Hook{
		Name: "search_index",
		Run: func(ctx context.Context) error {
			if s.search == nil {
				return nil
			}
			return s.search.IndexComment(ctx, commentRecord(projectID, comment))
		},
	}
}

func (s *Service) unindexComments(ids []string) postcommit.Hook {
	return postcommit.Hook{
		Name: "search_delete",
		Run: func(ctx context.Context) error {
			if s.search == nil {
				return nil
			}
			return s.search.DeleteComments(ctx, ids)
		},
	}
}

func (s *Service) CreateComment(ctx context.Context, session Session, projectID, taskID string, input CreateCommentInput) (store.Comment, error) {
	content, err := normalizeContent(input.Content)
	if err != nil {
		return store.Comment{}, err
	}
	var parentID *string
	if input.ParentID != nil && strings.TrimSpace(*input.ParentID) != "" {
		trimmed := strings.TrimSpace(*input.ParentID)
		if !util.IsID(trimmed) {
			return store.Comment{}, validationError("parentId must be a valid id", map[string]string{"parentId": "invalid"})
		}
		parentID = &trimmed
	}

	access, err := s.requireProject(ctx, session, projectID, rbac.ActionComment)
	if err != nil {
		return store.Comment{}, err
	}
	if err := access.requireActive(); err != nil {
		return store.Comment{}, err
	}
	task, err := s.scopedTask(ctx, projectID, taskID)
	if err != nil {
		return store.Comment{}, err
	}
	if parentID != nil {
		if _, err := s.liveComment(ctx, task.ID, *parentID); err != nil {
			return store.Comment{}, notFoundError("parent comment not found")
		}
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:       util.NewID(),
		Content:  content,
		AuthorID: session.UserID,
		TaskID:   task.ID,
		ParentID: parentID,
	})
	if err != nil {
		return store.Comment{}, err
	}
	comment.Author = &store.CommentAuthor{ID: session.UserID, Name: session.UserName, Email: session.Email}

	s.after(ctx,
		s.invalidateComments(task.ID, comment.ID),
		s.recordActivity(commentActivity(session, projectID, comment, "created_comment", map[string]any{
			"content":  comment.Content,
			"parentId": comment.ParentID,
		})),
	)
	s.background(ctx, s.indexComment(projectID, comment))
	return comment, nil
}

// ListComments returns the task's live comments as a reply forest.
func (s *Service) ListComments(ctx context.Context, session Session, projectID, taskID string) ([]*commenttree.Node, error) {
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	task, err := s.scopedTask(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	comments, err := readThrough(ctx, s, familyCommentList, commentListKey(task.ID), s.cfg.CommentCacheTTL, func(ctx context.Context) ([]store.Comment, error) {
		return s.store.ListCommentsByTask(ctx, task.ID)
	})
	if err != nil {
		return nil, err
	}
	return commenttree.Build(comments), nil
}

func (s *Service) GetComment(ctx context.Context, session Session, projectID, taskID, commentID string) (store.Comment, error) {
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return store.Comment{}, err
	}
	if _, err := s.scopedTask(ctx, projectID, taskID); err != nil {
		return store.Comment{}, err
	}
	return s.liveComment(ctx, taskID, commentID)
}

// UpdateComment replaces the content. Only the author may edit.
func (s *Service) UpdateComment(ctx context.Context, session Session, projectID, taskID, commentID, content string) (store.Comment, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return store.Comment{}, err
	}
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionRead)
	if err != nil {
		return store.Comment{}, err
	}
	if err := access.requireActive(); err != nil {
		return store.Comment{}, err
	}
	if _, err := s.scopedTask(ctx, projectID, taskID); err != nil {
		return store.Comment{}, err
	}
	existing, err := s.liveComment(ctx, taskID, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if existing.AuthorID != session.UserID {
		return store.Comment{}, forbiddenError("only the author can edit this comment")
	}

	updated, err := s.store.UpdateCommentContent(ctx, commentID, content)
	if err != nil {
		return store.Comment{}, notFoundOr(err, "comment not found")
	}
	updated.Author = existing.Author

	s.after(ctx,
		s.invalidateComments(taskID, commentID),
		s.recordActivity(commentActivity(session, projectID, updated, "comment_updated", map[string]any{
			"content": change{Old: existing.Content, New: updated.Content},
		})),
	)
	s.background(ctx, s.indexComment(projectID, updated))
	return updated, nil
}

// commentScope resolves the ids a delete of comment affects: the whole thread
// for a root, the reply alone for a soft delete, and the reply with its
// descendants when includeReplies is set.
func (s *Service) commentScope(ctx context.Context, comment store.Comment, includeReplies bool) (string, []string, error) {
	mode := deleteModeThread
	if comment.ParentID != nil {
		if !includeReplies {
			return deleteModeLeaf, []string{comment.ID}, nil
		}
		mode = deleteModeSubtree
	}
	edges, err := s.store.ListCommentEdges(ctx, comment.TaskID)
	if err != nil {
		return "", nil, err
	}
	return mode, commenttree.Collect(comment.ID, edges), nil
}

// SoftDeleteComment tombstones a reply, or a root and its whole thread.
func (s *Service) SoftDeleteComment(ctx context.Context, session Session, projectID, taskID, commentID string) (DeleteResult, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionRead)
	if err != nil {
		return DeleteResult{}, err
	}
	if _, err := s.scopedTask(ctx, projectID, taskID); err != nil {
		return DeleteResult{}, err
	}
	comment, err := s.scopedComment(ctx, taskID, commentID)
	if err != nil {
		return DeleteResult{}, err
	}
	if comment.AuthorID != session.UserID && !access.allows(rbac.ActionModerate) {
		return DeleteResult{}, forbiddenError("only the author or an admin can delete this comment")
	}
	if comment.IsDeleted {
		return DeleteResult{}, conflictError("comment is already deleted", nil)
	}

	mode, ids, err := s.commentScope(ctx, comment, false)
	if err != nil {
		return DeleteResult{}, err
	}
	if _, err := s.store.SoftDeleteComments(ctx, comment.ID, ids); err != nil {
		if errors.Is(err, store.ErrStateChanged) {
			s.after(ctx, s.invalidateComments(taskID, comment.ID))
			return DeleteResult{}, conflictError("comment is already deleted", nil)
		}
		return DeleteResult{}, err
	}
	s.metrics.RecordCommentsDeleted("soft", mode, len(ids))

	s.after(ctx,
		s.invalidateComments(taskID, ids...),
		s.recordActivity(commentActivity(session, projectID, comment, "soft_deleted_comment", DeleteResult{Mode: mode, DeletedIDs: ids})),
	)
	s.background(ctx, s.unindexComments(ids))
	return DeleteResult{Mode: mode, DeletedIDs: ids}, nil
}

// HardDeleteComment physically removes a soft-deleted comment. Replies go
// with it through the foreign-key cascade, so they are always reported.
func (s *Service) HardDeleteComment(ctx context.Context, session Session, projectID, taskID, commentID string) (DeleteResult, error) {
	access, err := s.requireProject(ctx, session, projectID, rbac.ActionRead)
	if err != nil {
		return DeleteResult{}, err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return DeleteResult{}, err
	}
	if task.ProjectID != projectID {
		return DeleteResult{}, notFoundError("task not found")
	}
	comment, err := s.scopedComment(ctx, taskID, commentID)
	if err != nil {
		return DeleteResult{}, err
	}
	if !access.allows(rbac.ActionPurge) {
		return DeleteResult{}, forbiddenError("only an admin can permanently delete comments")
	}
	if !comment.IsDeleted {
		return DeleteResult{}, conflictError("comment must be soft-deleted before permanent deletion", nil)
	}

	mode, ids, err := s.commentScope(ctx, comment, true)
	if err != nil {
		return DeleteResult{}, err
	}
	if _, err := s.store.HardDeleteComments(ctx, comment.ID, ids); err != nil {
		if errors.Is(err, store.ErrStateChanged) {
			s.after(ctx, s.invalidateComments(taskID, comment.ID))
			return DeleteResult{}, conflictError("comment must be soft-deleted before permanent deletion", nil)
		}
		return DeleteResult{}, err
	}
	s.metrics.RecordCommentsDeleted("hard", mode, len(ids))

	s.after(ctx,
		s.invalidateComments(taskID, ids...),
		s.recordActivity(commentActivity(session, projectID, comment, "hard_deleted_comment", DeleteResult{Mode: mode, DeletedIDs: ids})),
	)
	s.background(ctx, s.unindexComments(ids))
	return DeleteResult{Mode: mode, DeletedIDs: ids}, nil
}

// interactive resolves a live comment the caller may react to.
func (s *Service) interactive(ctx context.Context, session Session, projectID, taskID, commentID string) (store.Comment, error) {
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionComment); err != nil {
		return store.Comment{}, err
	}
	if _, err := s.scopedTask(ctx, projectID, taskID); err != nil {
		return store.Comment{}, err
	}
	return s.liveComment(ctx, taskID, commentID)
}

func (s *Service) ToggleLike(ctx context.Context, session Session, projectID, taskID, commentID string) (LikeResult, error) {
	comment, err := s.interactive(ctx, session, projectID, taskID, commentID)
	if err != nil {
		return LikeResult{}, err
	}
	liked, err := s.store.ToggleCommentLike(ctx, comment.ID, session.UserID)
	if err != nil {
		return LikeResult{}, err
	}

	action, outcome := "liked_comment", "liked"
	if !liked {
		action, outcome = "unliked_comment", "unliked"
	}
	s.metrics.RecordToggle("like", outcome)
	s.after(ctx,
		s.invalidateComments(taskID, comment.ID),
		s.recordActivity(commentActivity(session, projectID, comment, action, nil)),
	)
	return LikeResult{Liked: liked}, nil
}

func normalizeEmoji(emoji string) (string, error) {
	trimmed := strings.TrimSpace(emoji)
	count := utf8.RuneCountInString(trimmed)
	if count == 0 || count > maxEmojiRunes {
		return "", validationError("emoji must be 1 to 8 characters", map[string]string{"emoji": "invalid"})
	}
	return trimmed, nil
}

// React adds, replaces or removes the caller's single reaction.
func (s *Service) React(ctx context.Context, session Session, projectID, taskID, commentID, emoji string) (ReactionResult, error) {
	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return ReactionResult{}, err
	}
	comment, err := s.interactive(ctx, session, projectID, taskID, commentID)
	if err != nil {
		return ReactionResult{}, err
	}
	toggled, err := s.store.ToggleCommentReaction(ctx, comment.ID, session.UserID, emoji)
	if err != nil {
		return ReactionResult{}, err
	}

	var entry store.Activity
	switch toggled.Action {
	case store.ReactionAdded:
		entry = commentActivity(session, projectID, comment, "added_reaction_to_comment", map[string]string{"emoji": emoji})
	case store.ReactionUpdated:
		entry = commentActivity(session, projectID, comment, "updated_reaction_on_comment", map[string]change{
			"emoji": {Old: toggled.PreviousEmoji, New: emoji},
		})
	default:
		entry = commentActivity(session, projectID, comment, "removed_reaction_from_comment", map[string]string{"emoji": toggled.PreviousEmoji})
	}
	s.metrics.RecordToggle("reaction", toggled.Action)
	s.after(ctx, s.invalidateComments(taskID, comment.ID), s.recordActivity(entry))
	return ReactionResult{Action: toggled.Action, Reaction: toggled.Reaction}, nil
}

// ReactionSummary aggregates likes and reactions for one viewer.
func (s *Service) ReactionSummary(ctx context.Context, session Session, projectID, taskID, commentID string) (ReactionSummary, error) {
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return ReactionSummary{}, err
	}
	if _, err := s.scopedTask(ctx, projectID, taskID); err != nil {
		return ReactionSummary{}, err
	}
	comment, err := s.liveComment(ctx, taskID, commentID)
	if err != nil {
		return ReactionSummary{}, err
	}
	return readThrough(ctx, s, familySummary, summaryKey(comment.ID, session.UserID), s.cfg.SummaryCacheTTL, func(ctx context.Context) (ReactionSummary, error) {
		likes, likedByViewer, err := s.store.CountCommentLikes(ctx, comment.ID, session.UserID)
		if err != nil {
			return ReactionSummary{}, err
		}
		reactions, err := s.store.ListCommentReactionCounts(ctx, comment.ID, session.UserID)
		if err != nil {
			return ReactionSummary{}, err
		}
		if reactions == nil {
			reactions = []store.ReactionCount{}
		}
		return ReactionSummary{Likes: likes, LikedByViewer: likedByViewer, Reactions: reactions}, nil
	})
}

// SearchComments finds live comments in one project.
func (s *Service) SearchComments(ctx context.Context, session Session, projectID, text string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q is required", map[string]string{"q": "required"})
	}
	if _, err := s.requireProject(ctx, session, projectID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{Text: text, ProjectID: projectID, Limit: limit})
}
