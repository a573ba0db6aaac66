package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskflow/api/internal/cache"
	"taskflow/api/internal/postcommit"
)

// Key families double as metric labels.
const (
	familyComment     = "comment"
	familyCommentList = "comment_list"
	familySummary     = "comment_summary"
	familyTask        = "task"
	familyTaskList    = "task_list"
)

func commentKey(commentID string) string {
	return "comments:" + commentID
}

func commentListKey(taskID string) string {
	return "comments:list:" + taskID + ":flat"
}

func commentListPattern(taskID string) string {
	return "comments:list:" + taskID + ":*"
}

func summaryKey(commentID, viewerID string) string {
	return "comments:" + commentID + ":summary:" + viewerID
}

func summaryPattern(commentID string) string {
	return "comments:" + commentID + ":summary*"
}

func taskKey(taskID string) string {
	return "tasks:" + taskID
}

func taskListKey(projectID, status string, page, limit int) string {
	if status == "" {
		status = "all"
	}
	return fmt.Sprintf("tasks:list:%s:%s:%d:%d", projectID, status, page, limit)
}

func taskListPattern(projectID string) string {
	return "tasks:list:" + projectID + ":*"
}

// readThrough serves key from the cache, falling back to load on a miss or a
// cache failure and repopulating the cache afterwards.
func readThrough[T any](ctx context.Context, s *Service, family, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	found, err := cache.GetJSON(ctx, s.cache, key, &cached)
	switch {
	case err != nil:
		s.metrics.RecordCacheError(family)
		s.logger.Warn("cache read failed", "key", key, "error", err)
	case found:
		s.metrics.RecordCacheHit(family)
		return cached, nil
	default:
		s.metrics.RecordCacheMiss(family)
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, value, ttl); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return value, nil
}

// invalidate drops keys and every key matching patterns. Each deletion is
// attempted even if an earlier one fails.
func (s *Service) invalidate(keys []string, patterns ...string) postcommit.Hook {
	return postcommit.Hook{
		Name: "cache_invalidate",
		Run: func(ctx context.Context) error {
			var errs []error
			if len(keys) > 0 {
				if err := s.cache.Delete(ctx, keys...); err != nil {
					errs = append(errs, err)
				}
			}
			for _, pattern := range patterns {
				if err := s.cache.DeletePattern(ctx, pattern); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

// invalidateComments covers the single-comment, summary and task-list
// entries touched by a mutation on commentIDs.
func (s *Service) invalidateComments(taskID string, commentIDs ...string) postcommit.Hook {
	keys := make([]string, 0, len(commentIDs))
	patterns := []string{commentListPattern(taskID)}
	for _, id := range commentIDs {
		keys = append(keys, commentKey(id))
		patterns = append(patterns, summaryPattern(id))
	}
	return s.invalidate(keys, patterns...)
}

func (s *Service) invalidateTask(projectID, taskID string) postcommit.Hook {
	return s.invalidate([]string{taskKey(taskID)}, taskListPattern(projectID))
}
