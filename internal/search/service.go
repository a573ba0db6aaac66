package search

import (
	"context"
	"log/slog"
)

// Loader supplies every indexable comment for a rebuild.
type Loader interface {
	LoadComments(ctx context.Context) ([]CommentRecord, error)
}

// Fallback is the always-available search path and the source of truth for
// rebuilds.
type Fallback interface {
	Searcher
	Loader
}

// Service is the facade that tries the primary engine first and falls back
// to Postgres.
type Service struct {
	primary  Backend
	fallback Fallback
	logger   *slog.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Backend, fallback Fallback, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger.With("component", "search")}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries the primary engine if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q.Limit = clampLimit(q.Limit)
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}, nil
		}
		s.logger.Warn("primary search failed, falling back to postgres", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}, nil
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}, nil
}

// IndexComment pushes one comment to the primary index. It is a no-op when
// the primary engine is absent or down.
func (s *Service) IndexComment(_ context.Context, record CommentRecord) error {
	if !s.primaryReady() {
		return nil
	}
	return s.primary.IndexComments([]CommentRecord{record})
}

// DeleteComments drops comments from the primary index.
func (s *Service) DeleteComments(_ context.Context, ids []string) error {
	if !s.primaryReady() || len(ids) == 0 {
		return nil
	}
	return s.primary.DeleteComments(ids)
}

// Reindex loads every live comment from Postgres into the primary index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if !s.primaryReady() || s.fallback == nil {
		return 0, nil
	}
	records, err := s.fallback.LoadComments(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.primary.IndexComments(records); err != nil {
		return 0, err
	}
	s.logger.Info("comment index rebuilt", "count", len(records))
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
