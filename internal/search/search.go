package search

import "context"

// Result is a single comment hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Snippet   string `json:"snippet"`
	TaskID    string `json:"taskId"`
	ProjectID string `json:"projectId"`
	AuthorID  string `json:"authorId"`
}

// Query describes a search request scoped to one project.
type Query struct {
	Text      string
	ProjectID string
	TaskID    string
	Limit     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a comment search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push comments into a search index.
type Indexer interface {
	IndexComments(records []CommentRecord) error
	DeleteComments(ids []string) error
}

// Backend is a search engine that also maintains its own index.
type Backend interface {
	Searcher
	Indexer
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID        string `json:"id" db:"id"`
	Content   string `json:"content" db:"content"`
	TaskID    string `json:"taskId" db:"task_id"`
	ProjectID string `json:"projectId" db:"project_id"`
	AuthorID  string `json:"authorId" db:"author_id"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
