package app

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) commentRoutes(r chi.Router) {
	r.Post("/", s.createComment)
	r.Get("/", s.listComments)

	r.Route("/{commentID}", func(r chi.Router) {
		r.Get("/", s.getComment)
		r.Put("/", s.updateComment)
		r.Put("/delete", s.softDeleteComment)
		r.Delete("/", s.hardDeleteComment)
		r.Post("/like", s.toggleLike)
		r.Post("/reaction", s.react)
		r.Get("/summary", s.reactionSummary)
	})
}

func (s *HTTPServer) createComment(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body struct {
		Content  string  `json:"content"`
		ParentID *string `json:"parentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	comment, err := s.service.CreateComment(r.Context(), sessionFrom(r), ids.Project, ids.Task, CreateCommentInput{
		Content:  body.Content,
		ParentID: body.ParentID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Comment created", comment)
}

func (s *HTTPServer) listComments(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	tree, err := s.service.ListComments(r.Context(), sessionFrom(r), ids.Project, ids.Task)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comments", tree)
}

func (s *HTTPServer) getComment(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	comment, err := s.service.GetComment(r.Context(), sessionFrom(r), ids.Project, ids.Task, ids.Comment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comment", comment)
}

func (s *HTTPServer) updateComment(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	comment, err := s.service.UpdateComment(r.Context(), sessionFrom(r), ids.Project, ids.Task, ids.Comment, body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comment updated", comment)
}

func (s *HTTPServer) softDeleteComment(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	result, err := s.service.SoftDeleteComment(r.Context(), sessionFrom(r), ids.Project, ids.Task, ids.Comment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comment deleted", result)
}

func (s *HTTPServer) hardDeleteComment(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	result, err := s.service.HardDeleteComment(r.Context(), sessionFrom(r), ids.Project, ids.Task, ids.Comment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comment permanently deleted", result)
}

func (s *HTTPServer) toggleLike(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	result, err := s.service.ToggleLike(r.Context(), sessionFrom(r), ids.Project, ids.Task, ids.Comment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	message := "Comment unliked"
	if result.Liked {
		message = "Comment liked"
	}
	writeSuccess(w, http.StatusOK, message, result)
}

func (s *HTTPServer) react(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.React(r.Context(), sessionFrom(r), ids.Project, ids.Task, ids.Comment, body.Emoji)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Reaction "+result.Action, result)
}

func (s *HTTPServer) reactionSummary(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	summary, err := s.service.ReactionSummary(r.Context(), sessionFrom(r), ids.Project, ids.Task, ids.Comment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Reaction summary", summary)
}

func (s *HTTPServer) searchComments(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.fail(w, r, validationError("limit must be a positive integer", map[string]string{"limit": raw}))
			return
		}
		limit = parsed
	}
	results, err := s.service.SearchComments(r.Context(), sessionFrom(r), ids.Project, query.Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Search results", results)
}
