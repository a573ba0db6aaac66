package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) projectRoutes(r chi.Router) {
	r.Post("/", s.createProject)
	r.Get("/", s.listProjects)

	r.Route("/{projectID}", func(r chi.Router) {
		r.Get("/", s.getProject)
		r.Put("/", s.updateProject)
		r.Delete("/", s.deleteProject)
		r.Put("/deactivate", s.setProjectActive(false))
		r.Put("/restore", s.setProjectActive(true))

		r.Post("/members", s.addMembers)
		r.Delete("/members", s.removeMembers)
		r.Put("/members/{userID}/role", s.updateMemberRole)

		r.Get("/activities", s.projectActivities)
		r.Get("/comments/search", s.searchComments)

		r.Route("/tasks", s.taskRoutes)
	})
}

func (s *HTTPServer) createProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string        `json:"name"`
		Description string        `json:"description"`
		Members     []MemberInput `json:"members"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	project, err := s.service.CreateProject(r.Context(), sessionFrom(r), CreateProjectInput{
		Name:        body.Name,
		Description: body.Description,
		Members:     body.Members,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Project created", project)
}

func (s *HTTPServer) listProjects(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	projects, err := s.service.ListProjects(r.Context(), sessionFrom(r), r.URL.Query().Get("search"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Projects", projects)
}

func (s *HTTPServer) getProject(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	project, err := s.service.GetProject(r.Context(), sessionFrom(r), ids.Project)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Project", project)
}

func (s *HTTPServer) updateProject(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	project, err := s.service.UpdateProject(r.Context(), sessionFrom(r), ids.Project, UpdateProjectInput{
		Name:        body.Name,
		Description: body.Description,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Project updated", project)
}

func (s *HTTPServer) setProjectActive(active bool) http.HandlerFunc {
	message := "Project deactivated"
	if active {
		message = "Project restored"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ids, ok := s.ids(w, r)
		if !ok {
			return
		}
		project, err := s.service.SetProjectActive(r.Context(), sessionFrom(r), ids.Project, active)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, message, project)
	}
}

func (s *HTTPServer) deleteProject(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteProject(r.Context(), sessionFrom(r), ids.Project); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Project permanently deleted", map[string]string{"id": ids.Project})
}

func (s *HTTPServer) addMembers(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body struct {
		Members []MemberInput `json:"members"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	members, err := s.service.AddMembers(r.Context(), sessionFrom(r), ids.Project, body.Members)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Members added", members)
}

func (s *HTTPServer) removeMembers(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body struct {
		UserIDs []string `json:"userIds"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	removed, err := s.service.RemoveMembers(r.Context(), sessionFrom(r), ids.Project, body.UserIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Members removed", map[string]any{"removedIds": removed})
}

func (s *HTTPServer) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	member, err := s.service.UpdateMemberRole(r.Context(), sessionFrom(r), ids.Project, ids.User, body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Member role updated", member)
}

func (s *HTTPServer) projectActivities(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	feed, err := s.service.ProjectActivities(r.Context(), sessionFrom(r), ids.Project, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Project activities", feed)
}
