package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) adminUserRoutes(r chi.Router) {
	r.Get("/", s.listUsers)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", s.getUser)
		r.Put("/deactivate", s.setUserActive(false))
		r.Put("/restore", s.setUserActive(true))
		r.Put("/role", s.updateUserRole)
		r.Get("/activities", s.userActivities)
	})
}

func (s *HTTPServer) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	users, err := s.service.ListUsers(r.Context(), sessionFrom(r), r.URL.Query().Get("search"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Users", users)
}

func (s *HTTPServer) getUser(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	user, err := s.service.GetUser(r.Context(), sessionFrom(r), ids.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User", user)
}

func (s *HTTPServer) setUserActive(active bool) http.HandlerFunc {
	message := "User deactivated"
	if active {
		message = "User restored"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ids, ok := s.ids(w, r)
		if !ok {
			return
		}
		user, err := s.service.SetUserActive(r.Context(), sessionFrom(r), ids.User, active)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, message, user)
	}
}

func (s *HTTPServer) updateUserRole(w http.ResponseWriter, r *http.Request) {
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
	user, err := s.service.UpdateUserRole(r.Context(), sessionFrom(r), ids.User, body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User role updated", user)
}

func (s *HTTPServer) userActivities(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.ids(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	feed, err := s.service.UserActivities(r.Context(), sessionFrom(r), ids.User, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User activities", feed)
}
