package app

import (
	"net/http"
	"time"

	"taskflow/api/internal/store"
)

func (s *HTTPServer) signUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.service.Register(r.Context(), body.Name, body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "User registered", user)
}

type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      store.User `json:"user"`
}

func (s *HTTPServer) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, user, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Logged in", loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      user,
	})
}

func (s *HTTPServer) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), sessionFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Logged out", nil)
}

func (s *HTTPServer) currentUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.CurrentUser(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Current user", user)
}

func (s *HTTPServer) updateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.service.UpdateProfile(r.Context(), sessionFrom(r), UpdateProfileInput{Name: body.Name, Email: body.Email})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Profile updated", user)
}

func (s *HTTPServer) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.ChangePassword(r.Context(), sessionFrom(r), body.OldPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Password changed, please log in again", nil)
}

func (s *HTTPServer) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeactivateAccount(r.Context(), sessionFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Account deleted", nil)
}
