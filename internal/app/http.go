package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskflow/api/internal/logging"
	"taskflow/api/internal/util"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.requestContext)
	router.Use(logging.RequestLogger)
	router.Use(middleware.Recoverer)
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	router.Get("/health", s.health)
	router.Get("/ready", s.ready)
	router.Method(http.MethodGet, "/metrics", s.service.metrics.Handler())

	router.Post("/auth/signup", s.signUp)
	router.Post("/auth/login", s.login)

	router.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/auth/logout", s.logout)
		r.Route("/users/me", func(r chi.Router) {
			r.Get("/", s.currentUser)
			r.Put("/", s.updateProfile)
			r.Put("/password", s.changePassword)
			r.Put("/deactivate", s.deactivateAccount)
		})
		r.Route("/admin/users", s.adminUserRoutes)

		r.Route("/projects", s.projectRoutes)
	})
	return router
}

func (s *HTTPServer) health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", map[string]any{"ok": true})
}

func (s *HTTPServer) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, ping := range map[string]func(context.Context) error{
		"database": s.service.Ping,
		"cache":    s.service.PingCache,
	} {
		if err := ping(ctx); err != nil {
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	if statusCode != http.StatusOK {
		writeError(w, statusCode, "NOT_READY", "Service not ready", checks)
		return
	}
	writeSuccess(w, statusCode, "ready", map[string]any{"checks": checks})
}

type sessionKey struct{}

func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		r = r.WithContext(logging.ContextWithRequestID(r.Context(), requestID))

		setCORSHeaders(w.Header(), s.corsOrigin)
		w.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// routeIDs holds the validated id parameters of a route.
type routeIDs struct {
	Project string
	Task    string
	Comment string
	User    string
}

// ids validates every id parameter present on the matched route.
func (s *HTTPServer) ids(w http.ResponseWriter, r *http.Request) (routeIDs, bool) {
	var ids routeIDs
	for param, target := range map[string]*string{
		"projectID": &ids.Project,
		"taskID":    &ids.Task,
		"commentID": &ids.Comment,
		"userID":    &ids.User,
	} {
		value := chi.URLParam(r, param)
		if value == "" {
			continue
		}
		if !util.IsID(value) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid "+param, map[string]string{param: value})
			return routeIDs{}, false
		}
		*target = value
	}
	return ids, true
}

// parsePage reads page and limit. A limit above the maximum is clamped.
func parsePage(r *http.Request) (PageRequest, error) {
	req := PageRequest{Page: 1, Limit: defaultPageLimit}
	query := r.URL.Query()
	if raw := query.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return PageRequest{}, validationError("page must be a positive integer", map[string]string{"page": raw})
		}
		req.Page = page
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return PageRequest{}, validationError("limit must be a positive integer", map[string]string{"limit": raw})
		}
		req.Limit = min(limit, maxPageLimit)
	}
	return req, nil
}

// fail writes err as an error response. Unexpected errors are logged.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"request_id", logging.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	body := map[string]any{
		"message": message,
		"code":    code,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   body,
	})
}

var errInvalidBody = validationError("invalid JSON body", nil)

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return errInvalidBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return validationError("request body is required", nil)
		}
		return errInvalidBody
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
