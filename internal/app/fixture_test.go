package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskflow/api/internal/cache"
	"taskflow/api/internal/config"
	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
)

type fixture struct {
	t       *testing.T
	store   *memStore
	cache   *cache.Memory
	service *Service
	handler http.Handler

	admin    store.User
	owner    store.User
	manager  store.User
	member   store.User
	other    store.User
	outsider store.User

	project store.Project
	task    store.Task
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       "test-secret",
		AccessTTL:       time.Hour,
		CORSOrigin:      "*",
		CommentCacheTTL: time.Minute,
		SummaryCacheTTL: time.Minute,
		TaskCacheTTL:    time.Minute,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture seeds a project owned by owner with manager, member and other as
// members, plus one live task.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := newMemStore()
	mem := cache.NewMemory(time.Minute)
	svc := newService(testConfig(), ms, Dependencies{Cache: mem, Logger: quietLogger()})
	t.Cleanup(svc.hooks.Wait)

	f := &fixture{
		t:       t,
		store:   ms,
		cache:   mem,
		service: svc,
		handler: NewHTTPServer(svc, "*").Handler(),
	}
	f.admin = f.seedUser("Ada Admin", "admin")
	f.owner = f.seedUser("Olive Owner", "member")
	f.manager = f.seedUser("Max Manager", "member")
	f.member = f.seedUser("Mia Member", "member")
	f.other = f.seedUser("Otto Other", "member")
	f.outsider = f.seedUser("Oscar Outsider", "member")

	project, err := ms.CreateProjectWithMembers(context.Background(), store.Project{
		ID:      util.NewID(),
		Name:    "Launch",
		OwnerID: f.owner.ID,
	}, []store.ProjectMember{
		{UserID: f.owner.ID, Role: "owner"},
		{UserID: f.manager.ID, Role: "manager"},
		{UserID: f.member.ID, Role: "member"},
		{UserID: f.other.ID, Role: "member"},
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	f.project = project
	f.task = f.seedTask(project.ID)
	return f
}

func (f *fixture) seedUser(name, role string) store.User {
	f.t.Helper()
	id := util.NewID()
	user, err := f.store.CreateUser(context.Background(), store.User{
		ID:       id,
		Name:     name,
		Email:    id[:8] + "@example.com",
		Role:     role,
		IsActive: true,
	})
	if err != nil {
		f.t.Fatalf("seed user: %v", err)
	}
	return user
}

func (f *fixture) seedTask(projectID string) store.Task {
	f.t.Helper()
	task, err := f.store.CreateTask(context.Background(), store.Task{
		ID:        util.NewID(),
		ProjectID: projectID,
		Title:     "Write launch notes",
		Status:    TaskTodo,
		Priority:  "medium",
		CreatedBy: f.owner.ID,
	})
	if err != nil {
		f.t.Fatalf("seed task: %v", err)
	}
	return task
}

func (f *fixture) token(user store.User) string {
	f.t.Helper()
	session, err := f.service.issueSession(user)
	if err != nil {
		f.t.Fatalf("issue token: %v", err)
	}
	return session.Token
}

func (f *fixture) taskPath() string {
	return "/projects/" + f.project.ID + "/tasks/" + f.task.ID
}

func (f *fixture) commentPath(commentID string) string {
	return f.taskPath() + "/comments/" + commentID
}

var zeroUser store.User

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string          `json:"message"`
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func (e envelope) code() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

// do sends one request as user; a zero user sends no token.
func (f *fixture) do(method, path string, user store.User, body string) (*httptest.ResponseRecorder, envelope) {
	f.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if user.ID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(user))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			f.t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, env
}

// mustDo is do that fails the test unless the status matches.
func (f *fixture) mustDo(method, path string, user store.User, body string, status int) envelope {
	f.t.Helper()
	rec, env := f.do(method, path, user, body)
	if rec.Code != status {
		f.t.Fatalf("%s %s: expected %d, got %d body=%s", method, path, status, rec.Code, rec.Body.String())
	}
	return env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data %s: %v", string(env.Data), err)
	}
	return out
}

func (f *fixture) createComment(user store.User, content string, parentID string) store.Comment {
	f.t.Helper()
	payload := map[string]any{"content": content}
	if parentID != "" {
		payload["parentId"] = parentID
	}
	raw, _ := json.Marshal(payload)
	env := f.mustDo(http.MethodPost, f.taskPath()+"/comments", user, string(raw), http.StatusCreated)
	return decodeData[store.Comment](f.t, env)
}
