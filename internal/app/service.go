package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskflow/api/internal/auth"
	"taskflow/api/internal/authpw"
	"taskflow/api/internal/cache"
	"taskflow/api/internal/config"
	"taskflow/api/internal/metrics"
	"taskflow/api/internal/postcommit"
	"taskflow/api/internal/rbac"
	"taskflow/api/internal/search"
	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
)

// Session is the authenticated actor of one request.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Email     string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

func (s Session) globalRole() rbac.Role {
	return rbac.Normalize(s.Role)
}

func (s Session) IsAdmin() bool {
	return s.globalRole() == rbac.RoleAdmin
}

type dataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsersByIDs(context.Context, []string) ([]store.User, error)
	ListUsers(context.Context, store.UserFilter) ([]store.User, int, error)
	UpdateUserDetails(context.Context, string, string, string) (store.User, error)
	UpdateUserPassword(context.Context, string, string) error
	SetUserActive(context.Context, string, bool) error
	UpdateUserRole(context.Context, string, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateProjectWithMembers(context.Context, store.Project, []store.ProjectMember) (store.Project, error)
	AddProjectMembers(context.Context, string, []store.ProjectMember) error
	RemoveProjectMembers(context.Context, string, []string) (int64, error)
	GetProject(context.Context, string) (store.Project, error)
	ListProjects(context.Context, store.ProjectFilter) ([]store.Project, int, error)
	UpdateProject(context.Context, store.Project) (store.Project, error)
	SetProjectActive(context.Context, string, bool) error
	DeleteProject(context.Context, string) error
	ListProjectContent(context.Context, string) (store.ProjectContent, error)
	ListProjectMembers(context.Context, string) ([]store.ProjectMember, error)
	GetProjectMember(context.Context, string, string) (store.ProjectMember, error)
	UpdateProjectMemberRole(context.Context, string, string, string) error

	CreateTask(context.Context, store.Task) (store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	ListTasks(context.Context, store.TaskFilter) ([]store.Task, int, error)
	UpdateTask(context.Context, store.Task) (store.Task, error)
	UpdateTaskStatus(context.Context, string, string) error
	SetTaskDeleted(context.Context, string, bool) error
	DeleteTask(context.Context, string) error

	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	ListCommentsByTask(context.Context, string) ([]store.Comment, error)
	ListCommentEdges(context.Context, string) ([]store.CommentEdge, error)
	UpdateCommentContent(context.Context, string, string) (store.Comment, error)
	SoftDeleteComments(context.Context, string, []string) (int64, error)
	HardDeleteComments(context.Context, string, []string) (int64, error)

	ToggleCommentLike(context.Context, string, string) (bool, error)
	ToggleCommentReaction(context.Context, string, string, string) (store.ReactionToggle, error)
	CountCommentLikes(context.Context, string, string) (int, bool, error)
	ListCommentReactionCounts(context.Context, string, string) ([]store.ReactionCount, error)

	InsertActivity(context.Context, store.Activity) (store.Activity, error)
	ListActivities(context.Context, store.ActivityFilter) ([]store.Activity, int, error)

	Ping(ctx context.Context) error
}

// Revoker remembers logged-out access tokens until they expire.
type Revoker interface {
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// CommentIndex is the search surface used by comment endpoints.
type CommentIndex interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
	IndexComment(ctx context.Context, record search.CommentRecord) error
	DeleteComments(ctx context.Context, ids []string) error
}

// Dependencies are the collaborators wired by the entrypoint. Only Store is
// required.
type Dependencies struct {
	Store   *store.PostgresStore
	Cache   cache.Cache
	Revoker Revoker
	Search  CommentIndex
	Metrics *metrics.Metrics
	Hooks   *postcommit.Runner
	Logger  *slog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	cache     cache.Cache
	revoker   Revoker
	search    CommentIndex
	metrics   *metrics.Metrics
	hooks     *postcommit.Runner
	passwords *authpw.Service
	logger    *slog.Logger
}

func New(cfg config.Config, deps Dependencies) *Service {
	return newService(cfg, deps.Store, deps)
}

func newService(cfg config.Config, data dataStore, deps Dependencies) *Service {
	s := &Service{
		cfg:     cfg,
		store:   data,
		cache:   deps.Cache,
		revoker: deps.Revoker,
		search:  deps.Search,
		metrics: deps.Metrics,
		hooks:   deps.Hooks,
		logger:  deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.revoker == nil {
		s.revoker = data
	}
	if s.hooks == nil {
		s.hooks = postcommit.NewRunner(s.logger, s.metrics)
	}
	s.passwords = authpw.NewService(data)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports whether the cache backend answers.
func (s *Service) PingCache(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// Register creates a member account.
func (s *Service) Register(ctx context.Context, name, email, password string) (store.User, error) {
	return s.passwords.Register(ctx, authpw.RegisterRequest{Name: name, Email: email, Password: password})
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, store.User, error) {
	user, err := s.passwords.Login(ctx, email, password)
	if err != nil {
		return Session{}, store.User{}, err
	}
	session, err := s.issueSession(user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return session, user, nil
}

func (s *Service) issueSession(user store.User) (Session, error) {
	claims := auth.NewClaims(user.ID, user.Name, user.Email, user.Role, util.NewID(), s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

// SessionFromToken validates token and resolves the current account.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revoker.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, unauthorizedError("Unauthorized")
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, unauthorizedError("Account is deactivated")
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

// Logout revokes the session's token until it would have expired.
func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.revoker.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
}

// CurrentUser returns the account behind session.
func (s *Service) CurrentUser(ctx context.Context, session Session) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.User{}, notFoundOr(err, "user not found")
	}
	return user, nil
}

// after runs the synchronous post-commit hooks of a mutation.
func (s *Service) after(ctx context.Context, hooks ...postcommit.Hook) {
	s.hooks.Run(ctx, hooks...)
}

// background runs hooks off the request path.
func (s *Service) background(ctx context.Context, hooks ...postcommit.Hook) {
	s.hooks.Go(ctx, hooks...)
}

// recordActivity appends one activity entry once the mutation has committed.
func (s *Service) recordActivity(entry store.Activity) postcommit.Hook {
	return postcommit.Hook{
		Name: "activity",
		Run: func(ctx context.Context) error {
			if _, err := s.store.InsertActivity(ctx, entry); err != nil {
				return fmt.Errorf("record %s: %w", entry.Action, err)
			}
			s.metrics.RecordActivity(entry.Action)
			return nil
		},
	}
}

func activity(session Session, projectID, action string, meta any) store.Activity {
	return store.Activity{
		ProjectID: projectID,
		ActorID:   session.UserID,
		Action:    action,
		Metadata:  encodeMetadata(meta),
	}
}

func encodeMetadata(meta any) json.RawMessage {
	if meta == nil {
		return json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// change is the {old,new} pair recorded for an updated field.
type change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

func stringPtr(value string) *string {
	return &value
}
