// Package authpw provides email/password registration and login.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"taskflow/api/internal/rbac"
	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInactiveUser       = errors.New("account is deactivated")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrNoChanges          = errors.New("no changes detected")
)

// ValidationError reports a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	UpdateUserDetails(ctx context.Context, id, name, email string) (store.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// RegisterRequest contains sign-up parameters
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// Register creates an active member account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	name, err := normalizeName(req.Name)
	if err != nil {
		return store.User{}, err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return store.User{}, err
	}
	if err := checkPassword("password", req.Password); err != nil {
		return store.User{}, err
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         string(rbac.RoleMember),
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login checks credentials and returns the account.
func (s *Service) Login(ctx context.Context, email, password string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.User{}, &ValidationError{Field: "credentials", Message: "email and password are required"}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return store.User{}, ErrInactiveUser
	}
	return user, nil
}

// DetailsRequest carries the profile fields to change; nil leaves a field as
// it is.
type DetailsRequest struct {
	Name  *string
	Email *string
}

// UpdateDetails validates and applies a profile change and returns the
// account before and after it.
func (s *Service) UpdateDetails(ctx context.Context, userID string, req DetailsRequest) (store.User, store.User, error) {
	if req.Name == nil && req.Email == nil {
		return store.User{}, store.User{}, &ValidationError{Field: "details", Message: "name or email is required"}
	}
	current, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	name, email := current.Name, current.Email
	if req.Name != nil {
		if name, err = normalizeName(*req.Name); err != nil {
			return store.User{}, store.User{}, err
		}
	}
	if req.Email != nil {
		if email, err = normalizeEmail(*req.Email); err != nil {
			return store.User{}, store.User{}, err
		}
	}
	if name == current.Name && email == current.Email {
		return store.User{}, store.User{}, ErrNoChanges
	}
	if email != current.Email {
		if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
			return store.User{}, store.User{}, ErrEmailTaken
		} else if !errors.Is(err, sql.ErrNoRows) {
			return store.User{}, store.User{}, fmt.Errorf("lookup user: %w", err)
		}
	}

	updated, err := s.store.UpdateUserDetails(ctx, userID, name, email)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.User{}, store.User{}, ErrEmailTaken
		}
		return store.User{}, store.User{}, fmt.Errorf("update user: %w", err)
	}
	return current, updated, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return &ValidationError{Field: "oldPassword", Message: "is required"}
	}
	if err := checkPassword("newPassword", newPassword); err != nil {
		return err
	}
	if newPassword == currentPassword {
		return &ValidationError{Field: "newPassword", Message: "must differ from the current password"}
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrWrongPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) < 2 {
		return "", &ValidationError{Field: "name", Message: "must be at least 2 characters"}
	}
	return name, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", &ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	return email, nil
}

func checkPassword(field, password string) error {
	if len(password) < 6 {
		return &ValidationError{Field: field, Message: "must be at least 6 characters"}
	}
	return nil
}
