package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"taskflow/api/internal/auth"
	"taskflow/api/internal/authpw"
	"taskflow/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func forbiddenError(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

// conflictError reports a violated state precondition. It shares 400 with
// validation failures; clients tell them apart by code.
func conflictError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "CONFLICT", message, details)
}

func unauthorizedError(message string) *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

// notFoundOr maps a missing row to a NOT_FOUND error carrying message.
func notFoundOr(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError(message)
	}
	return err
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var fieldErr *authpw.ValidationError
	if errors.As(err, &fieldErr) {
		return http.StatusBadRequest, "VALIDATION_ERROR", fieldErr.Error(), map[string]string{fieldErr.Field: fieldErr.Message}
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrInactiveUser):
		return http.StatusForbidden, "FORBIDDEN", "Account is deactivated", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusBadRequest, "CONFLICT", "Email already registered", nil
	case errors.Is(err, authpw.ErrWrongPassword):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Current password is incorrect", nil
	case errors.Is(err, authpw.ErrNoChanges):
		return http.StatusBadRequest, "CONFLICT", "No changes detected", nil
	case errors.Is(err, store.ErrToggleContention):
		return http.StatusConflict, "CONFLICT", "Concurrent update, retry", nil
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil
}
