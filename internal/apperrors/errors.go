// Package apperrors defines the error kinds shared by the store, the
// real-time layer and the HTTP surface.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrAuth        = errors.New("authentication failed")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrStore       = errors.New("store failure")
	ErrRateLimited = errors.New("rate limit exceeded")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Auth(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuth, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func RateLimited(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRateLimited, fmt.Sprintf(format, args...))
}

// Store marks err as a persistence failure unless it already carries a
// more specific kind (a repository miss stays NotFound).
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if kindOf(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func kindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrAuth, ErrForbidden, ErrNotFound, ErrConflict, ErrStore, ErrRateLimited} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// HTTPStatus maps an error to the status code the HTTP surface returns.
func HTTPStatus(err error) int {
	switch kindOf(err) {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrAuth:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show a client. Store failures and
// unclassified errors collapse to a generic message.
func PublicMessage(err error) string {
	switch kindOf(err) {
	case nil, ErrStore:
		return "internal error"
	default:
		return err.Error()
	}
}
