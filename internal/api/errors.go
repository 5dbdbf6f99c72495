package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/service"
	"github.com/phrazzld/imageworks-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authorization errors
	case errors.Is(err, service.ErrJobNotOwned):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, store.ErrJobNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidJobKind),
		errors.Is(err, domain.ErrInvalidEANCode),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, service.ErrJobNotOwned):
		return "You do not own this job"

	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, store.ErrJobNotFound):
		return "Job not found"

	case errors.Is(err, domain.ErrInvalidEANCode):
		return "Invalid product code"

	case errors.Is(err, domain.ErrInvalidJobKind):
		return "Unknown job kind"

	case errors.Is(err, domain.ErrValidation):
		return "Invalid submission"

	default:
		return "An unexpected error occurred"
	}
}
