// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity or submission fails
	// validation. It is usually wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")
)
