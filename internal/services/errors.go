package services

import "errors"

// Export service errors
var (
	// Grid errors
	ErrGridNotFound = errors.New("grid not found")

	// File errors
	ErrFileNotFound = errors.New("export file not found")

	// General errors
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)
