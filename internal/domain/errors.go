package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage error")

	// ErrInvalidTransition is returned when a status update targets a row
	// whose current state does not allow the requested transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)
