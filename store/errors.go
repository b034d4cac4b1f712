package store

import "errors"

// Error kinds shared across the session/event/job/permission repositories.
// These are sentinel values, not a type hierarchy, matched with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation")
	ErrActiveJobExists = errors.New("active job already exists")
)
