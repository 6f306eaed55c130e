// Package apperr defines the sentinel errors shared across convsync packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// Bootstrap errors.
	ErrNoProjectRoot = errors.New("no convention project root found")
	ErrNoManifest    = errors.New("no convention manifest found")

	// Validation errors.
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrValidation      = errors.New("validation failed")
	ErrAlreadyTracked  = errors.New("already tracked")
	ErrMissingRevision = errors.New("missing revision token")

	ErrNotTracked    = errors.New("not tracked")
	ErrNothingToSync = errors.New("nothing to sync")
)
