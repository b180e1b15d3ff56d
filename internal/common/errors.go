// Package common defines shared constants and sentinel errors used across
// PaperSync components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Sync preconditions. These abort a whole sync call and are never
	// retried automatically.
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrAlreadyInProgress = errors.New("sync already in progress")
	ErrOffline           = errors.New("no connectivity")
	ErrSyncDisabled      = errors.New("sync disabled for this account")

	// ErrPreconditionFailed covers non-retryable transfer preconditions,
	// e.g. the local file is missing for an upload.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrOwnershipMismatch means a storage key is outside the current
	// identity's namespace. Security-relevant, never retried, always denied.
	ErrOwnershipMismatch = errors.New("storage key ownership mismatch")

	// Validation errors on document input.
	ErrValidation = errors.New("validation error")
)
