// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Caller misuse of the draft store or orchestrator.
var (
	ErrOrdering        = errors.New("registration step out of order")
	ErrAlreadyInFlight = errors.New("registration submission already in flight")
	ErrDraftIncomplete = errors.New("registration draft incomplete")
	ErrDraftDiscarded  = errors.New("registration draft discarded")
	ErrDraftNotFound   = errors.New("registration draft not found")
	ErrIdentityBound   = errors.New("registration draft already has an identity")
)

// Identity provider failures.
var (
	ErrDuplicateIdentity = errors.New("identity already registered")
	ErrTransientNetwork  = errors.New("transient network failure")
	ErrValidation        = errors.New("validation failed")
	ErrIdentityNotFound  = errors.New("identity not found")
)

// Document store failures.
var (
	ErrGatewayUnavailable   = errors.New("document gateway unavailable")
	ErrDocumentTooLarge     = errors.New("document too large")
	ErrDocumentTypeRejected = errors.New("document type not allowed")
	ErrDocumentInfected     = errors.New("document contains virus/malware")
	ErrFileStorageFailed    = errors.New("file storage failed")
)

// Profile store failures.
var (
	ErrPersistence     = errors.New("profile persistence failed")
	ErrProfileNotFound = errors.New("profile not found")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }
