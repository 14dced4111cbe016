// Package identity provisions login identities with an identity provider.
//
// CreateAccount is not idempotent: callers must make sure it runs at most once
// per registration. Failures are reported as *Error, whose Kind tells the
// caller whether a retry can help.
package identity

import (
	"context"
	"fmt"
	"time"

	"skyportal/internal/domain"
	apperrors "skyportal/pkg/errors"
)

// Account carries the credentials and profile basics an identity is created from.
type Account struct {
	Email     string          `json:"email" validate:"required,email,max=254"`
	Password  string          `json:"password" validate:"required,min=8,max=128"`
	FirstName string          `json:"first_name" validate:"required,max=100"`
	LastName  string          `json:"last_name" validate:"required,max=100"`
	UserType  domain.UserType `json:"user_type" validate:"required,oneof=private commercial"`
}

// Identity is a provisioned account as stored by the provider.
type Identity struct {
	ID        string          `json:"id" db:"id"`
	Email     string          `json:"email" db:"email"`
	FirstName string          `json:"first_name" db:"first_name"`
	LastName  string          `json:"last_name" db:"last_name"`
	UserType  domain.UserType `json:"user_type" db:"user_type"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Provisioner is implemented by every identity provider adapter.
type Provisioner interface {
	CreateAccount(ctx context.Context, acct Account) (string, error)
	CheckAvailability(ctx context.Context, email string) (bool, error)
}

// Kind classifies provider failures.
type Kind string

const (
	KindDuplicate   Kind = "duplicate"
	KindValidation  Kind = "validation"
	KindTransient   Kind = "transient"
	// KindUnconfirmed means the provider accepted the request but its answer
	// could not be read. The account may exist, so the call is not repeated.
	KindUnconfirmed Kind = "unconfirmed"
)

// Error is returned by adapters for every failed provider call.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("identity %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps the kind onto the shared sentinels.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindDuplicate:
		return target == apperrors.ErrDuplicateIdentity
	case KindValidation:
		return target == apperrors.ErrValidation
	case KindTransient:
		return target == apperrors.ErrTransientNetwork
	}
	return false
}

func duplicate(msg string, err error) *Error {
	return &Error{Kind: KindDuplicate, Message: msg, Err: err}
}

func invalid(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

func transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

func unconfirmed(msg string, err error) *Error {
	return &Error{Kind: KindUnconfirmed, Message: msg, Err: err}
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	return apperrors.Is(err, apperrors.ErrTransientNetwork)
}

// KindOf extracts the failure kind, or "" when err is not a provider error.
func KindOf(err error) Kind {
	var ie *Error
	if apperrors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}
