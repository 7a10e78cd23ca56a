// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinels returned by collaborators of the Service.
var (
	// ErrNotFound is returned when a requested user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a user with the same email is already stored.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidToken is returned by a TokenService for every verification failure.
	ErrInvalidToken = errors.New("invalid token")
)

// Sentinels surfaced by the Service. Every error returned from Register,
// Login and ResolveIdentity matches exactly one of these with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrAuthenticationFailed = errors.New("invalid email or password")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrServiceUnavailable   = errors.New("service unavailable")
)

// Error codes attached to surfaced errors.
const (
	CodeValidation         = "AUTH_VALIDATION"
	CodeDuplicateEmail     = "AUTH_DUPLICATE_EMAIL"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeUnauthorized       = "AUTH_UNAUTHORIZED"
	CodeUnavailable        = "AUTH_SERVICE_UNAVAILABLE"
)

// Kind classifies a Service error for transports.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindDuplicateEmail
	KindAuthenticationFailed
	KindUnauthorized
	KindServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicateEmail:
		return "duplicate_email"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindUnauthorized:
		return "unauthorized"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal"
	}
}

// KindOf returns the Kind of err. Errors that match none of the surfaced
// sentinels are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrDuplicateEmail):
		return KindDuplicateEmail
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuthenticationFailed
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrServiceUnavailable):
		return KindServiceUnavailable
	default:
		return KindInternal
	}
}

// surface builds an error matching sentinel and carrying code. Internal
// causes are logged by the Service and never attached.
func surface(code string, sentinel error, operation string) error {
	return oops.Code(code).With("operation", operation).Wrap(sentinel)
}
