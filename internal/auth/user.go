// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Field length limits.
const (
	MaxEmailLength    = 254
	MaxNameLength     = 100
	MaxPasswordLength = 1024
)

// User represents a registered account.
type User struct {
	ID           ulid.ULID
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity is the externally visible view of a User.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Identity returns the safe view of the user.
func (u *User) Identity() Identity {
	return Identity{Email: u.Email, Name: u.Name}
}

// NewUser creates a validated User with a fresh ID.
func NewUser(email, name, passwordHash string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// ValidateEmail checks that email is a single bare address. The value is
// matched exactly as given; no case folding is applied.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d bytes", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email is not a valid address")
	}
	return nil
}

// ValidateName checks a display name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return oops.Code("AUTH_INVALID_NAME").Errorf("name cannot be empty")
	}
	if !utf8.ValidString(name) {
		return oops.Code("AUTH_INVALID_NAME").Errorf("name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return oops.Code("AUTH_INVALID_NAME").
			With("max", MaxNameLength).
			Errorf("name must be at most %d characters", MaxNameLength)
	}
	return nil
}

// ValidatePassword checks a plaintext password before hashing.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_EMPTY_PASSWORD").Wrap(ErrEmptyPassword)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code("AUTH_PASSWORD_TOO_LONG").
			With("max", MaxPasswordLength).
			Wrap(ErrPasswordTooLong)
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrAlreadyExists if the email is
	// taken; nothing is written in that case.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	// Returns ErrNotFound if no user has the given ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by exact email.
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)
}
