// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process auth.UserRepository.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/holoauth/internal/auth"
)

// UserRepository stores users in memory. Data is lost on restart.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a copy of user if its email and ID are unused.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_CREATE_FAILED").Wrap(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[user.Email]; taken {
		return oops.Code("USER_EMAIL_TAKEN").Wrap(auth.ErrAlreadyExists)
	}
	if _, taken := r.byID[user.ID]; taken {
		return oops.Code("USER_CREATE_FAILED").With("id", user.ID.String()).Errorf("user id already in use")
	}

	stored := *user
	r.byID[user.ID] = &stored
	r.byEmail[user.Email] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").Wrap(err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	found := *user
	return &found, nil
}

// GetByEmail retrieves a user by exact email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").Wrap(err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	found := *r.byID[id]
	return &found, nil
}

// Ping reports whether the repository is usable. It always is.
func (r *UserRepository) Ping(context.Context) error {
	return nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
