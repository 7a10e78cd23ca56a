// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides a PostgreSQL auth.UserRepository.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/holoauth/internal/auth"
)

// EmailConstraint is the unique constraint on users.email.
const EmailConstraint = "users_email_key"

const (
	insertUserSQL     = `INSERT INTO users (id, email, name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`
	selectUserByID    = `SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`
	selectUserByEmail = `SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`
)

// Querier is the subset of pgxpool.Pool used by UserRepository.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Querier) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a user. The unique constraint on email makes the
// check-and-insert atomic.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, insertUserSQL,
		user.ID.String(),
		user.Email,
		user.Name,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == EmailConstraint {
			return oops.Code("USER_EMAIL_TAKEN").Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, selectUserByID, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by exact email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, selectUserByEmail, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		user      auth.User
		idStr     string
		createdAt time.Time
	)
	if err := row.Scan(&idStr, &user.Email, &user.Name, &user.PasswordHash, &createdAt); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	user.ID = id
	user.CreatedAt = createdAt.UTC()
	return &user, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
