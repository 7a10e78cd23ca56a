// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides registration, login and token-based identity
// resolution for HoloAuth.
//
// # Domain Types
//
// Users should be created with NewUser, which validates the email and name
// and assigns a fresh ID. Repository implementations receive pre-validated
// users from it.
//
// # Collaborators
//
// The Service coordinates three interfaces:
//   - UserRepository - persistence with an atomic unique-email create
//   - PasswordHasher - argon2id (default) or bcrypt hashing
//   - TokenService - HS256 JWT issuance and verification
//
// # Errors
//
// Service methods return errors matching one of ErrValidation,
// ErrDuplicateEmail, ErrAuthenticationFailed, ErrUnauthorized or
// ErrServiceUnavailable. Use KindOf to classify them. Collaborator errors
// are logged and never returned.
package auth
