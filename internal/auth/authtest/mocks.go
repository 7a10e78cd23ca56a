// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides testify mocks for the auth collaborators.
package authtest

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/holoauth/internal/auth"
)

// MockUserRepository is a mock auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a mock and registers expectation checks on cleanup.
func NewMockUserRepository(t mock.TestingT) *MockUserRepository {
	m := &MockUserRepository{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

// Create implements auth.UserRepository.
func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// GetByID implements auth.UserRepository.
func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

// GetByEmail implements auth.UserRepository.
func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock and registers expectation checks on cleanup.
func NewMockPasswordHasher(t mock.TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

// Hash implements auth.PasswordHasher.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify implements auth.PasswordHasher.
func (m *MockPasswordHasher) Verify(password, hash string) bool {
	args := m.Called(password, hash)
	return args.Bool(0)
}

// NeedsUpgrade implements auth.PasswordHasher.
func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	args := m.Called(hash)
	return args.Bool(0)
}

// MockTokenService is a mock auth.TokenService.
type MockTokenService struct {
	mock.Mock
}

// NewMockTokenService creates a mock and registers expectation checks on cleanup.
func NewMockTokenService(t mock.TestingT) *MockTokenService {
	m := &MockTokenService{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

// Issue implements auth.TokenService.
func (m *MockTokenService) Issue(userID ulid.ULID) (string, error) {
	args := m.Called(userID)
	return args.String(0), args.Error(1)
}

// Verify implements auth.TokenService.
func (m *MockTokenService) Verify(token string) (ulid.ULID, error) {
	args := m.Called(token)
	id, _ := args.Get(0).(ulid.ULID)
	return id, args.Error(1)
}

var (
	_ auth.UserRepository = (*MockUserRepository)(nil)
	_ auth.PasswordHasher = (*MockPasswordHasher)(nil)
	_ auth.TokenService   = (*MockTokenService)(nil)
)
