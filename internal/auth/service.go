// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/holomush/holoauth/pkg/errutil"
)

var tracer = otel.Tracer("holoauth/auth")

// DefaultOperationTimeout bounds each Service operation.
const DefaultOperationTimeout = 5 * time.Second

// Operation names used in logs, spans and outcome metrics.
const (
	OpRegister        = "register"
	OpLogin           = "login"
	OpResolveIdentity = "resolve_identity"
)

// OutcomeSuccess is the outcome recorded for successful operations.
const OutcomeSuccess = "success"

// Constructor errors.
var (
	ErrNilUserRepository = oops.Code("AUTH_NIL_DEPENDENCY").Errorf("user repository cannot be nil")
	ErrNilPasswordHasher = oops.Code("AUTH_NIL_DEPENDENCY").Errorf("password hasher cannot be nil")
	ErrNilTokenService   = oops.Code("AUTH_NIL_DEPENDENCY").Errorf("token service cannot be nil")
)

// OutcomeRecorder receives one outcome per Service operation.
type OutcomeRecorder interface {
	RecordAuthOutcome(operation, outcome string)
}

// Service provides registration, login and identity resolution.
type Service struct {
	users     UserRepository
	hasher    PasswordHasher
	tokens    TokenService
	logger    *slog.Logger
	timeout   time.Duration
	hashSlots *semaphore.Weighted
	recorder  OutcomeRecorder
	dummyHash string
}

// Option configures a Service during construction.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds each operation, including time spent waiting for a
// hashing slot. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithHashConcurrency limits how many password hashes run at once.
// Defaults to runtime.NumCPU().
func WithHashConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.hashSlots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithOutcomeRecorder reports operation outcomes, typically to metrics.
func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates a Service. Returns an error if any dependency is nil
// or the hasher cannot produce the decoy hash used for unknown emails.
func NewService(users UserRepository, hasher PasswordHasher, tokens TokenService, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, ErrNilUserRepository
	}
	if hasher == nil {
		return nil, ErrNilPasswordHasher
	}
	if tokens == nil {
		return nil, ErrNilTokenService
	}

	s := &Service{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		logger:    slog.Default(),
		timeout:   DefaultOperationTimeout,
		hashSlots: semaphore.NewWeighted(int64(runtime.NumCPU())),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Unknown emails are verified against a hash with the same cost as real
	// ones so both paths take the same time.
	decoy := make([]byte, 32)
	if _, err := rand.Read(decoy); err != nil {
		return nil, oops.Code("AUTH_DUMMY_HASH_FAILED").Wrap(err)
	}
	dummy, err := hasher.Hash(hex.EncodeToString(decoy))
	if err != nil {
		return nil, oops.Code("AUTH_DUMMY_HASH_FAILED").Wrap(err)
	}
	s.dummyHash = dummy

	return s, nil
}

// Register creates an account. Errors match ErrValidation,
// ErrDuplicateEmail or ErrServiceUnavailable.
func (s *Service) Register(ctx context.Context, email, name, password string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, OpRegister, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := validateRegistration(email, name, password); err != nil {
		s.logger.DebugContext(ctx, "registration rejected", "reason", err.Error())
		return surface(CodeValidation, ErrValidation, OpRegister)
	}

	var hash string
	var hashErr error
	if err := s.runHashJob(ctx, func() { hash, hashErr = s.hasher.Hash(password) }); err != nil {
		return s.unavailable(ctx, OpRegister, "hash password", err)
	}
	if hashErr != nil {
		if errors.Is(hashErr, ErrEmptyPassword) || errors.Is(hashErr, ErrPasswordTooLong) {
			return surface(CodeValidation, ErrValidation, OpRegister)
		}
		return s.unavailable(ctx, OpRegister, "hash password", hashErr)
	}

	user, err := NewUser(email, name, hash)
	if err != nil {
		return surface(CodeValidation, ErrValidation, OpRegister)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return surface(CodeDuplicateEmail, ErrDuplicateEmail, OpRegister)
		}
		return s.unavailable(ctx, OpRegister, "create user", err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return nil
}

// Login checks credentials and issues a token. Errors match
// ErrAuthenticationFailed or ErrServiceUnavailable. Unknown emails and
// wrong passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (token string, err error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer func() { s.finish(span, OpLogin, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if email == "" || password == "" || len(password) > MaxPasswordLength {
		return "", surface(CodeInvalidCredentials, ErrAuthenticationFailed, OpLogin)
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)
	targetHash := s.dummyHash
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		user = nil
	default:
		return "", s.unavailable(ctx, OpLogin, "get user by email", lookupErr)
	}

	// Always verify, even for unknown emails, so timing does not reveal
	// whether the account exists.
	var valid bool
	if err := s.runHashJob(ctx, func() { valid = s.hasher.Verify(password, targetHash) }); err != nil {
		return "", s.unavailable(ctx, OpLogin, "verify password", err)
	}
	if user == nil || !valid {
		s.logger.InfoContext(ctx, "login failed")
		return "", surface(CodeInvalidCredentials, ErrAuthenticationFailed, OpLogin)
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.logger.DebugContext(ctx, "stored password hash uses outdated parameters", "user_id", user.ID.String())
	}

	token, err = s.tokens.Issue(user.ID)
	if err != nil {
		return "", s.unavailable(ctx, OpLogin, "issue token", err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID.String())
	return token, nil
}

// ResolveIdentity maps a token to the identity of its subject. Errors
// match ErrUnauthorized or ErrServiceUnavailable.
func (s *Service) ResolveIdentity(ctx context.Context, token string) (identity Identity, err error) {
	ctx, span := tracer.Start(ctx, "auth.ResolveIdentity")
	defer func() { s.finish(span, OpResolveIdentity, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if token == "" {
		return Identity{}, surface(CodeUnauthorized, ErrUnauthorized, OpResolveIdentity)
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		return Identity{}, surface(CodeUnauthorized, ErrUnauthorized, OpResolveIdentity)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.InfoContext(ctx, "token subject no longer exists", "user_id", userID.String())
			return Identity{}, surface(CodeUnauthorized, ErrUnauthorized, OpResolveIdentity)
		}
		return Identity{}, s.unavailable(ctx, OpResolveIdentity, "get user by id", err)
	}

	return user.Identity(), nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// runHashJob runs job while holding a hashing slot. It returns early with
// the context error if ctx ends first; the slot is released when job
// finishes either way.
func (s *Service) runHashJob(ctx context.Context, job func()) error {
	if err := s.hashSlots.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer s.hashSlots.Release(1)
		defer close(done)
		job()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) unavailable(ctx context.Context, operation, step string, cause error) error {
	errutil.LogError(s.logger.With("operation", operation, "step", step), "auth dependency failed", cause)
	trace.SpanFromContext(ctx).RecordError(cause)
	return surface(CodeUnavailable, ErrServiceUnavailable, operation)
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = KindOf(err).String()
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	span.End()
	if s.recorder != nil {
		s.recorder.RecordAuthOutcome(operation, outcome)
	}
}

func validateRegistration(email, name, password string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	return ValidatePassword(password)
}
