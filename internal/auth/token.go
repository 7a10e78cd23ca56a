// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	MinTokenSecretLength = 32
	DefaultTokenTTL      = 24 * time.Hour
	DefaultTokenIssuer   = "holoauth"
)

// TokenService issues and verifies bearer tokens bound to a user ID.
type TokenService interface {
	// Issue creates a signed token with the user ID as subject.
	Issue(userID ulid.ULID) (string, error)

	// Verify returns the subject of a valid token. Every failure returns
	// an error matching ErrInvalidToken and nothing else.
	Verify(token string) (ulid.ULID, error)
}

// JWTConfig configures a JWTTokenService.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least MinTokenSecretLength bytes.
	Secret []byte

	// TTL is the token lifetime. Zero disables expiry.
	TTL time.Duration

	// Issuer is written to and required in the iss claim. Empty skips the check.
	Issuer string

	// Leeway tolerates clock skew when checking iat and exp.
	Leeway time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// JWTTokenService implements TokenService with HS256-signed JWTs.
type JWTTokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// NewJWTTokenService creates a JWTTokenService. The secret is copied and
// never modified afterwards.
func NewJWTTokenService(cfg JWTConfig) (*JWTTokenService, error) {
	if len(cfg.Secret) < MinTokenSecretLength {
		return nil, oops.Code("TOKEN_INVALID_SECRET").
			With("min_length", MinTokenSecretLength).
			Errorf("token secret must be at least %d bytes", MinTokenSecretLength)
	}
	if cfg.TTL < 0 {
		return nil, oops.Code("TOKEN_INVALID_TTL").Errorf("token ttl cannot be negative")
	}
	if cfg.Leeway < 0 {
		return nil, oops.Code("TOKEN_INVALID_LEEWAY").Errorf("token leeway cannot be negative")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(now),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.TTL > 0 {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &JWTTokenService{
		secret: secret,
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    now,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Issue creates a signed token for userID.
func (s *JWTTokenService) Issue(userID ulid.ULID) (string, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", oops.Code("TOKEN_INVALID_SUBJECT").Errorf("user ID cannot be zero")
	}

	issuedAt := s.now()
	claims := jwt.RegisteredClaims{
		Subject:  userID.String(),
		Issuer:   s.issuer,
		IssuedAt: jwt.NewNumericDate(issuedAt),
		ID:       ulid.Make().String(),
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(s.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify checks the signature, structure and time claims of token.
func (s *JWTTokenService) Verify(token string) (ulid.ULID, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := s.parser.ParseWithClaims(token, claims, s.key); err != nil {
		return ulid.ULID{}, invalidToken()
	}

	id, err := ulid.ParseStrict(claims.Subject)
	if err != nil || id.Compare(ulid.ULID{}) == 0 {
		return ulid.ULID{}, invalidToken()
	}
	return id, nil
}

func (s *JWTTokenService) key(*jwt.Token) (any, error) {
	return s.secret, nil
}

func invalidToken() error {
	return oops.Code("TOKEN_INVALID").Wrap(ErrInvalidToken)
}

var _ TokenService = (*JWTTokenService)(nil)
