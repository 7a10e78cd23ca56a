// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/pkg/errutil"
)

func fastArgon2(t *testing.T) *auth.Argon2idHasher {
	t.Helper()
	h, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1})
	require.NoError(t, err)
	return h
}

func fastBcrypt(t *testing.T) *auth.BcryptHasher {
	t.Helper()
	h, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestArgon2idHasher_Hash(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("produces valid hash", func(t *testing.T) {
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"))
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		errutil.AssertErrorCode(t, err, "AUTH_EMPTY_PASSWORD")
	})

	t.Run("encodes custom params", func(t *testing.T) {
		hash, err := fastArgon2(t).Hash("pw")
		require.NoError(t, err)
		assert.Contains(t, hash, "$m=1024,t=1,p=1$")
	})
}

func TestArgon2idHasher_Verify(t *testing.T) {
	hasher := fastArgon2(t)
	hash, err := hasher.Hash("correctpassword")
	require.NoError(t, err)

	t.Run("correct password verifies", func(t *testing.T) {
		assert.True(t, hasher.Verify("correctpassword", hash))
	})

	t.Run("incorrect password fails", func(t *testing.T) {
		assert.False(t, hasher.Verify("wrongpassword", hash))
	})

	t.Run("hash from default params verifies", func(t *testing.T) {
		h, err := auth.NewArgon2idHasher().Hash("pw")
		require.NoError(t, err)
		assert.True(t, hasher.Verify("pw", h))
	})

	t.Run("bcrypt hash verifies", func(t *testing.T) {
		legacy, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
		require.NoError(t, err)
		assert.True(t, hasher.Verify("pw", string(legacy)))
		assert.False(t, hasher.Verify("other", string(legacy)))
	})

	malformed := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not a hash", "not-a-valid-hash"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad version", "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"unknown version", "$argon2id$v=16$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad params", "$argon2id$v=19$mXX$c2FsdA$aGFzaA"},
		{"threads overflow", "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA"},
		{"memory too large", "$argon2id$v=19$m=4294967295,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA"},
		{"bad key", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$!!!"},
		{"empty key", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$"},
		{"truncated", hash[:len(hash)-10]},
	}
	for _, tt := range malformed {
		t.Run("malformed "+tt.name+" is a mismatch", func(t *testing.T) {
			assert.False(t, hasher.Verify("correctpassword", tt.hash))
		})
	}
}

func TestArgon2idHasher_NeedsUpgrade(t *testing.T) {
	hasher := fastArgon2(t)
	current, err := hasher.Hash("pw")
	require.NoError(t, err)
	stronger, err := auth.NewArgon2idHasher().Hash("pw")
	require.NoError(t, err)

	assert.False(t, hasher.NeedsUpgrade(current))
	assert.True(t, hasher.NeedsUpgrade(stronger))
	assert.True(t, hasher.NeedsUpgrade("$2a$10$abcdefghijklmnopqrstuu"))
	assert.True(t, hasher.NeedsUpgrade("garbage"))
}

func TestNewArgon2idHasherWithParams_Validation(t *testing.T) {
	tests := []struct {
		name   string
		params auth.Argon2Params
	}{
		{"zero time", auth.Argon2Params{Time: 0, Memory: 1024, Threads: 1}},
		{"time too large", auth.Argon2Params{Time: 100, Memory: 1024, Threads: 1}},
		{"zero threads", auth.Argon2Params{Time: 1, Memory: 1024, Threads: 0}},
		{"memory below threads", auth.Argon2Params{Time: 1, Memory: 8, Threads: 4}},
		{"memory too large", auth.Argon2Params{Time: 1, Memory: 1 << 30, Threads: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.NewArgon2idHasherWithParams(tt.params)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_PARAMS")
		})
	}
}

func TestBcryptHasher(t *testing.T) {
	hasher := fastBcrypt(t)

	t.Run("round trip", func(t *testing.T) {
		hash, err := hasher.Hash("pw1")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$2a$04$"))
		assert.True(t, hasher.Verify("pw1", hash))
		assert.False(t, hasher.Verify("pw2", hash))
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		errutil.AssertErrorCode(t, err, "AUTH_EMPTY_PASSWORD")
	})

	t.Run("rejects password longer than 72 bytes", func(t *testing.T) {
		_, err := hasher.Hash(strings.Repeat("a", 73))
		errutil.AssertErrorCode(t, err, "AUTH_PASSWORD_TOO_LONG")
	})

	t.Run("verifies argon2id hashes", func(t *testing.T) {
		hash, err := fastArgon2(t).Hash("pw")
		require.NoError(t, err)
		assert.True(t, hasher.Verify("pw", hash))
		assert.False(t, hasher.Verify("nope", hash))
	})

	t.Run("malformed hash is a mismatch", func(t *testing.T) {
		assert.False(t, hasher.Verify("pw", "garbage"))
		assert.False(t, hasher.Verify("pw", "$2a$04$short"))
	})

	t.Run("needs upgrade on cost change", func(t *testing.T) {
		hash, err := hasher.Hash("pw")
		require.NoError(t, err)
		assert.False(t, hasher.NeedsUpgrade(hash))

		other, err := auth.NewBcryptHasher(bcrypt.MinCost + 1)
		require.NoError(t, err)
		assert.True(t, other.NeedsUpgrade(hash))
		assert.True(t, other.NeedsUpgrade("$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA"))
	})

	t.Run("rejects out of range cost", func(t *testing.T) {
		_, err := auth.NewBcryptHasher(bcrypt.MaxCost + 1)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_PARAMS")
		_, err = auth.NewBcryptHasher(1)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_PARAMS")
	})
}

func TestBcryptHasher_MalformedHashCostsAComparison(t *testing.T) {
	hasher, err := auth.NewBcryptHasher(auth.DefaultBcryptCost)
	require.NoError(t, err)
	stored, err := hasher.Hash("pw")
	require.NoError(t, err)

	long := strings.Repeat("x", 200)

	start := time.Now()
	assert.False(t, hasher.Verify("wrong", stored))
	genuine := time.Since(start)

	start = time.Now()
	assert.False(t, hasher.Verify(long, "corrupted-hash"))
	malformed := time.Since(start)

	assert.GreaterOrEqual(t, malformed, genuine/4,
		"malformed hash verification took %v, a real comparison took %v", malformed, genuine)
}

func TestHashers_VerifyHashPropertyAcrossPasswords(t *testing.T) {
	hashers := map[string]auth.PasswordHasher{
		"argon2id": fastArgon2(t),
		"bcrypt":   fastBcrypt(t),
	}
	passwords := []string{"a", "pw1", "correct horse battery staple", "üñíçødé", strings.Repeat("x", 64)}

	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			for i, p := range passwords {
				hash, err := h.Hash(p)
				require.NoError(t, err)
				assert.True(t, h.Verify(p, hash), "password %d should verify", i)
				for j, other := range passwords {
					if i != j {
						assert.False(t, h.Verify(other, hash), "password %d must not verify hash of %d", j, i)
					}
				}
			}
		})
	}
}
