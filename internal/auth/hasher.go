// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// OWASP-recommended argon2id parameters.
const (
	DefaultArgon2Time    = 1         // iterations
	DefaultArgon2Memory  = 64 * 1024 // 64 MB
	DefaultArgon2Threads = 4         // parallelism
	argon2SaltLen        = 16        // salt length in bytes
	argon2KeyLen         = 32        // output length in bytes
)

// Upper bounds accepted from stored argon2id hashes.
const (
	maxArgon2Time   = 16
	maxArgon2Memory = 1024 * 1024 // 1 GB
)

// DefaultBcryptCost matches the cost used by existing account records.
const DefaultBcryptCost = 10

// bcrypt ignores input past this many bytes.
const bcryptMaxPasswordLen = 72

var (
	// ErrEmptyPassword is returned when attempting to hash an empty password.
	ErrEmptyPassword = errors.New("password cannot be empty")

	// ErrPasswordTooLong is returned when the password exceeds what the hasher accepts.
	ErrPasswordTooLong = errors.New("password too long")
)

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way hash of the password.
	Hash(password string) (string, error)

	// Verify reports whether the password matches the hash. A malformed
	// hash is a mismatch, not an error.
	Verify(password, hash string) bool

	// NeedsUpgrade returns true if the hash was not produced with the
	// hasher's current algorithm and parameters.
	NeedsUpgrade(hash string) bool
}

// Argon2Params tunes the argon2id work factor.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultArgon2Params returns the OWASP-recommended parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    DefaultArgon2Time,
		Memory:  DefaultArgon2Memory,
		Threads: DefaultArgon2Threads,
	}
}

// Validate checks the parameters are usable.
func (p Argon2Params) Validate() error {
	if p.Time == 0 || p.Time > maxArgon2Time {
		return oops.Code("AUTH_INVALID_PARAMS").With("time", p.Time).Errorf("argon2 time must be between 1 and %d", maxArgon2Time)
	}
	if p.Memory < 8*uint32(p.Threads) || p.Memory > maxArgon2Memory {
		return oops.Code("AUTH_INVALID_PARAMS").With("memory", p.Memory).Errorf("argon2 memory out of range")
	}
	if p.Threads == 0 {
		return oops.Code("AUTH_INVALID_PARAMS").Errorf("argon2 threads must be positive")
	}
	return nil
}

// Argon2idHasher implements PasswordHasher using argon2id. It also verifies
// bcrypt hashes so records created before the switch keep working.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates a new Argon2idHasher with default parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{params: DefaultArgon2Params()}
}

// NewArgon2idHasherWithParams creates an Argon2idHasher with custom parameters.
func NewArgon2idHasherWithParams(params Argon2Params) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params}, nil
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", oops.Code("AUTH_EMPTY_PASSWORD").Wrap(ErrEmptyPassword)
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify checks if the password matches the hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) bool {
	if isBcryptHash(encodedHash) {
		return verifyBcrypt(password, encodedHash)
	}

	decoded, err := decodeArgon2id(encodedHash)
	if err != nil {
		h.burn(password)
		return false
	}

	computed := argon2.IDKey([]byte(password), decoded.salt, decoded.params.Time, decoded.params.Memory, decoded.params.Threads, uint32(len(decoded.key)))
	return subtle.ConstantTimeCompare(computed, decoded.key) == 1
}

// NeedsUpgrade returns true if the hash is not argon2id with the current parameters.
func (h *Argon2idHasher) NeedsUpgrade(hash string) bool {
	decoded, err := decodeArgon2id(hash)
	if err != nil {
		return true
	}
	return decoded.params != h.params
}

// burn spends the same work as a real verification so malformed hashes
// are not distinguishable by timing.
func (h *Argon2idHasher) burn(password string) {
	var salt [argon2SaltLen]byte
	_ = argon2.IDKey([]byte(password), salt[:], h.params.Time, h.params.Memory, h.params.Threads, argon2KeyLen)
}

type argon2idHash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func decodeArgon2id(encodedHash string) (argon2idHash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported argon2 version: %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	// Validate threads fits in uint8 to prevent silent truncation
	if threads == 0 || threads > 255 {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	params := Argon2Params{Time: time, Memory: memory, Threads: uint8(threads)}
	if err := params.Validate(); err != nil {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1024 {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	return argon2idHash{params: params, salt: salt, key: key}, nil
}

// BcryptHasher implements PasswordHasher using bcrypt. It also verifies
// argon2id hashes so the algorithm can be switched in either direction.
type BcryptHasher struct {
	cost  int
	decoy []byte // bcrypt hash at cost, compared against for malformed hashes
}

// NewBcryptHasher creates a BcryptHasher with the given cost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("AUTH_INVALID_PARAMS").With("cost", cost).Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}
	decoy, err := bcrypt.GenerateFromPassword([]byte(base64.RawStdEncoding.EncodeToString(secret)), cost)
	if err != nil {
		return nil, oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return &BcryptHasher{cost: cost, decoy: decoy}, nil
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", oops.Code("AUTH_EMPTY_PASSWORD").Wrap(ErrEmptyPassword)
	}
	if len(password) > bcryptMaxPasswordLen {
		return "", oops.Code("AUTH_PASSWORD_TOO_LONG").With("max", bcryptMaxPasswordLen).Wrap(ErrPasswordTooLong)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(hash), nil
}

// Verify checks if the password matches the hash.
func (h *BcryptHasher) Verify(password, hash string) bool {
	if strings.HasPrefix(hash, "$argon2id$") {
		return NewArgon2idHasher().Verify(password, hash)
	}
	if !isBcryptHash(hash) {
		// CompareHashAndPassword accepts any password length, so this costs
		// a full comparison even past 72 bytes.
		_ = bcrypt.CompareHashAndPassword(h.decoy, []byte(password))
		return false
	}
	return verifyBcrypt(password, hash)
}

// NeedsUpgrade returns true if the hash is not bcrypt with the current cost.
func (h *BcryptHasher) NeedsUpgrade(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

func verifyBcrypt(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var (
	_ PasswordHasher = (*Argon2idHasher)(nil)
	_ PasswordHasher = (*BcryptHasher)(nil)
)
