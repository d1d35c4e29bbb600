package credential

import (
	"errors"
	"fmt"
)

var (
	// ErrHashing reports an entropy or resource failure while hashing.
	ErrHashing = errors.New("credential: hashing failed")
	// ErrMalformedHash reports a stored hash that cannot be parsed.
	ErrMalformedHash = errors.New("credential: malformed hash")
	// ErrEmptySecret is returned when hashing an empty secret.
	ErrEmptySecret = errors.New("credential: empty secret")
	// ErrSecretTooLong is returned when a secret exceeds the configured bound.
	ErrSecretTooLong = errors.New("credential: secret too long")
)

// Hasher is a one-way salted hash over passwords and one-time codes.
// Verify returns (false, nil) on mismatch; errors are reserved for
// malformed hashes and hashing failures.
//
// Hash accepts any secret of 1 to MaxSecretBytes bytes. Outside that range
// it returns ErrEmptySecret or ErrSecretTooLong before doing any work, so
// callers that accept user input check the bound first and report it as a
// validation failure.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hashed string) (bool, error)
	MaxSecretBytes() int
}

// Algorithm selects the Hasher implementation built by New.
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmBcrypt   Algorithm = "bcrypt"
)

// Config selects and tunes a Hasher.
type Config struct {
	Algorithm Algorithm
	Argon2    Argon2Config
	// BcryptCost is used when Algorithm is bcrypt. Values below 12 are rejected.
	BcryptCost int
}

// New builds the Hasher named by cfg.Algorithm. An empty algorithm means argon2id.
func New(cfg Config) (Hasher, error) {
	switch cfg.Algorithm {
	case "", AlgorithmArgon2id:
		return NewArgon2(cfg.Argon2)
	case AlgorithmBcrypt:
		return NewBcrypt(cfg.BcryptCost)
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", cfg.Algorithm)
	}
}

var (
	_ Hasher = (*Argon2)(nil)
	_ Hasher = (*Bcrypt)(nil)
)
