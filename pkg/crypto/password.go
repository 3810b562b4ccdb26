package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

const argon2SaltLength = 16

// ErrUnknownAlgorithm is returned when a hasher is requested for an unsupported algorithm.
var ErrUnknownAlgorithm = errors.New("crypto: unknown password algorithm")

// PasswordHasher produces and checks salted password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encoded, candidate string) bool
}

// NewPasswordHasher returns the hasher for the named algorithm. A bcryptCost of
// zero selects bcrypt.DefaultCost.
func NewPasswordHasher(algorithm string, bcryptCost int) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmBcrypt:
		return NewBcryptHasher(bcryptCost)
	case AlgorithmArgon2id:
		return NewArgon2idHasher(DefaultArgon2Params())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// BcryptHasher hashes passwords with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher validates the cost and returns a bcrypt hasher.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("crypto: bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash returns a bcrypt hash of the supplied password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify checks a candidate against either encoding.
func (h *BcryptHasher) Verify(encoded, candidate string) bool {
	return VerifyPassword(encoded, candidate)
}

// Argon2idHasher hashes passwords with argon2id and stores them as PHC strings.
type Argon2idHasher struct {
	params Argon2Parameters
}

// NewArgon2idHasher validates params and returns an argon2id hasher.
func NewArgon2idHasher(params Argon2Parameters) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params}, nil
}

// Hash returns a $argon2id$ PHC string for the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return encodeArgon2id(h.params, salt, deriveArgon2id([]byte(password), salt, h.params)), nil
}

// Verify checks a candidate against either encoding.
func (h *Argon2idHasher) Verify(encoded, candidate string) bool {
	return VerifyPassword(encoded, candidate)
}

// VerifyPassword compares an encoded hash with the plaintext candidate. The
// encoding prefix selects bcrypt or argon2id, so stored hashes stay valid when
// the configured algorithm changes.
func VerifyPassword(encoded, candidate string) bool {
	if strings.HasPrefix(encoded, argon2Prefix) {
		return verifyArgon2id(encoded, candidate)
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(candidate)) == nil
}

func verifyArgon2id(encoded, candidate string) bool {
	params, salt, want, err := decodeArgon2id(encoded)
	if err != nil {
		return false
	}
	got := deriveArgon2id([]byte(candidate), salt, params)
	return subtle.ConstantTimeCompare(got, want) == 1
}
