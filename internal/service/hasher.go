package service

import (
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

// BcryptHasher implements ports.Hasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. Cost outside bcrypt's valid range
// falls back to the library default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash hashes a password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "hash password")
	}
	return string(hashed), nil
}

// Verify returns nil when the password matches the stored hash. A mismatch and
// a malformed hash both come back as the uniform authentication error.
func (h *BcryptHasher) Verify(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apperrors.Authentication()
	}
	return nil
}
