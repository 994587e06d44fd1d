package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const maxBcryptInputLength = 72

var (
	ErrEmptyPassword    = errors.New("auth: password required")
	ErrPasswordMismatch = errors.New("auth: password mismatch")
	errPasswordTooLong  = errors.New("auth: password exceeds 72 bytes")
)

var passwordHashingCost = bcrypt.DefaultCost

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > maxBcryptInputLength {
		return "", errPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashingCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword reports ErrPasswordMismatch unless password matches hash.
// An empty hash never matches, so ANONYMOUS users cannot log in.
func ComparePassword(hash, password string) error {
	if hash == "" || password == "" {
		return ErrPasswordMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}
