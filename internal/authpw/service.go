// Package authpw checks the board's admin password.
package authpw

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrEmptyPassword = errors.New("password is required")

// Hash returns a bcrypt hash suitable for the adminPassword setting.
func Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify compares an attempt with the stored admin password. The stored
// value may be a bcrypt hash or, for documents written by older clients,
// the plain password. An empty stored value never matches.
func Verify(stored, attempt string) bool {
	if stored == "" || attempt == "" {
		return false
	}
	if IsHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(attempt)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(attempt)) == 1
}

func IsHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
