package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/harrylevesque/memberhub/internal/utils"
)

const (
	// MinPasswordLength is the shortest password accepted at registration.
	MinPasswordLength = 10
	// maxPasswordBytes is bcrypt's input limit.
	maxPasswordBytes = 72
)

// dummyHash is compared against when an email is unknown so that failed
// lookups cost the same as failed password checks.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("memberhub-timing-equalizer"), bcrypt.DefaultCost)

// ValidatePassword checks the password policy.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return utils.Validation("weak_password", "password must be at least 10 characters")
	}
	if len(password) > maxPasswordBytes {
		return utils.Validation("weak_password", "password must be at most 72 bytes")
	}
	return nil
}

// HashPassword hashes a password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

// CheckPasswordHash checks a password hash.
func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
