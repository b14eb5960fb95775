package utils

import (
	"fmt"

	"github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt only reads the first 72 bytes of a password.
const maxPasswordBytes = 72

func HashPassword(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		password = password[:maxPasswordBytes]
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	return string(bytes), err
}

// CheckPasswordHash reports whether password matches the bcrypt hash.
// Empty hashes never match.
func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		return false
	}
	if len(password) > maxPasswordBytes {
		password = password[:maxPasswordBytes]
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GeneratePassword returns a random 16 character password that passes
// ValidatePassword.
func GeneratePassword() (string, error) {
	for i := 0; i < 10; i++ {
		pw, err := password.Generate(16, 4, 0, false, false)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		if ValidatePassword(pw) == nil {
			return pw, nil
		}
	}
	return "", fmt.Errorf("generate password: no candidate met the password policy")
}
