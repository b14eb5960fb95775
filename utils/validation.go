package utils

import (
	"fmt"
	"regexp"

	"github.com/amyflash/audio-drama-system/models"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 50 {
		return fmt.Errorf("username must be between 3 and 50 characters")
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username may only contain letters, digits, '.', '-' and '_'")
	}
	return nil
}

func ValidatePassword(password string) error {
	// Ensure password length is at least 8 characters
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	uppercase := regexp.MustCompile(`[A-Z]`)
	lowercase := regexp.MustCompile(`[a-z]`)
	digit := regexp.MustCompile(`\d`)

	if !uppercase.MatchString(password) {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !lowercase.MatchString(password) {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !digit.MatchString(password) {
		return fmt.Errorf("password must contain at least one digit")
	}

	return nil
}

func ValidateRole(role string) error {
	switch role {
	case models.RoleUser, models.RoleAdmin:
		return nil
	default:
		return fmt.Errorf("role must be \"user\" or \"admin\"")
	}
}
