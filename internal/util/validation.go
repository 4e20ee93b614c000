package util

import (
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

const MinPasswordLength = 8

func IsValidUUID(s string) bool {
	return s != "" && uuid.Validate(s) == nil
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail accepts a bare address only, without a display name.
func IsValidEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return strings.Contains(email[at+1:], ".")
}
