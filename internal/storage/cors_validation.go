package storage

import (
	"errors"
	"strings"
)

// ValidateCORSOrigins rejects wildcard origins and enforces HTTPS
// (localhost excepted for development), called on every config.Load
// against the static CORS_ALLOWED_ORIGINS list.
func ValidateCORSOrigins(origins []string) error {
	for _, origin := range origins {
		// ❌ REJECT: Wildcard CORS allows any origin
		if origin == "*" {
			return errors.New("wildcard CORS origin not allowed")
		}

		// ❌ REJECT: HTTP (except localhost for development)
		if !strings.HasPrefix(origin, "https://") && !strings.HasPrefix(origin, "http://localhost") {
			return errors.New("only HTTPS origins allowed (except http://localhost for development)")
		}

		// Additional validation: Ensure valid URL format
		if origin == "" || strings.Contains(origin, " ") {
			return errors.New("invalid origin format")
		}
	}

	return nil
}
