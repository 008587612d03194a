package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobStatusKey includes the owner so a cached status is never served to another user.
func JobStatusKey(userID string, jobID uuid.UUID) string {
	return fmt.Sprintf("tune:status:%s:%s", userID, jobID)
}

// RateLimitKey scopes the submission window to one user.
func RateLimitKey(userID string) string {
	return fmt.Sprintf("ratelimit:submit:%s", userID)
}

func PacksKey(queryType string) string {
	return fmt.Sprintf("astria:packs:%s", queryType)
}
