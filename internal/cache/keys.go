package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func WebhookDedupeKey(deliveryKey string) string {
	return fmt.Sprintf("webhook:seen:%s", deliveryKey)
}

func LockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}
