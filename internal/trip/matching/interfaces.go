package matching

import (
	"context"
	"time"
)

// LocationLock grants exclusive ownership of a departure location while a
// booking selects and relocates a spaceship. The token identifies the owner so
// an expired lock re-acquired by someone else is never released by mistake.
// The TTL bounds how long a crashed owner can block the location.
type LocationLock interface {
	TryLock(ctx context.Context, location, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, location, token string) error
}
