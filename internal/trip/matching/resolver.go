package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/trip/domain"
)

const maxLockBackoff = time.Second

// ResolverConfig configures location locking behaviour.
type ResolverConfig struct {
	LockTTL     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Resolver finds spaceships available for a departure. Hold additionally
// serialises bookings that leave from the same location.
type Resolver struct {
	vehicles domain.VehicleDirectory
	locks    LocationLock
	logger   *zap.Logger
	cfg      ResolverConfig
}

// NewResolver builds a resolver. A nil lock disables location exclusion.
func NewResolver(vehicles domain.VehicleDirectory, locks LocationLock, logger *zap.Logger, cfg ResolverConfig) *Resolver {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{vehicles: vehicles, locks: locks, logger: logger, cfg: cfg}
}

// FindAvailable returns the spaceships docked at code. The departure time is
// accepted for commitments spanning it but only location filters today.
func (r *Resolver) FindAvailable(ctx context.Context, code string, _ time.Time) ([]domain.Spaceship, error) {
	ships, err := r.vehicles.FindByLocation(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find spaceships at %s: %w", code, err)
	}
	return ships, nil
}

// Hold is an exclusive claim on a departure location.
type Hold struct {
	Location string
	Vehicles []domain.Spaceship

	token string
	locks LocationLock
}

// Release gives the location back. It is safe to call on a nil Hold.
func (h *Hold) Release(ctx context.Context) error {
	if h == nil || h.locks == nil {
		return nil
	}
	return h.locks.Unlock(ctx, h.Location, h.token)
}

// Hold locks code, retrying with exponential backoff, and lists the
// spaceships docked there. The caller must Release the hold once the chosen
// spaceship has been relocated. ErrLocationBusy is returned when every
// attempt finds the location taken.
func (r *Resolver) Hold(ctx context.Context, code string, departure time.Time) (*Hold, error) {
	start := time.Now()
	hold, err := r.acquire(ctx, code)
	if err != nil {
		holdDuration.WithLabelValues("busy").Observe(time.Since(start).Seconds())
		return nil, err
	}
	ships, err := r.FindAvailable(ctx, code, departure)
	if err != nil {
		if rerr := hold.Release(ctx); rerr != nil {
			r.logger.Warn("release location after lookup failure", zap.String("location", code), zap.Error(rerr))
		}
		holdDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	hold.Vehicles = ships
	holdDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	return hold, nil
}

func (r *Resolver) acquire(ctx context.Context, code string) (*Hold, error) {
	if r.locks == nil {
		return &Hold{Location: code}, nil
	}
	token := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		ok, err := r.locks.TryLock(ctx, code, token, r.cfg.LockTTL)
		switch {
		case err != nil:
			lockAttempts.WithLabelValues("error").Inc()
			lastErr = err
		case ok:
			lockAttempts.WithLabelValues("acquired").Inc()
			return &Hold{Location: code, token: token, locks: r.locks}, nil
		default:
			lockAttempts.WithLabelValues("contended").Inc()
		}
		if attempt < r.cfg.MaxAttempts-1 {
			backoff := r.cfg.Backoff << attempt
			if backoff <= 0 || backoff > maxLockBackoff {
				backoff = maxLockBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("lock location %s: %w", code, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrLocationBusy, code)
}
