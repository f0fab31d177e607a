// Package queue persists trip intents as retryable jobs and runs them against
// the booking engine with bounded concurrency.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Kind names the work a job performs.
type Kind string

const (
	KindRequestTrip Kind = "request-trip"
	KindCancelTrip  Kind = "cancel-trip"
)

// State is the lifecycle position of a job inside the backlog.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the job will never run again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	ErrUnknownJobKind = errors.New("unknown job kind")
	ErrDispatch       = errors.New("job dispatch failed")
	ErrJobNotFound    = errors.New("job not found")

	ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")

	errJobIDRequired = errors.New("job id required")
)

// Backoff is an exponential retry delay starting at Delay.
type Backoff struct {
	Delay time.Duration
}

// Next returns the delay before the retry that follows attempt, where the
// first attempt is 1.
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 || b.Delay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	return b.Delay << shift
}

// DefaultLease bounds how long a reserved job may go without progress before
// another Reserve takes it back.
const DefaultLease = 30 * time.Second

// errLeaseExpired is recorded on a job whose worker stopped reporting.
var errLeaseExpired = errors.New("job lease expired")

// Options control identity and retries for a submitted job.
type Options struct {
	ID          string
	MaxAttempts int
	Backoff     Backoff
}

// Job is the backlog's record of one unit of work.
type Job struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	State        State           `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      time.Duration   `json:"-"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	RunAt        time.Time       `json:"run_at,omitempty"`
	LeaseUntil   time.Time       `json:"lease_until,omitempty"`
}

// Backlog stores jobs between submission and execution. Implementations
// must deliver each ready job to exactly one Reserve caller.
type Backlog interface {
	// Submit stores a job. When a job with opts.ID is still retained the
	// existing id is returned and nothing is stored.
	Submit(ctx context.Context, kind Kind, payload json.RawMessage, opts Options) (string, error)
	// Reserve claims the next ready job, counts the attempt and leases the
	// job to the caller. Active jobs whose lease ran out are requeued, or
	// failed when no attempts remain. It returns nil when nothing is ready.
	Reserve(ctx context.Context) (*Job, error)
	// Progress records pct and renews the lease.
	Progress(ctx context.Context, id string, pct int) error
	Complete(ctx context.Context, id string, result json.RawMessage) error
	// Fail records cause. With retry set and attempts left the job is
	// delayed by its backoff, otherwise it fails terminally.
	Fail(ctx context.Context, id string, cause error, retry bool) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
}

// stalledState decides where an active job with an expired lease goes.
func stalledState(job Job) State {
	if job.AttemptsMade < job.MaxAttempts {
		return StateWaiting
	}
	return StateFailed
}

// failedState decides where a failed attempt leaves the job.
func failedState(job Job, retry bool, now time.Time) (State, time.Time) {
	if retry && job.AttemptsMade < job.MaxAttempts {
		return StateDelayed, now.Add(Backoff{Delay: job.Backoff}.Next(job.AttemptsMade))
	}
	return StateFailed, time.Time{}
}
