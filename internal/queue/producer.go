package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/service"
)

// RetryPolicy is applied to every job the producer submits.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy allows three attempts with backoff doubling from 500ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 500 * time.Millisecond}

// CancelTripPayload is the body of a cancel-trip job.
type CancelTripPayload struct {
	TripID uuid.UUID `json:"trip_id"`
}

// Producer validates trip intents and submits them to the backlog. It never
// waits for a job to run.
type Producer struct {
	backlog Backlog
	policy  RetryPolicy
	logger  *zap.Logger
}

// NewProducer builds a producer. A zero policy field takes the default.
func NewProducer(backlog Backlog, policy RetryPolicy, logger *zap.Logger) *Producer {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.Backoff <= 0 {
		policy.Backoff = DefaultRetryPolicy.Backoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{backlog: backlog, policy: policy, logger: logger}
}

// EnqueueRequestTrip submits a request-trip job. The job id is
// request-trip-<idempotencyKey> when a key is given, so a retried request
// collapses onto the first job; otherwise it is random. Reusing a key for a
// different request fails with ErrIdempotencyKeyReused.
func (p *Producer) EnqueueRequestTrip(ctx context.Context, req service.CreateTripRequest, idempotencyKey string) (string, error) {
	req = req.Normalized()
	if _, err := req.Validate(); err != nil {
		return "", err
	}
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return p.enqueue(ctx, KindRequestTrip, string(KindRequestTrip)+"-"+uuid.NewString(), req)
	}
	jobID, err := p.enqueue(ctx, KindRequestTrip, string(KindRequestTrip)+"-"+key, req)
	if err != nil {
		return "", err
	}
	job, err := p.backlog.Get(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	var stored service.CreateTripRequest
	if job.Kind != KindRequestTrip || json.Unmarshal(job.Payload, &stored) != nil || stored.Normalized() != req {
		return "", fmt.Errorf("%w: %s", ErrIdempotencyKeyReused, key)
	}
	return jobID, nil
}

// EnqueueCancelTrip submits a cancel-trip job keyed by trip id. Repeated
// cancellations of one trip share a job.
func (p *Producer) EnqueueCancelTrip(ctx context.Context, tripID string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(tripID))
	if err != nil {
		return "", fmt.Errorf("%w: trip id must be a UUID", domain.ErrInvalidInput)
	}
	return p.enqueue(ctx, KindCancelTrip, string(KindCancelTrip)+"-"+id.String(), CancelTripPayload{TripID: id})
}

func (p *Producer) enqueue(ctx context.Context, kind Kind, id string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", domain.ErrInvalidInput, err)
	}
	jobID, err := p.backlog.Submit(ctx, kind, raw, Options{
		ID:          id,
		MaxAttempts: p.policy.MaxAttempts,
		Backoff:     Backoff{Delay: p.policy.Backoff},
	})
	if err != nil {
		jobsSubmitted.WithLabelValues(string(kind), "error").Inc()
		p.logger.Error("submit job", zap.String("job_id", id), zap.String("kind", string(kind)), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	jobsSubmitted.WithLabelValues(string(kind), "ok").Inc()
	p.logger.Info("job submitted", zap.String("job_id", jobID), zap.String("kind", string(kind)))
	return jobID, nil
}

// Job returns the retained job with id.
func (p *Producer) Job(ctx context.Context, id string) (Job, error) {
	return p.backlog.Get(ctx, id)
}
