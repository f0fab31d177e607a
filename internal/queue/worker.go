package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/service"
)

// Booker is the booking engine surface the worker drives.
type Booker interface {
	CreateTrip(ctx context.Context, req service.CreateTripRequest) (domain.Trip, error)
	CancelTrip(ctx context.Context, id uuid.UUID) (domain.Trip, error)
}

// WorkerConfig defines tunables for the job worker.
type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// CancelTripResult is stored as the result of a completed cancel-trip job.
type CancelTripResult struct {
	Success bool      `json:"success"`
	TripID  uuid.UUID `json:"trip_id"`
}

// Worker pulls jobs from the backlog and runs them with at most Concurrency
// executing at once.
type Worker struct {
	backlog Backlog
	booker  Booker
	logger  *zap.Logger
	cfg     WorkerConfig
	tracer  trace.Tracer
}

// NewWorker constructs a worker.
func NewWorker(backlog Backlog, booker Booker, logger *zap.Logger, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		backlog: backlog,
		booker:  booker,
		logger:  logger,
		cfg:     cfg,
		tracer:  otel.Tracer("trip.queue.worker"),
	}
}

// Run starts the worker loops and blocks until ctx is cancelled. A job that
// has started runs to completion even after cancellation.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			return w.loop(ctx, slot)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) error {
	logger := w.logger.With(zap.Int("slot", slot))
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := w.backlog.Reserve(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("reserve job failed", zap.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}
		w.Process(context.WithoutCancel(ctx), *job)
	}
}

// Process runs one reserved job attempt and records its outcome.
func (w *Worker) Process(ctx context.Context, job Job) {
	ctx, span := w.tracer.Start(ctx, "queue.process", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)),
		attribute.Int("job.attempt", job.AttemptsMade),
	))
	defer span.End()

	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)), zap.Int("attempt", job.AttemptsMade))
	logger.Info("processing job")

	jobsActive.Inc()
	start := time.Now()
	result, err := w.dispatch(ctx, job)
	jobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
	jobsActive.Dec()

	if err == nil {
		if cerr := w.backlog.Complete(ctx, job.ID, result); cerr != nil {
			logger.Error("complete job", zap.Error(cerr))
		}
		jobsProcessed.WithLabelValues(string(job.Kind), "completed").Inc()
		logger.Info("job completed")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	retry := Retryable(err)
	failed, ferr := w.backlog.Fail(ctx, job.ID, err, retry)
	if ferr != nil {
		logger.Error("fail job", zap.Error(ferr), zap.NamedError("cause", err))
		return
	}
	if failed.State == StateDelayed {
		jobsProcessed.WithLabelValues(string(job.Kind), "retry").Inc()
		logger.Warn("job attempt failed, retrying", zap.Error(err), zap.Time("run_at", failed.RunAt))
		return
	}
	jobsProcessed.WithLabelValues(string(job.Kind), "failed").Inc()
	logger.Error("job failed", zap.Error(err), zap.Bool("retryable", retry))
}

// Retryable reports whether a failed attempt may succeed if run again.
func Retryable(err error) bool {
	return !domain.IsPermanent(err) && !errors.Is(err, ErrUnknownJobKind)
}

func (w *Worker) dispatch(ctx context.Context, job Job) (json.RawMessage, error) {
	switch job.Kind {
	case KindRequestTrip:
		return w.requestTrip(ctx, job)
	case KindCancelTrip:
		return w.cancelTrip(ctx, job)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobKind, job.Kind)
	}
}

func (w *Worker) requestTrip(ctx context.Context, job Job) (json.RawMessage, error) {
	w.progress(ctx, job.ID, 10)
	var req service.CreateTripRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return nil, fmt.Errorf("%w: decode request-trip payload: %v", domain.ErrInvalidInput, err)
	}
	w.progress(ctx, job.ID, 50)
	trip, err := w.booker.CreateTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	w.progress(ctx, job.ID, 100)
	return json.Marshal(trip)
}

func (w *Worker) cancelTrip(ctx context.Context, job Job) (json.RawMessage, error) {
	var payload CancelTripPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode cancel-trip payload: %v", domain.ErrInvalidInput, err)
	}
	w.progress(ctx, job.ID, 50)
	if _, err := w.booker.CancelTrip(ctx, payload.TripID); err != nil {
		return nil, err
	}
	w.progress(ctx, job.ID, 100)
	return json.Marshal(CancelTripResult{Success: true, TripID: payload.TripID})
}

func (w *Worker) progress(ctx context.Context, id string, pct int) {
	if err := w.backlog.Progress(ctx, id, pct); err != nil {
		w.logger.Warn("report progress", zap.String("job_id", id), zap.Int("progress", pct), zap.Error(err))
	}
}
