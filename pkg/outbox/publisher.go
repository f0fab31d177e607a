// Package outbox publishes trip events straight to NATS for deployments
// without a relational outbox table.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/spaceryder/internal/notify"
	"github.com/example/spaceryder/internal/trip/domain"
)

// Conn is the NATS surface the publisher needs; *nats.Conn satisfies it.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher writes trip events to a NATS subject. It is a notify.Observer,
// so subscribing it to the broadcaster mirrors every status change onto the
// bus.
type Publisher struct {
	conn    Conn
	subject string
	now     func() time.Time
}

// NewPublisher builds a Publisher using the provided NATS connection.
func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject, now: func() time.Time { return time.Now().UTC() }}
}

// Publish sends event with its type and trace id as headers.
func (p *Publisher) Publish(ctx context.Context, event domain.TripEvent) error {
	if p == nil || p.conn == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.conn.PublishMsg(&nats.Msg{Subject: p.subject, Data: payload, Header: map[string][]string{
		"x-trace-id":   {traceIDFromContext(ctx)},
		"x-event-type": {string(event.Type)},
		"x-trip-id":    {event.TripID.String()},
	}})
}

// Deliver implements notify.Observer. Events without a trip are ignored.
func (p *Publisher) Deliver(ctx context.Context, event notify.Event) error {
	if event.Name != notify.EventTripStatusUpdated || event.Data == nil {
		return nil
	}
	trip := *event.Data
	return p.Publish(ctx, domain.TripEvent{
		TripID:    trip.ID,
		Type:      domain.EventTypeFor(trip.Status),
		Trip:      trip,
		CreatedAt: p.now(),
	})
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
