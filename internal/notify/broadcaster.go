// Package notify fans trip status changes out to live observers.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/trip/domain"
)

const (
	EventTripStatusUpdated = "tripStatusUpdated"
	EventSubscribed        = "subscribed"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notify_deliveries_total",
	Help: "Observer deliveries grouped by outcome.",
}, []string{"result"})

// Event is the message pushed to observers.
type Event struct {
	Name string       `json:"event"`
	Data *domain.Trip `json:"data,omitempty"`
}

// Observer receives events. Deliver must not block for long; a failed
// delivery is logged and otherwise ignored.
type Observer interface {
	Deliver(ctx context.Context, event Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event) error

func (f ObserverFunc) Deliver(ctx context.Context, event Event) error { return f(ctx, event) }

// Broadcaster owns a set of observers and pushes every trip status change to
// all of them. Events fired while nobody is subscribed are dropped.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[uint64]Observer
	next      uint64
	logger    *zap.Logger
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{observers: make(map[uint64]Observer), logger: logger}
}

// Subscribe registers o and returns a func that removes it. The returned
// func is idempotent.
func (b *Broadcaster) Subscribe(o Observer) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.observers[id] = o
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

// Len reports the number of subscribed observers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// NotifyTripStatus implements domain.Notifier.
func (b *Broadcaster) NotifyTripStatus(ctx context.Context, trip domain.Trip) {
	b.Broadcast(ctx, Event{Name: EventTripStatusUpdated, Data: &trip})
}

// Broadcast delivers event to a snapshot of the current observers.
func (b *Broadcaster) Broadcast(ctx context.Context, event Event) {
	b.mu.RLock()
	targets := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		targets = append(targets, o)
	}
	b.mu.RUnlock()

	for _, o := range targets {
		if err := o.Deliver(ctx, event); err != nil {
			deliveries.WithLabelValues("error").Inc()
			b.logger.Debug("observer delivery failed", zap.String("event", event.Name), zap.Error(err))
			continue
		}
		deliveries.WithLabelValues("ok").Inc()
	}
}

// ChannelObserver buffers events on a channel and drops them when the
// buffer is full.
type ChannelObserver struct {
	C chan Event
}

// NewChannelObserver returns an observer with the given buffer size.
func NewChannelObserver(size int) *ChannelObserver {
	return &ChannelObserver{C: make(chan Event, size)}
}

// ErrObserverFull is returned when a ChannelObserver drops an event.
var ErrObserverFull = errors.New("observer buffer full")

func (c *ChannelObserver) Deliver(_ context.Context, event Event) error {
	select {
	case c.C <- event:
		return nil
	default:
		return ErrObserverFull
	}
}
