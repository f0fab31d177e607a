package domain

import "fmt"

type TripStatus string

const (
	StatusScheduled  TripStatus = "SCHEDULED"
	StatusInProgress TripStatus = "IN_PROGRESS"
	StatusCompleted  TripStatus = "COMPLETED"
	StatusCancelled  TripStatus = "CANCELLED"
)

// Trigger is an event that can move a trip between statuses.
type Trigger string

const (
	TriggerCancel Trigger = "cancel"
	TriggerDepart Trigger = "depart"
	TriggerArrive Trigger = "arrive"
)

var transitions = map[TripStatus]map[Trigger]TripStatus{
	StatusScheduled: {
		TriggerCancel: StatusCancelled,
		TriggerDepart: StatusInProgress,
	},
	StatusInProgress: {
		TriggerArrive: StatusCompleted,
	},
}

// Apply returns the status reached by firing trigger from s. Pairs missing
// from the transition table are rejected with ErrInvalidTransition.
func (s TripStatus) Apply(trigger Trigger) (TripStatus, error) {
	next, ok := transitions[s][trigger]
	if !ok {
		return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, s)
	}
	return next, nil
}

func (s TripStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no trigger can leave s.
func (s TripStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// ParseTripStatus accepts the empty string as "no status".
func ParseTripStatus(raw string) (TripStatus, error) {
	if raw == "" {
		return "", nil
	}
	s := TripStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
	return s, nil
}
