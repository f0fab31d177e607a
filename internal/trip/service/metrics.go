package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/spaceryder/internal/trip/domain"
)

var (
	bookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_bookings_total",
		Help: "Trip booking attempts grouped by outcome.",
	}, []string{"result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_transitions_total",
		Help: "Trip status transitions grouped by trigger and outcome.",
	}, []string{"trigger", "result"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrUnknownLocation):
		return "unknown_location"
	case errors.Is(err, domain.ErrNoVehicleAvailable):
		return "no_vehicle"
	case errors.Is(err, domain.ErrTripNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrVehicleMoved), errors.Is(err, domain.ErrLocationBusy):
		return "conflict"
	default:
		return "error"
	}
}

func recordBooking(err error) {
	bookingsTotal.WithLabelValues(outcome(err)).Inc()
}

func recordTransition(trigger domain.Trigger, err error) {
	transitionsTotal.WithLabelValues(string(trigger), outcome(err)).Inc()
}
