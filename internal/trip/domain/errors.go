package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownLocation    = errors.New("unknown location")
	ErrNoVehicleAvailable = errors.New("no spaceship available")
	ErrTripNotFound       = errors.New("trip not found")
	ErrSpaceshipNotFound  = errors.New("spaceship not found")
	ErrInvalidTransition  = errors.New("invalid trip state transition")

	// ErrVehicleMoved and ErrLocationBusy come from concurrent bookings and
	// are expected to succeed on a later attempt.
	ErrVehicleMoved = errors.New("spaceship no longer at departure location")
	ErrLocationBusy = errors.New("departure location is locked by another booking")
)

// IsPermanent reports whether err is a domain failure that retrying cannot fix.
func IsPermanent(err error) bool {
	for _, target := range []error{
		ErrInvalidInput,
		ErrUnknownLocation,
		ErrNoVehicleAvailable,
		ErrTripNotFound,
		ErrSpaceshipNotFound,
		ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
