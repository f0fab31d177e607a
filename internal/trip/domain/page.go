package domain

import "fmt"

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// PageRequest is a 1-indexed page of trips.
type PageRequest struct {
	Page  int
	Limit int
}

// Validate rejects non-positive values. Limits above MaxLimit are clamped.
func (p PageRequest) Validate() (PageRequest, error) {
	if p.Page < 1 || p.Limit < 1 {
		return p, fmt.Errorf("%w: page and limit must be positive integers", ErrInvalidInput)
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p, nil
}

func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

type TripPage struct {
	Trips []Trip `json:"trips"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}
