package lane

import "errors"

var (
	// ErrCapacityExceeded is returned when a lane would hold more than Capacity items.
	ErrCapacityExceeded = errors.New("lane capacity exceeded")
	// ErrOrderViolation is returned when slots are not strictly ascending by position.
	ErrOrderViolation = errors.New("lane order violation")
	// ErrInvalidPosition is returned for positions outside 0..length-1.
	ErrInvalidPosition = errors.New("invalid lane position")
)
