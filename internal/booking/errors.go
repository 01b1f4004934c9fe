package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: an empty passenger list, an
	// unknown seat class, a bad date.  It is returned before any
	// inventory is touched.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidItinerary is a validation failure about the stations:
	// one of them is not a stop of the train, or the origin is not
	// before the destination.  errors.Is(err, ErrValidation) holds.
	ErrInvalidItinerary = fmt.Errorf("invalid itinerary: %w", ErrValidation)

	// ErrSoldOut means no seat of the requested class is free on every
	// segment of the itinerary.
	ErrSoldOut = errors.New("sold out for this interval")

	// ErrConcurrencyConflict means a conditional seat write lost a race.
	// The allocator moves on to the next candidate seat; callers see
	// ErrSoldOut once every candidate is exhausted.
	ErrConcurrencyConflict = errors.New("concurrent booking conflict")

	// ErrInvalidState is returned for an operation the order's current
	// status does not allow, such as paying a paid order.
	ErrInvalidState = errors.New("invalid order state")

	// ErrExpired is returned when the order's time budget has run out.
	ErrExpired = errors.New("order expired")

	// ErrCancellationLimit is returned when the rider reached the daily
	// cancellation cap.
	ErrCancellationLimit = errors.New("daily cancellation limit exceeded")

	// ErrPurchaseRestricted is returned when the rider still has an
	// unexpired confirmed_unpaid order.
	ErrPurchaseRestricted = errors.New("unpaid order exists")

	// ErrOrderNotFound is returned for an unknown order or one owned by a
	// different rider.
	ErrOrderNotFound = errors.New("order not found")
)
