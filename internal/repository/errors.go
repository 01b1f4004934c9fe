// Package repository defines the persistence layer for routes, fares,
// seat cells, orders and cancellation records, together with the
// sentinel errors shared by every implementation.  Higher layers use
// errors.Is against these values to tell the failure scenarios apart.
package repository

import "errors"

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would duplicate existing state,
// such as publishing a route twice or opening sales for a train/date
// that already has seat cells.
var ErrConflict = errors.New("conflict")

// ErrStaleState is returned by conditional writes that matched zero
// rows because the row was no longer in the expected state.  Callers
// re-read the row to decide what happened.
var ErrStaleState = errors.New("stale state")

// ErrIllegalTransition is returned when a status change is not in the
// order state machine, whatever the current status.
var ErrIllegalTransition = errors.New("illegal status transition")

// ErrUnpaidOrderExists is returned by ConfirmOrder when the rider
// already holds another confirmed_unpaid order whose deadline is ahead.
var ErrUnpaidOrderExists = errors.New("rider has an unpaid order")
