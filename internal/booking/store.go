// Package booking implements the seat inventory and booking engine:
// resolving itineraries into route segments, counting whole-interval
// availability, allocating seats with per-cell compare-and-set, the
// order lifecycle and the expiry sweeper.
//
// The engine never talks to a database directly.  It works through the
// store interfaces below, which repository.MemoryStore and the MySQL
// repositories both satisfy.
package booking

import (
	"context"
	"time"

	"github.com/iliyamo/rail-seat-booking/internal/model"
	"github.com/iliyamo/rail-seat-booking/internal/queue"
	"github.com/iliyamo/rail-seat-booking/internal/repository"
)

// RouteStore reads and publishes train routes.
type RouteStore interface {
	ListStops(ctx context.Context, trainNo string) ([]model.Stop, error)
	PublishRoute(ctx context.Context, stops []model.Stop) error
}

// FareStore is the fare lookup collaborator.  The engine sums
// FareForSegment over the segments of an itinerary.
type FareStore interface {
	FareForSegment(ctx context.Context, trainNo, from, to, seatClass string) (int64, error)
	SaveFares(ctx context.Context, fares []model.SegmentFare) error
}

// InventoryStore holds seat cells.  MarkBooked and MarkAvailable are
// conditional writes: they report false when the cell was not in the
// expected state and must never change it in that case.
type InventoryStore interface {
	HasCells(ctx context.Context, trainNo, date string) (bool, error)
	InsertCells(ctx context.Context, cells []model.SeatCell) error
	SeatClasses(ctx context.Context, trainNo, date string) ([]string, error)
	ListCells(ctx context.Context, trainNo, date, seatClass string, segments []model.Segment) ([]model.SeatCell, error)
	MarkBooked(ctx context.Context, key model.CellKey, holder string, at time.Time) (bool, error)
	MarkAvailable(ctx context.Context, key model.CellKey, holder string) (bool, error)
	PurgeCellsBefore(ctx context.Context, date string) (int64, error)
}

// OrderStore persists orders.  Status changes are conditional on the
// current status and return repository.ErrStaleState when it differs.
// ConfirmOrder also enforces one unexpired confirmed_unpaid order per
// rider and returns repository.ErrUnpaidOrderExists otherwise.
type OrderStore interface {
	InsertOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ConfirmOrder(ctx context.Context, id string, lines []model.OrderLine, deadline, at time.Time) error
	TransitionOrder(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) error
	MarkPaid(ctx context.Context, id string, at time.Time) error
	DeleteOrder(ctx context.Context, id string) error
	HasUnexpiredUnpaid(ctx context.Context, riderID string, now time.Time) (bool, error)
	ListReclaimable(ctx context.Context, pendingCutoff, now time.Time, limit int) ([]model.Order, error)
}

// CancellationStore counts cancellations per rider and day.
// ReserveCancellation checks the cap and takes a slot in one step.
type CancellationStore interface {
	CountCancellations(ctx context.Context, riderID, day string) (int, error)
	ReserveCancellation(ctx context.Context, riderID, day string, limit int, at time.Time) (bool, error)
	ReleaseCancellation(ctx context.Context, riderID, day string) error
	PurgeCancellationsBefore(ctx context.Context, day string) (int64, error)
}

// EventPublisher delivers order events.  Publishing is best effort: the
// engine logs a failure and carries on.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.OrderEvent) error
}

// Stores bundles every store the engine needs.  A single
// repository.MemoryStore can fill all of them.
type Stores struct {
	Routes        RouteStore
	Fares         FareStore
	Inventory     InventoryStore
	Orders        OrderStore
	Cancellations CancellationStore
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.OrderEvent) error { return nil }

var (
	_ RouteStore        = (*repository.MemoryStore)(nil)
	_ FareStore         = (*repository.MemoryStore)(nil)
	_ InventoryStore    = (*repository.MemoryStore)(nil)
	_ OrderStore        = (*repository.MemoryStore)(nil)
	_ CancellationStore = (*repository.MemoryStore)(nil)

	_ RouteStore        = (*repository.RouteRepo)(nil)
	_ FareStore         = (*repository.FareRepo)(nil)
	_ InventoryStore    = (*repository.SeatCellRepo)(nil)
	_ OrderStore        = (*repository.OrderRepo)(nil)
	_ CancellationStore = (*repository.CancellationRepo)(nil)
)
