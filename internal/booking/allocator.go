package booking

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jonboulle/clockwork"

	"github.com/iliyamo/rail-seat-booking/internal/model"
)

// rollbackAttempts bounds how often a compensating release of one cell
// is retried before the allocator gives up and logs it.
const rollbackAttempts = 3

// Allocator books one concrete seat across every segment of an
// itinerary.  Each cell is flipped with a conditional write; a seat that
// loses a race on any segment has the segments already flipped released
// again before the next candidate is tried.
type Allocator struct {
	routes    RouteStore
	inventory InventoryStore
	clock     clockwork.Clock
}

// NewAllocator returns an Allocator.  A nil clock means the real clock.
func NewAllocator(routes RouteStore, inventory InventoryStore, clock clockwork.Clock) *Allocator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Allocator{routes: routes, inventory: inventory, clock: clock}
}

// Allocate picks the first seat of seatClass, in ascending car and seat
// order, that is available on all segments, and books it for holder.
// It returns ErrSoldOut when no candidate could be booked.
func (a *Allocator) Allocate(ctx context.Context, trainNo, date, seatClass string, segments []model.Segment, holder string) (model.SeatRef, error) {
	if len(segments) == 0 {
		return model.SeatRef{}, fmt.Errorf("%w: no segments", ErrInvalidItinerary)
	}
	cells, err := a.inventory.ListCells(ctx, trainNo, date, seatClass, segments)
	if err != nil {
		return model.SeatRef{}, fmt.Errorf("list cells: %w", err)
	}
	lost := 0
	for _, seat := range freeSeats(cells, segments) {
		err := a.book(ctx, cellKeys(trainNo, date, seatClass, seat, segments), holder)
		if err == nil {
			return seat, nil
		}
		if errors.Is(err, ErrConcurrencyConflict) {
			lost++
			continue
		}
		return model.SeatRef{}, err
	}
	if lost > 0 {
		return model.SeatRef{}, fmt.Errorf("%w: %s %s (%d candidates lost to concurrent bookings)", ErrSoldOut, trainNo, seatClass, lost)
	}
	return model.SeatRef{}, fmt.Errorf("%w: %s %s", ErrSoldOut, trainNo, seatClass)
}

// book flips every key from available to booked.  If one of them is no
// longer available, the keys already flipped are released and
// ErrConcurrencyConflict is returned.  A store error also releases the
// failing key, since the error does not prove the write missed.
func (a *Allocator) book(ctx context.Context, keys []model.CellKey, holder string) error {
	at := a.clock.Now().UTC()
	for i, key := range keys {
		ok, err := a.inventory.MarkBooked(ctx, key, holder, at)
		if err == nil && ok {
			continue
		}
		if err != nil {
			// The write may have landed before the error; MarkAvailable
			// only frees cells held by holder, so key i is safe to include.
			a.compensate(ctx, keys[:i+1], holder)
			return fmt.Errorf("book %s %s: %w", key.Seat, key.From+"->"+key.To, err)
		}
		a.compensate(ctx, keys[:i], holder)
		return ErrConcurrencyConflict
	}
	return nil
}

// compensate releases cells booked by holder during a failed attempt.
// It runs detached from ctx cancellation: a cancelled request must not
// leave a segment booked with no owning order line.
func (a *Allocator) compensate(ctx context.Context, keys []model.CellKey, holder string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		var err error
		for attempt := 0; attempt < rollbackAttempts; attempt++ {
			if _, err = a.inventory.MarkAvailable(ctx, key, holder); err == nil {
				break
			}
		}
		if err != nil {
			log.Printf("booking: rollback of %s %s for %s failed: %v", key.Seat, key.From+"->"+key.To, holder, err)
		}
	}
}

// Release frees every cell held by the order's allocated lines.  Cells
// held by someone else, or already free, are left alone, so releasing
// twice is the same as releasing once.  It returns the number of cells
// freed; failures on individual cells are joined into the error after
// every other cell was attempted.
func (a *Allocator) Release(ctx context.Context, o *model.Order) (int, error) {
	var (
		freed int
		errs  []error
	)
	segs := map[[2]string][]model.Segment{}
	for _, l := range o.Lines {
		if l.Seat == nil {
			continue
		}
		span := [2]string{l.From, l.To}
		segments, ok := segs[span]
		if !ok {
			it, err := resolve(ctx, a.routes, o.TrainNo, l.From, l.To)
			if err != nil {
				errs = append(errs, fmt.Errorf("line %d: %w", l.Seq, err))
				continue
			}
			segments = it.Segments
			segs[span] = segments
		}
		for _, key := range cellKeys(o.TrainNo, o.Date, l.SeatClass, *l.Seat, segments) {
			ok, err := a.inventory.MarkAvailable(ctx, key, o.ID)
			if err != nil {
				errs = append(errs, fmt.Errorf("release %s %s: %w", key.Seat, key.From+"->"+key.To, err))
				continue
			}
			if ok {
				freed++
			}
		}
	}
	return freed, errors.Join(errs...)
}

func cellKeys(trainNo, date, seatClass string, seat model.SeatRef, segments []model.Segment) []model.CellKey {
	keys := make([]model.CellKey, len(segments))
	for i, s := range segments {
		keys[i] = model.CellKey{
			TrainNo:   trainNo,
			Date:      date,
			SeatClass: seatClass,
			Seat:      seat,
			From:      s.From,
			To:        s.To,
		}
	}
	return keys
}
