package booking

import (
	"context"
	"fmt"
	"sort"

	"github.com/iliyamo/rail-seat-booking/internal/model"
)

// Calculator answers how many seats of each class are free for a whole
// origin-destination interval.  It is read-only and takes no locks, so
// a count may be momentarily stale; the allocator re-checks every cell
// when it books.
type Calculator struct {
	routes    RouteStore
	inventory InventoryStore
}

// NewCalculator returns a Calculator over the given stores.
func NewCalculator(routes RouteStore, inventory InventoryStore) *Calculator {
	return &Calculator{routes: routes, inventory: inventory}
}

// Availability maps each seat class sold on the train/date to the number
// of seats free on every segment between origin and destination.  For an
// invalid itinerary it returns an empty map together with an error
// wrapping ErrInvalidItinerary, leaving the caller to decide whether that
// is a user error or simply no result.
func (c *Calculator) Availability(ctx context.Context, trainNo, date, origin, destination string) (map[string]int, error) {
	out := map[string]int{}
	if err := checkDate(date); err != nil {
		return out, err
	}
	it, err := resolve(ctx, c.routes, trainNo, origin, destination)
	if err != nil {
		return out, err
	}
	classes, err := c.inventory.SeatClasses(ctx, trainNo, date)
	if err != nil {
		return out, fmt.Errorf("list seat classes: %w", err)
	}
	for _, class := range classes {
		cells, err := c.inventory.ListCells(ctx, trainNo, date, class, it.Segments)
		if err != nil {
			return map[string]int{}, fmt.Errorf("list cells %s: %w", class, err)
		}
		out[class] = len(freeSeats(cells, it.Segments))
	}
	return out, nil
}

// freeSeats returns the seats whose cells are available on every one of
// the segments, in allocation order.  Cells outside the segments are
// ignored, and a seat missing a cell for some segment does not qualify.
func freeSeats(cells []model.SeatCell, segments []model.Segment) []model.SeatRef {
	want := make(map[[2]string]struct{}, len(segments))
	for _, s := range segments {
		want[[2]string{s.From, s.To}] = struct{}{}
	}
	free := make(map[model.SeatRef]int)
	for _, c := range cells {
		if c.Status != model.SeatAvailable {
			continue
		}
		if _, ok := want[[2]string{c.Key.From, c.Key.To}]; !ok {
			continue
		}
		free[c.Key.Seat]++
	}
	seats := make([]model.SeatRef, 0, len(free))
	for seat, n := range free {
		if n == len(want) {
			seats = append(seats, seat)
		}
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i].Less(seats[j]) })
	return seats
}
