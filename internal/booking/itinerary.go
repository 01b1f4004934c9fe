package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/rail-seat-booking/internal/model"
	"github.com/iliyamo/rail-seat-booking/internal/repository"
)

// DateLayout is the format of service dates.
const DateLayout = "2006-01-02"

// Itinerary is a rider's requested span on one train, decomposed into
// the adjacent segments it covers.
type Itinerary struct {
	TrainNo     string
	Origin      string
	Destination string
	Segments    []model.Segment
}

// ResolveItinerary finds origin and destination among the stops and
// returns the ordered segments between them.  Stops must be sorted by
// sequence.  Both stations must be stops and origin must come first.
func ResolveItinerary(stops []model.Stop, origin, destination string) (Itinerary, error) {
	from, to := -1, -1
	for i, s := range stops {
		switch s.Station {
		case origin:
			from = i
		case destination:
			to = i
		}
	}
	if from < 0 || to < 0 {
		return Itinerary{}, fmt.Errorf("%w: %q or %q is not a stop", ErrInvalidItinerary, origin, destination)
	}
	if from >= to {
		return Itinerary{}, fmt.Errorf("%w: %q is not before %q", ErrInvalidItinerary, origin, destination)
	}
	it := Itinerary{
		TrainNo:     stops[from].TrainNo,
		Origin:      origin,
		Destination: destination,
		Segments:    make([]model.Segment, 0, to-from),
	}
	for i := from; i < to; i++ {
		it.Segments = append(it.Segments, model.Segment{
			FromSeq: stops[i].Seq,
			ToSeq:   stops[i+1].Seq,
			From:    stops[i].Station,
			To:      stops[i+1].Station,
		})
	}
	return it, nil
}

// resolve loads the route of trainNo and resolves the itinerary on it.
// An unknown train is an invalid itinerary.
func resolve(ctx context.Context, routes RouteStore, trainNo, origin, destination string) (Itinerary, error) {
	stops, err := routes.ListStops(ctx, trainNo)
	if errors.Is(err, repository.ErrNotFound) {
		return Itinerary{}, fmt.Errorf("%w: unknown train %q", ErrInvalidItinerary, trainNo)
	}
	if err != nil {
		return Itinerary{}, fmt.Errorf("load route %s: %w", trainNo, err)
	}
	return ResolveItinerary(stops, origin, destination)
}

// checkDate validates a YYYY-MM-DD service date.
func checkDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("%w: bad date %q", ErrValidation, date)
	}
	return nil
}
