package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/rail-seat-booking/internal/model"
	"github.com/iliyamo/rail-seat-booking/internal/repository"
)

// StopDef is one stop of a train being published.
type StopDef struct {
	Seq     int    `json:"seq" validate:"gte=0"`
	Station string `json:"station" validate:"required,max=64"`
}

// FareDef is the price of a seat class on one adjacent segment.
type FareDef struct {
	From       string `json:"from" validate:"required"`
	To         string `json:"to" validate:"required"`
	SeatClass  string `json:"seat_class" validate:"required,max=32"`
	PriceCents int64  `json:"price_cents" validate:"gt=0"`
}

// TrainDefinition is a train route with its fare table.
type TrainDefinition struct {
	TrainNo string    `json:"train_no" validate:"required,max=16"`
	Stops   []StopDef `json:"stops" validate:"min=2,dive"`
	Fares   []FareDef `json:"fares" validate:"min=1,dive"`
}

// OpenSalesRequest creates the seat inventory of a train for one date.
type OpenSalesRequest struct {
	TrainNo string      `json:"-" validate:"required"`
	Date    string      `json:"date" validate:"required,datetime=2006-01-02"`
	Cars    []model.Car `json:"cars" validate:"min=1,dive"`
}

// Catalog publishes routes and opens sales.
type Catalog struct {
	stores   Stores
	validate *validator.Validate
}

// NewCatalog returns a Catalog over the given stores.
func NewCatalog(stores Stores) *Catalog {
	return &Catalog{stores: stores, validate: validator.New()}
}

// PublishTrain stores the route and fares of a new train.  Stop
// sequences must be strictly increasing and stations unique, and every
// seat class needs a fare on every adjacent segment.  Routes are
// immutable: publishing a known train wraps repository.ErrConflict.
// The one exception is a train whose stops were stored but whose fares
// were not; repeating the same definition completes it.
func (c *Catalog) PublishTrain(ctx context.Context, def TrainDefinition) error {
	if err := c.validate.Struct(def); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	stops := make([]model.Stop, len(def.Stops))
	seen := map[string]bool{}
	for i, s := range def.Stops {
		if i > 0 && s.Seq <= def.Stops[i-1].Seq {
			return fmt.Errorf("%w: stop %q sequence %d not after %d", ErrValidation, s.Station, s.Seq, def.Stops[i-1].Seq)
		}
		if seen[s.Station] {
			return fmt.Errorf("%w: station %q listed twice", ErrValidation, s.Station)
		}
		seen[s.Station] = true
		stops[i] = model.Stop{TrainNo: def.TrainNo, Seq: s.Seq, Station: s.Station}
	}

	segments := map[[2]string]bool{}
	for i := 0; i+1 < len(stops); i++ {
		segments[[2]string{stops[i].Station, stops[i+1].Station}] = true
	}
	type fareKey struct{ from, to, class string }
	priced := map[fareKey]bool{}
	classes := map[string]bool{}
	fares := make([]model.SegmentFare, 0, len(def.Fares))
	for _, f := range def.Fares {
		if !segments[[2]string{f.From, f.To}] {
			return fmt.Errorf("%w: %s->%s is not an adjacent segment", ErrValidation, f.From, f.To)
		}
		k := fareKey{f.From, f.To, f.SeatClass}
		if priced[k] {
			return fmt.Errorf("%w: duplicate %s fare on %s->%s", ErrValidation, f.SeatClass, f.From, f.To)
		}
		priced[k] = true
		classes[f.SeatClass] = true
		fares = append(fares, model.SegmentFare{
			TrainNo: def.TrainNo, From: f.From, To: f.To, SeatClass: f.SeatClass, PriceCents: f.PriceCents,
		})
	}
	for class := range classes {
		for seg := range segments {
			if !priced[fareKey{seg[0], seg[1], class}] {
				return fmt.Errorf("%w: %s has no fare on %s->%s", ErrValidation, class, seg[0], seg[1])
			}
		}
	}

	err := c.stores.Routes.PublishRoute(ctx, stops)
	if errors.Is(err, repository.ErrConflict) {
		err = c.resumePublish(ctx, stops, fares)
	}
	if err != nil {
		return fmt.Errorf("publish route %s: %w", def.TrainNo, err)
	}
	if err := c.stores.Fares.SaveFares(ctx, fares); err != nil {
		return fmt.Errorf("save fares %s: %w", def.TrainNo, err)
	}
	return nil
}

// resumePublish decides whether a route that already exists belongs to
// an earlier publish that stopped before saving fares.  It returns nil
// when the stored stops equal stops and the train has no fares yet.
func (c *Catalog) resumePublish(ctx context.Context, stops []model.Stop, fares []model.SegmentFare) error {
	stored, err := c.stores.Routes.ListStops(ctx, stops[0].TrainNo)
	if err != nil {
		return err
	}
	if len(stored) != len(stops) {
		return repository.ErrConflict
	}
	for i := range stops {
		if stored[i] != stops[i] {
			return repository.ErrConflict
		}
	}
	f := fares[0]
	_, err = c.stores.Fares.FareForSegment(ctx, f.TrainNo, f.From, f.To, f.SeatClass)
	switch {
	case err == nil:
		return repository.ErrConflict
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return err
	}
}

// OpenSales creates one available cell per seat per segment of the
// train for the date.  It fails with repository.ErrConflict when sales
// are already open for that date.
func (c *Catalog) OpenSales(ctx context.Context, req OpenSalesRequest) (int, error) {
	if err := c.validate.Struct(req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	stops, err := c.stores.Routes.ListStops(ctx, req.TrainNo)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("%w: unknown train %q", ErrValidation, req.TrainNo)
	}
	if err != nil {
		return 0, fmt.Errorf("load route %s: %w", req.TrainNo, err)
	}
	it, err := ResolveItinerary(stops, stops[0].Station, stops[len(stops)-1].Station)
	if err != nil {
		return 0, err
	}

	cars := map[int]bool{}
	checked := map[string]bool{}
	var cells []model.SeatCell
	for _, car := range req.Cars {
		if cars[car.CarNo] {
			return 0, fmt.Errorf("%w: car %d listed twice", ErrValidation, car.CarNo)
		}
		cars[car.CarNo] = true
		if !checked[car.SeatClass] {
			for _, s := range it.Segments {
				_, err := c.stores.Fares.FareForSegment(ctx, req.TrainNo, s.From, s.To, car.SeatClass)
				if errors.Is(err, repository.ErrNotFound) {
					return 0, fmt.Errorf("%w: class %s has no fare on %s", ErrValidation, car.SeatClass, s)
				}
				if err != nil {
					return 0, fmt.Errorf("fare lookup: %w", err)
				}
			}
			checked[car.SeatClass] = true
		}
		seats := map[string]bool{}
		for _, no := range car.Seats {
			if seats[no] {
				return 0, fmt.Errorf("%w: seat %s listed twice in car %d", ErrValidation, no, car.CarNo)
			}
			seats[no] = true
			ref := model.SeatRef{CarNo: car.CarNo, SeatNo: no}
			for _, key := range cellKeys(req.TrainNo, req.Date, car.SeatClass, ref, it.Segments) {
				cells = append(cells, model.SeatCell{Key: key, Status: model.SeatAvailable})
			}
		}
	}

	open, err := c.stores.Inventory.HasCells(ctx, req.TrainNo, req.Date)
	if err != nil {
		return 0, fmt.Errorf("check inventory: %w", err)
	}
	if open {
		return 0, fmt.Errorf("sales for %s on %s: %w", req.TrainNo, req.Date, repository.ErrConflict)
	}
	if err := c.stores.Inventory.InsertCells(ctx, cells); err != nil {
		return 0, fmt.Errorf("insert seat cells: %w", err)
	}
	return len(cells), nil
}
