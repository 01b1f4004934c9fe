package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/rail-seat-booking/internal/model"
)

// MemoryStore keeps routes, fares, seat cells, orders and cancellation
// counters in process memory.  It honours the same conditional-write
// contract as the MySQL repositories: MarkBooked only flips available
// cells, MarkAvailable only frees cells held by the given holder, and
// order transitions fail with ErrStaleState when the expected status no
// longer matches.  It is safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	stops         map[string][]model.Stop
	fares         map[fareKey]int64
	cells         map[model.CellKey]*model.SeatCell
	orders        map[string]*model.Order
	cancellations map[cancelKey]int
}

type fareKey struct {
	trainNo, from, to, seatClass string
}

type cancelKey struct {
	riderID, day string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stops:         make(map[string][]model.Stop),
		fares:         make(map[fareKey]int64),
		cells:         make(map[model.CellKey]*model.SeatCell),
		orders:        make(map[string]*model.Order),
		cancellations: make(map[cancelKey]int),
	}
}

// ListStops returns the stops of a train ordered by sequence.
func (s *MemoryStore) ListStops(_ context.Context, trainNo string) ([]model.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stops, ok := s.stops[trainNo]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.Stop, len(stops))
	copy(out, stops)
	return out, nil
}

// PublishRoute stores the stops of a train.  A train can be published
// once; later attempts return ErrConflict.
func (s *MemoryStore) PublishRoute(_ context.Context, stops []model.Stop) error {
	if len(stops) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	trainNo := stops[0].TrainNo
	if _, ok := s.stops[trainNo]; ok {
		return ErrConflict
	}
	cp := make([]model.Stop, len(stops))
	copy(cp, stops)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Seq < cp[j].Seq })
	s.stops[trainNo] = cp
	return nil
}

// FareForSegment returns the fare of one seat class on one adjacent
// segment.
func (s *MemoryStore) FareForSegment(_ context.Context, trainNo, from, to, seatClass string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.fares[fareKey{trainNo, from, to, seatClass}]
	if !ok {
		return 0, ErrNotFound
	}
	return p, nil
}

// SaveFares inserts or replaces segment fares.
func (s *MemoryStore) SaveFares(_ context.Context, fares []model.SegmentFare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fares {
		s.fares[fareKey{f.TrainNo, f.From, f.To, f.SeatClass}] = f.PriceCents
	}
	return nil
}

// HasCells reports whether any seat cell exists for the train and date.
func (s *MemoryStore) HasCells(_ context.Context, trainNo, date string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.cells {
		if k.TrainNo == trainNo && k.Date == date {
			return true, nil
		}
	}
	return false, nil
}

// InsertCells stores new seat cells.  The batch is rejected with
// ErrConflict, leaving the store untouched, if any key already exists.
func (s *MemoryStore) InsertCells(_ context.Context, cells []model.SeatCell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cells {
		if _, ok := s.cells[c.Key]; ok {
			return ErrConflict
		}
	}
	for _, c := range cells {
		cp := c
		if cp.Status == "" {
			cp.Status = model.SeatAvailable
		}
		s.cells[c.Key] = &cp
	}
	return nil
}

// SeatClasses lists the distinct seat classes sold on a train/date.
func (s *MemoryStore) SeatClasses(_ context.Context, trainNo, date string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range s.cells {
		if k.TrainNo == trainNo && k.Date == date {
			seen[k.SeatClass] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// ListCells returns the cells of one seat class restricted to the given
// segments.
func (s *MemoryStore) ListCells(_ context.Context, trainNo, date, seatClass string, segments []model.Segment) ([]model.SeatCell, error) {
	want := make(map[[2]string]struct{}, len(segments))
	for _, seg := range segments {
		want[[2]string{seg.From, seg.To}] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SeatCell
	for k, c := range s.cells {
		if k.TrainNo != trainNo || k.Date != date || k.SeatClass != seatClass {
			continue
		}
		if _, ok := want[[2]string{k.From, k.To}]; !ok {
			continue
		}
		out = append(out, copyCell(c))
	}
	return out, nil
}

// MarkBooked flips a cell from available to booked for holder.  It
// reports false, without error, when the cell is not available.
func (s *MemoryStore) MarkBooked(_ context.Context, key model.CellKey, holder string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[key]
	if !ok || c.Status != model.SeatAvailable {
		return false, nil
	}
	t := at
	c.Status = model.SeatBooked
	c.Holder = holder
	c.HeldAt = &t
	return true, nil
}

// MarkAvailable frees a cell booked by holder.  It reports false when
// the cell is already available or belongs to another holder.
func (s *MemoryStore) MarkAvailable(_ context.Context, key model.CellKey, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[key]
	if !ok || c.Status != model.SeatBooked || c.Holder != holder {
		return false, nil
	}
	c.Status = model.SeatAvailable
	c.Holder = ""
	c.HeldAt = nil
	return true, nil
}

// PurgeCellsBefore deletes cells of service dates before date.
func (s *MemoryStore) PurgeCellsBefore(_ context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.cells {
		if k.Date < date {
			delete(s.cells, k)
			n++
		}
	}
	return n, nil
}

// InsertOrder stores a new order with its lines.
func (s *MemoryStore) InsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return ErrConflict
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

// GetOrder returns a copy of an order and its lines.
func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

// ConfirmOrder moves a pending order to confirmed_unpaid, storing the
// allocated lines and the payment deadline.  It refuses with
// ErrUnpaidOrderExists while the rider has another order awaiting
// payment at `at`.
func (s *MemoryStore) ConfirmOrder(_ context.Context, id string, lines []model.OrderLine, deadline, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != model.OrderPending {
		return ErrStaleState
	}
	for _, other := range s.orders {
		if other.ID != id && other.RiderID == o.RiderID && other.Status == model.OrderConfirmedUnpaid &&
			other.PaymentDeadline != nil && at.Before(*other.PaymentDeadline) {
			return ErrUnpaidOrderExists
		}
	}
	tmp := &model.Order{Lines: lines}
	o.Lines = tmp.Clone().Lines
	d := deadline
	o.PaymentDeadline = &d
	o.Status = model.OrderConfirmedUnpaid
	o.UpdatedAt = at
	return nil
}

// TransitionOrder changes an order's status from one value to another.
func (s *MemoryStore) TransitionOrder(_ context.Context, id string, from, to model.OrderStatus, at time.Time) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStaleState
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// MarkPaid moves a confirmed_unpaid order to paid if its payment
// deadline is still strictly after at.
func (s *MemoryStore) MarkPaid(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != model.OrderConfirmedUnpaid || o.PaymentDeadline == nil || !at.Before(*o.PaymentDeadline) {
		return ErrStaleState
	}
	o.Status = model.OrderPaid
	o.UpdatedAt = at
	return nil
}

// DeleteOrder removes an order and its lines.  Deleting a missing order
// is not an error.
func (s *MemoryStore) DeleteOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	return nil
}

// HasUnexpiredUnpaid reports whether the rider owns a confirmed_unpaid
// order whose payment deadline is after now.
func (s *MemoryStore) HasUnexpiredUnpaid(_ context.Context, riderID string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.RiderID == riderID && o.Status == model.OrderConfirmedUnpaid &&
			o.PaymentDeadline != nil && now.Before(*o.PaymentDeadline) {
			return true, nil
		}
	}
	return false, nil
}

// ListReclaimable returns orders the sweeper must destroy: pending
// orders created at or before pendingCutoff, confirmed_unpaid orders
// whose deadline is at or before now, and expired or cancelled orders
// left behind by an earlier failed release.  Results are ordered by
// creation time and capped at limit when limit > 0.
func (s *MemoryStore) ListReclaimable(_ context.Context, pendingCutoff, now time.Time, limit int) ([]model.Order, error) {
	s.mu.RLock()
	var out []model.Order
	for _, o := range s.orders {
		switch o.Status {
		case model.OrderPending:
			if o.CreatedAt.After(pendingCutoff) {
				continue
			}
		case model.OrderConfirmedUnpaid:
			if o.PaymentDeadline == nil || o.PaymentDeadline.After(now) {
				continue
			}
		case model.OrderExpired, model.OrderCancelled:
		default:
			continue
		}
		out = append(out, *o.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountCancellations returns how many orders the rider cancelled on day.
func (s *MemoryStore) CountCancellations(_ context.Context, riderID, day string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancellations[cancelKey{riderID, day}], nil
}

// RecordCancellation increments the rider's cancellation counter for day.
func (s *MemoryStore) RecordCancellation(_ context.Context, riderID, day string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancellations[cancelKey{riderID, day}]++
	return nil
}

// ReserveCancellation increments the counter for day only while it is
// below limit, reporting whether a slot was taken.
func (s *MemoryStore) ReserveCancellation(_ context.Context, riderID, day string, limit int, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := cancelKey{riderID, day}
	if s.cancellations[k] >= limit {
		return false, nil
	}
	s.cancellations[k]++
	return true, nil
}

// ReleaseCancellation gives back a slot taken by ReserveCancellation.
func (s *MemoryStore) ReleaseCancellation(_ context.Context, riderID, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := cancelKey{riderID, day}
	if s.cancellations[k] > 0 {
		s.cancellations[k]--
	}
	return nil
}

// PurgeCancellationsBefore drops counters of days before day.
func (s *MemoryStore) PurgeCancellationsBefore(_ context.Context, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.cancellations {
		if k.day < day {
			delete(s.cancellations, k)
			n++
		}
	}
	return n, nil
}

func copyCell(c *model.SeatCell) model.SeatCell {
	cp := *c
	if c.HeldAt != nil {
		t := *c.HeldAt
		cp.HeldAt = &t
	}
	return cp
}
