package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/iliyamo/rail-seat-booking/internal/model"
	"github.com/iliyamo/rail-seat-booking/internal/queue"
	"github.com/iliyamo/rail-seat-booking/internal/repository"
)

// Policy holds the time budgets and limits of the order lifecycle.
type Policy struct {
	// PaymentWindow is how long a confirmed order may stay unpaid.
	PaymentWindow time.Duration
	// PendingWindow is how long an order may stay pending before it
	// can no longer be confirmed and the sweeper reclaims it.
	PendingWindow time.Duration
	// DailyCancelLimit caps cancellations per rider per calendar day.
	DailyCancelLimit int
	// Location defines calendar days for the cancellation cap and for
	// daily maintenance.  Nil means UTC.
	Location *time.Location
}

// DefaultPolicy returns a 20 minute payment window, a 10 minute pending
// window and three cancellations a day.
func DefaultPolicy() Policy {
	return Policy{
		PaymentWindow:    20 * time.Minute,
		PendingWindow:    10 * time.Minute,
		DailyCancelLimit: 3,
		Location:         time.UTC,
	}
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Passenger is one traveller of a new order.
type Passenger struct {
	ID         string `json:"passenger_id" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=128"`
	SeatClass  string `json:"seat_class" validate:"required,max=32"`
	TicketType string `json:"ticket_type" validate:"omitempty,oneof=adult child student"`
}

// CreateOrderRequest describes a new order.  RiderID comes from the
// authenticated caller, never from the request body.
type CreateOrderRequest struct {
	RiderID     string      `json:"-" validate:"required"`
	TrainNo     string      `json:"train_no" validate:"required,max=16"`
	Date        string      `json:"date" validate:"required,datetime=2006-01-02"`
	Origin      string      `json:"from" validate:"required"`
	Destination string      `json:"to" validate:"required,nefield=Origin"`
	Passengers  []Passenger `json:"passengers" validate:"min=1,dive"`
}

// AllocatedSeat is the seat assigned to one passenger.
type AllocatedSeat struct {
	PassengerID string        `json:"passenger_id"`
	SeatClass   string        `json:"seat_class"`
	Seat        model.SeatRef `json:"seat"`
}

// Confirmation is the result of a successful confirm.
type Confirmation struct {
	OrderID         string          `json:"order_id"`
	PaymentDeadline time.Time       `json:"payment_deadline"`
	Seats           []AllocatedSeat `json:"seats"`
}

// Receipt is returned when an order is paid.
type Receipt struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	TotalCents  int64           `json:"total_cents"`
	PaidAt      time.Time       `json:"paid_at"`
	Seats       []AllocatedSeat `json:"seats"`
}

// OrderDetails is an order as seen by its rider.
type OrderDetails struct {
	Order *model.Order
	// RemainingPayment is the time left before the payment deadline; zero
	// when the order is not awaiting payment or the deadline passed.
	RemainingPayment time.Duration
}

// Manager owns the order state machine: create, confirm, pay, cancel,
// and the reclaiming of orders whose time budget ran out.
type Manager struct {
	stores   Stores
	calc     *Calculator
	alloc    *Allocator
	events   EventPublisher
	clock    clockwork.Clock
	policy   Policy
	validate *validator.Validate
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for every deadline decision.
func WithClock(c clockwork.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option { return func(m *Manager) { m.policy = p } }

// WithPublisher sets where order events go.  By default they are dropped.
func WithPublisher(p EventPublisher) Option { return func(m *Manager) { m.events = p } }

// NewManager builds a Manager over the given stores.
func NewManager(stores Stores, opts ...Option) *Manager {
	m := &Manager{
		stores:   stores,
		events:   nopPublisher{},
		clock:    clockwork.NewRealClock(),
		policy:   DefaultPolicy(),
		validate: validator.New(),
	}
	for _, o := range opts {
		o(m)
	}
	m.calc = NewCalculator(stores.Routes, stores.Inventory)
	m.alloc = NewAllocator(stores.Routes, stores.Inventory, m.clock)
	return m
}

// Policy returns the lifecycle policy in effect.
func (m *Manager) Policy() Policy { return m.policy }

// Availability wraps Calculator.Availability.
func (m *Manager) Availability(ctx context.Context, trainNo, date, origin, destination string) (map[string]int, error) {
	return m.calc.Availability(ctx, trainNo, date, origin, destination)
}

// CreateOrder validates the request, prices every passenger and stores a
// pending order.  No seat is touched.  The order is refused when the
// rider still has an unpaid confirmed order, and with ErrSoldOut when a
// class cannot cover its passengers for the whole interval right now.
func (m *Manager) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := m.clock.Now().UTC()

	restricted, err := m.stores.Orders.HasUnexpiredUnpaid(ctx, req.RiderID, now)
	if err != nil {
		return nil, fmt.Errorf("check unpaid orders: %w", err)
	}
	if restricted {
		return nil, ErrPurchaseRestricted
	}

	it, err := resolve(ctx, m.stores.Routes, req.TrainNo, req.Origin, req.Destination)
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		ID:          uuid.NewString(),
		RiderID:     req.RiderID,
		TrainNo:     req.TrainNo,
		Date:        req.Date,
		Origin:      req.Origin,
		Destination: req.Destination,
		Status:      model.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	demand := map[string]int{}
	fares := map[string]int64{}
	for i, p := range req.Passengers {
		price, ok := fares[p.SeatClass]
		if !ok {
			if price, err = m.intervalFare(ctx, it, p.SeatClass); err != nil {
				return nil, err
			}
			fares[p.SeatClass] = price
		}
		ticket := p.TicketType
		if ticket == "" {
			ticket = "adult"
		}
		o.Lines = append(o.Lines, model.OrderLine{
			OrderID:       o.ID,
			Seq:           i + 1,
			PassengerID:   p.ID,
			PassengerName: p.Name,
			SeatClass:     p.SeatClass,
			TicketType:    ticket,
			PriceCents:    price,
			From:          it.Origin,
			To:            it.Destination,
		})
		o.TotalCents += price
		demand[p.SeatClass]++
	}

	for class, n := range demand {
		cells, err := m.stores.Inventory.ListCells(ctx, req.TrainNo, req.Date, class, it.Segments)
		if err != nil {
			return nil, fmt.Errorf("availability pre-check: %w", err)
		}
		if free := len(freeSeats(cells, it.Segments)); free < n {
			return nil, fmt.Errorf("%w: %s has %d free, %d requested", ErrSoldOut, class, free, n)
		}
	}

	if err := m.stores.Orders.InsertOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

// intervalFare sums the per-segment fares of seatClass over the
// itinerary.  A segment without a fare makes the class unsellable.
func (m *Manager) intervalFare(ctx context.Context, it Itinerary, seatClass string) (int64, error) {
	var total int64
	for _, s := range it.Segments {
		p, err := m.stores.Fares.FareForSegment(ctx, it.TrainNo, s.From, s.To, seatClass)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%w: no %s fare on %s", ErrValidation, seatClass, s)
		}
		if err != nil {
			return 0, fmt.Errorf("fare %s %s: %w", seatClass, s, err)
		}
		total += p
	}
	return total, nil
}

// ConfirmOrder allocates a seat to every passenger in line order and
// moves the order to confirmed_unpaid with a payment deadline.  If any
// passenger cannot be seated the seats already taken are released and
// the order stays pending.
func (m *Manager) ConfirmOrder(ctx context.Context, orderID, riderID string) (*Confirmation, error) {
	o, err := m.load(ctx, orderID, riderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case model.OrderPending:
	case model.OrderExpired:
		return nil, ErrExpired
	default:
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}
	now := m.clock.Now().UTC()
	if !now.Before(o.CreatedAt.Add(m.policy.PendingWindow)) {
		return nil, fmt.Errorf("%w: pending since %s", ErrExpired, o.CreatedAt.Format(time.RFC3339))
	}
	if err := m.checkCancelCap(ctx, riderID, now); err != nil {
		return nil, err
	}
	restricted, err := m.stores.Orders.HasUnexpiredUnpaid(ctx, riderID, now)
	if err != nil {
		return nil, fmt.Errorf("check unpaid orders: %w", err)
	}
	if restricted {
		return nil, ErrPurchaseRestricted
	}
	it, err := resolve(ctx, m.stores.Routes, o.TrainNo, o.Origin, o.Destination)
	if err != nil {
		return nil, err
	}

	held := o.Clone()
	for i := range held.Lines {
		l := &held.Lines[i]
		seat, err := m.alloc.Allocate(ctx, o.TrainNo, o.Date, l.SeatClass, it.Segments, o.ID)
		if err != nil {
			m.undoAllocation(ctx, held)
			return nil, fmt.Errorf("passenger %d: %w", l.Seq, err)
		}
		l.Seat = &seat
	}

	confirmedAt := m.clock.Now().UTC()
	deadline := confirmedAt.Add(m.policy.PaymentWindow)
	if err := m.stores.Orders.ConfirmOrder(ctx, o.ID, held.Lines, deadline, confirmedAt); err != nil {
		m.undoAllocation(ctx, held)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExpired
		}
		if errors.Is(err, repository.ErrStaleState) {
			return nil, m.staleError(ctx, o.ID, confirmedAt)
		}
		if errors.Is(err, repository.ErrUnpaidOrderExists) {
			return nil, ErrPurchaseRestricted
		}
		return nil, fmt.Errorf("confirm order: %w", err)
	}
	held.Status = model.OrderConfirmedUnpaid
	held.PaymentDeadline = &deadline
	m.publish(ctx, queue.EventOrderConfirmed, held, confirmedAt)

	return &Confirmation{OrderID: o.ID, PaymentDeadline: deadline, Seats: allocated(held)}, nil
}

// undoAllocation releases seats taken during a failed confirm.  Seats
// carry the order id as holder, so nothing booked by others is touched.
func (m *Manager) undoAllocation(ctx context.Context, o *model.Order) {
	if _, err := m.alloc.Release(context.WithoutCancel(ctx), o); err != nil {
		log.Printf("booking: release after failed confirm of %s: %v", o.ID, err)
	}
}

// PayOrder marks a confirmed order paid.  It succeeds only strictly
// before the payment deadline; at or after it the result is ErrExpired
// whether or not the sweeper has run yet.
func (m *Manager) PayOrder(ctx context.Context, orderID, riderID string) (*Receipt, error) {
	o, err := m.load(ctx, orderID, riderID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now().UTC()
	if err := m.awaitingPayment(o, now); err != nil {
		return nil, err
	}
	if err := m.stores.Orders.MarkPaid(ctx, o.ID, now); err != nil {
		if errors.Is(err, repository.ErrStaleState) || errors.Is(err, repository.ErrNotFound) {
			return nil, m.staleError(ctx, o.ID, now)
		}
		return nil, fmt.Errorf("mark paid: %w", err)
	}
	o.Status = model.OrderPaid
	m.publish(ctx, queue.EventOrderPaid, o, now)
	return &Receipt{
		OrderID:     o.ID,
		OrderNumber: OrderNumber(o.ID),
		TotalCents:  o.TotalCents,
		PaidAt:      now,
		Seats:       allocated(o),
	}, nil
}

// CancelOrder cancels a confirmed, unpaid order, frees its seats and
// discards it.  Riders at the daily cap get ErrCancellationLimit and the
// order is left exactly as it was.
func (m *Manager) CancelOrder(ctx context.Context, orderID, riderID string) error {
	o, err := m.load(ctx, orderID, riderID)
	if err != nil {
		return err
	}
	now := m.clock.Now().UTC()
	if err := m.awaitingPayment(o, now); err != nil {
		return err
	}
	day := now.In(m.policy.location()).Format(DateLayout)
	ok, err := m.stores.Cancellations.ReserveCancellation(ctx, riderID, day, m.policy.DailyCancelLimit, now)
	if err != nil {
		return fmt.Errorf("reserve cancellation: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d of %d used today", ErrCancellationLimit, m.policy.DailyCancelLimit, m.policy.DailyCancelLimit)
	}
	if err := m.stores.Orders.TransitionOrder(ctx, o.ID, model.OrderConfirmedUnpaid, model.OrderCancelled, now); err != nil {
		if rerr := m.stores.Cancellations.ReleaseCancellation(context.WithoutCancel(ctx), riderID, day); rerr != nil {
			log.Printf("booking: give back cancellation slot of %s: %v", riderID, rerr)
		}
		if errors.Is(err, repository.ErrStaleState) || errors.Is(err, repository.ErrNotFound) {
			return m.staleError(ctx, o.ID, now)
		}
		return fmt.Errorf("cancel order: %w", err)
	}
	o.Status = model.OrderCancelled

	if err := m.discard(ctx, o); err != nil {
		// The order stays cancelled; the sweeper retries the release.
		log.Printf("booking: %v", err)
	}
	m.publish(ctx, queue.EventOrderCancelled, o, now)
	return nil
}

// ReleaseOrderSeats frees the seats of a cancelled or expired order and
// deletes it.  A missing order is a no-op.  Live and paid orders are
// refused with ErrInvalidState.
func (m *Manager) ReleaseOrderSeats(ctx context.Context, orderID string) error {
	o, err := m.stores.Orders.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o.Status != model.OrderCancelled && o.Status != model.OrderExpired {
		return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}
	return m.discard(ctx, o)
}

// discard releases the order's seats and deletes it.  The order is kept
// when any release fails so that a later sweep can retry.
func (m *Manager) discard(ctx context.Context, o *model.Order) error {
	if _, err := m.alloc.Release(ctx, o); err != nil {
		return fmt.Errorf("release seats of %s: %w", o.ID, err)
	}
	if err := m.stores.Orders.DeleteOrder(ctx, o.ID); err != nil {
		return fmt.Errorf("delete order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder returns the rider's order and the payment time left.
func (m *Manager) GetOrder(ctx context.Context, orderID, riderID string) (*OrderDetails, error) {
	o, err := m.load(ctx, orderID, riderID)
	if err != nil {
		return nil, err
	}
	d := &OrderDetails{Order: o}
	if o.Status == model.OrderConfirmedUnpaid && o.PaymentDeadline != nil {
		if left := o.PaymentDeadline.Sub(m.clock.Now()); left > 0 {
			d.RemainingPayment = left
		}
	}
	return d, nil
}

// awaitingPayment checks the order is confirmed_unpaid with its deadline
// still ahead of now.
func (m *Manager) awaitingPayment(o *model.Order, now time.Time) error {
	switch o.Status {
	case model.OrderConfirmedUnpaid:
	case model.OrderExpired:
		return ErrExpired
	default:
		return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}
	if o.PaymentDeadline == nil || !now.Before(*o.PaymentDeadline) {
		return fmt.Errorf("%w: payment deadline passed", ErrExpired)
	}
	return nil
}

// staleError explains a conditional write that lost to a concurrent
// change by re-reading the order.
func (m *Manager) staleError(ctx context.Context, orderID string, now time.Time) error {
	o, err := m.stores.Orders.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrExpired
	}
	if err != nil {
		return fmt.Errorf("reload order: %w", err)
	}
	if o.Status == model.OrderExpired {
		return ErrExpired
	}
	if o.Status == model.OrderConfirmedUnpaid && o.PaymentDeadline != nil && !now.Before(*o.PaymentDeadline) {
		return ErrExpired
	}
	return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
}

func (m *Manager) checkCancelCap(ctx context.Context, riderID string, now time.Time) error {
	day := now.In(m.policy.location()).Format(DateLayout)
	n, err := m.stores.Cancellations.CountCancellations(ctx, riderID, day)
	if err != nil {
		return fmt.Errorf("count cancellations: %w", err)
	}
	if n >= m.policy.DailyCancelLimit {
		return fmt.Errorf("%w: %d of %d used today", ErrCancellationLimit, n, m.policy.DailyCancelLimit)
	}
	return nil
}

// load fetches an order owned by riderID.
func (m *Manager) load(ctx context.Context, orderID, riderID string) (*model.Order, error) {
	o, err := m.stores.Orders.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o.RiderID != riderID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (m *Manager) publish(ctx context.Context, typ string, o *model.Order, at time.Time) {
	ev := queue.OrderEvent{
		Type:        typ,
		OrderID:     o.ID,
		OrderNumber: OrderNumber(o.ID),
		RiderID:     o.RiderID,
		TrainNo:     o.TrainNo,
		Date:        o.Date,
		Origin:      o.Origin,
		Destination: o.Destination,
		TotalCents:  o.TotalCents,
		OccurredAt:  at.UTC().Format(time.RFC3339),
	}
	for _, s := range allocated(o) {
		ev.Seats = append(ev.Seats, s.Seat.String())
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		log.Printf("booking: publish %s for %s: %v", typ, o.ID, err)
	}
}

// OrderNumber is the rider-facing order number: "EA" followed by the
// first eight characters of the order id, upper-cased.
func OrderNumber(orderID string) string {
	id := strings.ReplaceAll(orderID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "EA" + strings.ToUpper(id)
}

func allocated(o *model.Order) []AllocatedSeat {
	var out []AllocatedSeat
	for _, l := range o.Lines {
		if l.Seat == nil {
			continue
		}
		out = append(out, AllocatedSeat{PassengerID: l.PassengerID, SeatClass: l.SeatClass, Seat: *l.Seat})
	}
	return out
}
