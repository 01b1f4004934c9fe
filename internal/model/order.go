package model

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderConfirmedUnpaid OrderStatus = "confirmed_unpaid"
	OrderPaid            OrderStatus = "paid"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
)

// transitions lists every allowed status change.  Anything not listed
// is rejected; paid, cancelled and expired have no outgoing edges.
var transitions = map[OrderStatus][]OrderStatus{
	OrderPending:         {OrderConfirmedUnpaid, OrderExpired},
	OrderConfirmedUnpaid: {OrderPaid, OrderCancelled, OrderExpired},
}

// CanTransition reports whether an order may move from one status to
// another.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool { return len(transitions[s]) == 0 }

// Order is a rider's purchase of seats on one train between two stops of
// its route on a given date.  It owns one OrderLine per passenger.
//
// Fields:
//  ID              – order id (uuid).
//  RiderID         – account that placed the order.
//  TrainNo         – train number.
//  Date            – service date, YYYY-MM-DD.
//  Origin          – departure station.
//  Destination     – arrival station.
//  TotalCents      – sum of line prices in cents.
//  Status          – lifecycle state.
//  CreatedAt       – creation time; drives the pending budget.
//  UpdatedAt       – last status change.
//  PaymentDeadline – set on confirmation; payment must happen before it.
//  Lines           – passengers in sequence order.
type Order struct {
	ID              string      // orders.id
	RiderID         string      // orders.rider_id
	TrainNo         string      // orders.train_no
	Date            string      // orders.service_date
	Origin          string      // orders.origin
	Destination     string      // orders.destination
	TotalCents      int64       // orders.total_cents
	Status          OrderStatus // orders.status
	CreatedAt       time.Time   // orders.created_at
	UpdatedAt       time.Time   // orders.updated_at
	PaymentDeadline *time.Time  // orders.payment_deadline (nullable)
	Lines           []OrderLine
}

// OrderLine is one passenger of an order.  Seat is nil until the order
// is confirmed; afterwards it names the seat booked on every segment
// between From and To.
type OrderLine struct {
	OrderID       string   // order_lines.order_id
	Seq           int      // order_lines.seq
	PassengerID   string   // order_lines.passenger_id
	PassengerName string   // order_lines.passenger_name
	SeatClass     string   // order_lines.seat_class
	TicketType    string   // order_lines.ticket_type
	PriceCents    int64    // order_lines.price_cents
	Seat          *SeatRef // order_lines.car_no / seat_no (nullable)
	From          string   // order_lines.from_station
	To            string   // order_lines.to_station
}

// Clone returns a deep copy of the order, lines included.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.PaymentDeadline != nil {
		d := *o.PaymentDeadline
		cp.PaymentDeadline = &d
	}
	cp.Lines = make([]OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		if l.Seat != nil {
			s := *l.Seat
			l.Seat = &s
		}
		cp.Lines[i] = l
	}
	return &cp
}
