package model

import "time"

// SeatStatus is the occupancy state of one seat on one segment.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatBooked    SeatStatus = "booked"
)

// CellKey addresses a single SeatCell.
type CellKey struct {
	TrainNo   string
	Date      string // service date, YYYY-MM-DD
	SeatClass string
	Seat      SeatRef
	From      string // segment start station
	To        string // segment end station
}

// SeatCell records whether one seat is free on one segment of a train on
// a given date.  A seat that exists car-wide has one cell per segment of
// the route.  Holder and HeldAt are set only while the cell is booked;
// Holder is the id of the order that owns the booking.
//
// Fields:
//  Key    – train/date/class/seat/segment address of the cell.
//  Status – available or booked.
//  Holder – order id holding the cell (empty when available).
//  HeldAt – when the cell was booked (nil when available).
type SeatCell struct {
	Key    CellKey
	Status SeatStatus // seat_cells.status
	Holder string     // seat_cells.holder
	HeldAt *time.Time // seat_cells.held_at (nullable)
}
