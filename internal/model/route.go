package model

import (
	"strconv"
	"strings"
)

// Stop is one station on a train's published route.  Seq values are
// strictly increasing and unique per train; the route never changes
// once published.
//
// Fields:
//  TrainNo – train number the stop belongs to.
//  Seq     – position of the stop on the route.
//  Station – station name.
type Stop struct {
	TrainNo string // train_stops.train_no
	Seq     int    // train_stops.seq
	Station string // train_stops.station
}

// Segment is the span between two adjacent stops of a train.  It is
// the unit of seat occupancy: a seat is sold per segment.
type Segment struct {
	FromSeq int
	ToSeq   int
	From    string
	To      string
}

// String renders the segment as "From->To".
func (s Segment) String() string { return s.From + "->" + s.To }

// SeatRef identifies a physical seat on a train: the car it sits in and
// its seat number within the car (e.g. car 5, seat "12A").
type SeatRef struct {
	CarNo  int    `json:"car_no"`
	SeatNo string `json:"seat_no"`
}

// String renders the seat as "05-12A".
func (r SeatRef) String() string {
	car := strconv.Itoa(r.CarNo)
	if r.CarNo < 10 {
		car = "0" + car
	}
	return car + "-" + r.SeatNo
}

// Less orders seats by car number and then by seat number.  Seat numbers
// compare on their numeric prefix first so that "2A" sorts before "10A".
// Numbers equal under that rule, such as "1a" and "1A" or "01A" and
// "1A", fall back to a byte comparison so the order stays strict.
func (r SeatRef) Less(o SeatRef) bool {
	if r.CarNo != o.CarNo {
		return r.CarNo < o.CarNo
	}
	rn, rs := splitSeatNo(r.SeatNo)
	on, os := splitSeatNo(o.SeatNo)
	if rn != on {
		return rn < on
	}
	if rs != os {
		return rs < os
	}
	return r.SeatNo < o.SeatNo
}

func splitSeatNo(s string) (int, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		n = -1
	}
	return n, strings.ToUpper(s[i:])
}

// Car describes one car of a train when sales are opened for a date:
// its number, the seat class of every seat in it and the seat numbers.
type Car struct {
	CarNo     int      `json:"car_no" validate:"gt=0"`
	SeatClass string   `json:"seat_class" validate:"required"`
	Seats     []string `json:"seats" validate:"required,min=1,dive,required,max=8"`
}

// SegmentFare is the price of one seat class on one adjacent segment,
// in cents.
type SegmentFare struct {
	TrainNo    string // train_fares.train_no
	From       string // train_fares.from_station
	To         string // train_fares.to_station
	SeatClass  string // train_fares.seat_class
	PriceCents int64  // train_fares.price_cents
}
