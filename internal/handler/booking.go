package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rail-seat-booking/internal/booking"
	"github.com/iliyamo/rail-seat-booking/internal/middleware"
	"github.com/iliyamo/rail-seat-booking/internal/model"
)

// BookingHandler exposes the order lifecycle to riders.  Every method
// except Availability expects JWTAuth to have run.
type BookingHandler struct {
	Manager *booking.Manager
}

// NewBookingHandler panics on a nil manager.
func NewBookingHandler(m *booking.Manager) *BookingHandler {
	if m == nil {
		panic("nil manager passed to NewBookingHandler")
	}
	return &BookingHandler{Manager: m}
}

type lineView struct {
	Seq           int            `json:"seq"`
	PassengerID   string         `json:"passenger_id"`
	PassengerName string         `json:"name"`
	SeatClass     string         `json:"seat_class"`
	TicketType    string         `json:"ticket_type"`
	PriceCents    int64          `json:"price_cents"`
	Seat          *model.SeatRef `json:"seat,omitempty"`
	SeatLabel     string         `json:"seat_label,omitempty"`
}

type orderView struct {
	OrderID          string     `json:"order_id"`
	OrderNumber      string     `json:"order_number"`
	Status           string     `json:"status"`
	TrainNo          string     `json:"train_no"`
	Date             string     `json:"date"`
	From             string     `json:"from"`
	To               string     `json:"to"`
	TotalCents       int64      `json:"total_cents"`
	CreatedAt        time.Time  `json:"created_at"`
	PaymentDeadline  *time.Time `json:"payment_deadline,omitempty"`
	RemainingSeconds int64      `json:"remaining_payment_seconds"`
	Lines            []lineView `json:"passengers"`
}

func newOrderView(o *model.Order, remaining time.Duration) orderView {
	v := orderView{
		OrderID:          o.ID,
		OrderNumber:      booking.OrderNumber(o.ID),
		Status:           string(o.Status),
		TrainNo:          o.TrainNo,
		Date:             o.Date,
		From:             o.Origin,
		To:               o.Destination,
		TotalCents:       o.TotalCents,
		CreatedAt:        o.CreatedAt,
		PaymentDeadline:  o.PaymentDeadline,
		RemainingSeconds: int64(remaining / time.Second),
		Lines:            make([]lineView, 0, len(o.Lines)),
	}
	for _, l := range o.Lines {
		lv := lineView{
			Seq:           l.Seq,
			PassengerID:   l.PassengerID,
			PassengerName: l.PassengerName,
			SeatClass:     l.SeatClass,
			TicketType:    l.TicketType,
			PriceCents:    l.PriceCents,
			Seat:          l.Seat,
		}
		if l.Seat != nil {
			lv.SeatLabel = l.Seat.String()
		}
		v.Lines = append(v.Lines, lv)
	}
	return v
}

// Availability handles GET /v1/trains/:train/availability?date=&from=&to=.
// It answers with the whole-interval free seat count per class.
func (h *BookingHandler) Availability(c echo.Context) error {
	train := c.Param("train")
	date, from, to := c.QueryParam("date"), c.QueryParam("from"), c.QueryParam("to")
	if date == "" || from == "" || to == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date, from and to are required"})
	}
	counts, err := h.Manager.Availability(c.Request().Context(), train, date, from, to)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"train_no":     train,
		"date":         date,
		"from":         from,
		"to":           to,
		"availability": counts,
	})
}

// CreateOrder handles POST /v1/orders.  The order is created pending; no
// seat is held until it is confirmed.
func (h *BookingHandler) CreateOrder(c echo.Context) error {
	var req booking.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req.RiderID = middleware.RiderID(c)
	o, err := h.Manager.CreateOrder(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, newOrderView(o, 0))
}

// GetOrder handles GET /v1/orders/:id.
func (h *BookingHandler) GetOrder(c echo.Context) error {
	d, err := h.Manager.GetOrder(c.Request().Context(), c.Param("id"), middleware.RiderID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newOrderView(d.Order, d.RemainingPayment))
}

// ConfirmOrder handles POST /v1/orders/:id/confirm.  It allocates one
// seat per passenger and starts the payment window.
func (h *BookingHandler) ConfirmOrder(c echo.Context) error {
	conf, err := h.Manager.ConfirmOrder(c.Request().Context(), c.Param("id"), middleware.RiderID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, conf)
}

// PayOrder handles POST /v1/orders/:id/pay.  Payment itself is settled
// elsewhere; this records it before the deadline.
func (h *BookingHandler) PayOrder(c echo.Context) error {
	r, err := h.Manager.PayOrder(c.Request().Context(), c.Param("id"), middleware.RiderID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// CancelOrder handles DELETE /v1/orders/:id.
func (h *BookingHandler) CancelOrder(c echo.Context) error {
	if err := h.Manager.CancelOrder(c.Request().Context(), c.Param("id"), middleware.RiderID(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
