package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rail-seat-booking/internal/booking"
	"github.com/iliyamo/rail-seat-booking/internal/repository"
)

// writeError maps engine and repository errors to a status code and a
// stable error code.  Unknown errors are logged and reported as 500
// without their message.
func writeError(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, booking.ErrValidation):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, booking.ErrOrderNotFound):
		status, code = http.StatusNotFound, "order_not_found"
	case errors.Is(err, repository.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrSoldOut):
		status, code = http.StatusConflict, "sold_out"
	case errors.Is(err, booking.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, booking.ErrPurchaseRestricted):
		status, code = http.StatusConflict, "unpaid_order_exists"
	case errors.Is(err, repository.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, booking.ErrExpired):
		status, code = http.StatusGone, "order_expired"
	case errors.Is(err, booking.ErrCancellationLimit):
		status, code = http.StatusForbidden, "cancellation_limit_exceeded"
	}
	if status == http.StatusInternalServerError {
		log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, echo.Map{"error": code})
	}
	return c.JSON(status, echo.Map{"error": code, "message": err.Error()})
}
