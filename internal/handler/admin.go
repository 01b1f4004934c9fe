package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rail-seat-booking/internal/booking"
)

// AdminHandler lets operators publish trains, open sales and release
// the seats of dead orders by hand.
type AdminHandler struct {
	Catalog *booking.Catalog
	Manager *booking.Manager
}

func NewAdminHandler(cat *booking.Catalog, m *booking.Manager) *AdminHandler {
	if cat == nil || m == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Catalog: cat, Manager: m}
}

// PublishTrain handles POST /v1/admin/trains.
func (h *AdminHandler) PublishTrain(c echo.Context) error {
	var def booking.TrainDefinition
	if err := c.Bind(&def); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Catalog.PublishTrain(c.Request().Context(), def); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"train_no": def.TrainNo,
		"stops":    len(def.Stops),
		"fares":    len(def.Fares),
	})
}

// OpenSales handles POST /v1/admin/trains/:train/sales.
func (h *AdminHandler) OpenSales(c echo.Context) error {
	var req booking.OpenSalesRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req.TrainNo = c.Param("train")
	n, err := h.Catalog.OpenSales(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"train_no": req.TrainNo,
		"date":     req.Date,
		"cells":    n,
	})
}

// ReleaseOrder handles POST /v1/admin/orders/:id/release.  It frees the
// seats of a cancelled or expired order whose release failed earlier,
// without waiting for the next sweep.  Unknown orders answer 204 too.
func (h *AdminHandler) ReleaseOrder(c echo.Context) error {
	if err := h.Manager.ReleaseOrderSeats(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
