package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rail-seat-booking/internal/handler"
	"github.com/iliyamo/rail-seat-booking/internal/middleware"
)

// RegisterRoutes registers the unauthenticated probes.  db may be nil,
// in which case /readyz is not mounted.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
}

// RegisterPublic registers the guest endpoints.  cache wraps the
// availability query; pass middleware.NewRedisCache with a nil client
// to disable it.
func RegisterPublic(e *echo.Echo, h *handler.BookingHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/trains/:train/availability", h.Availability, cache)
}

// RegisterBooking registers the rider endpoints under /v1/orders.  They
// require a JWT with the CUSTOMER role and pass through limiter.
func RegisterBooking(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/orders",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleCustomer),
		limiter,
	)
	g.POST("", h.CreateOrder)
	g.GET("/:id", h.GetOrder)
	g.POST("/:id/confirm", h.ConfirmOrder)
	g.POST("/:id/pay", h.PayOrder)
	g.DELETE("/:id", h.CancelOrder)
}

// RegisterAdmin registers the operator endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleOperator),
	)
	g.POST("/trains", a.PublishTrain)
	g.POST("/trains/:train/sales", a.OpenSales)
	g.POST("/orders/:id/release", a.ReleaseOrder)
}
