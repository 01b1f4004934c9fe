package middleware

import "github.com/labstack/echo/v4"

// Context keys set by JWTAuth.
const (
	ctxRiderID = "rider_id"
	ctxRole    = "role"
)

// Roles carried in the "role" claim.
const (
	RoleCustomer = "CUSTOMER"
	RoleOperator = "OPERATOR"
)

// RiderID returns the authenticated subject, or "" for anonymous
// requests.
func RiderID(c echo.Context) string {
	if s, ok := c.Get(ctxRiderID).(string); ok {
		return s
	}
	return ""
}
