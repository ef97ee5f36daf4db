package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ofirwie/rechnung-meister/pkg/logger"
	"github.com/ofirwie/rechnung-meister/prometheus"
)

// RequireCompanyContext rejects requests whose token carries no selected
// company. Tenant-scoped routes (invoices, clients, members, audit) are
// meaningless without one.
func RequireCompanyContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := c.Get("company_id").(uint); !ok {
			logger.FromContext(c).Warn("Request without company context")
			prometheus.RecordAuthError("missing_company_context")
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "select a company first"})
		}
		return next(c)
	}
}
