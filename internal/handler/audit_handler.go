package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ofirwie/rechnung-meister/internal/audit"
	"github.com/ofirwie/rechnung-meister/internal/model"
	"github.com/ofirwie/rechnung-meister/internal/permission"
	"github.com/ofirwie/rechnung-meister/pkg/logger"
	"github.com/ofirwie/rechnung-meister/prometheus"
)

// auditEntry is one audit row as returned to clients, with the derived
// criticality flag attached.
type auditEntry struct {
	model.AuditLog
	Critical bool `json:"critical"`
}

// ListAuditEntries returns recent audit entries for the caller's company,
// newest first. The list reveals who changed what, so it is gated on the
// company update permission and always scoped to the company in the
// token; only root admins may widen the view. Filters: table, record_id,
// action, limit.
func ListAuditEntries(c echo.Context) error {
	log := logger.FromContext(c)

	g, ok := requireAccess(c, permission.ResourceCompany, permission.ActionUpdate)
	if !ok {
		return nil
	}

	f := audit.Filter{
		CompanyID: g.CompanyID,
		TableName: c.QueryParam("table"),
		Action:    c.QueryParam("action"),
	}
	if g.Membership.RootAdmin {
		f.CompanyID = 0
		if v := c.QueryParam("company_id"); v != "" {
			id, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid company_id"})
			}
			f.CompanyID = uint(id)
		}
	}
	if v := c.QueryParam("record_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid record_id"})
		}
		f.RecordID = uint(id)
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		f.Limit = n
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	entries, err := auditor.List(c.Request().Context(), f)
	if err != nil {
		log.Error("Failed to list audit entries", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve audit entries"})
	}

	out := make([]auditEntry, 0, len(entries))
	for i := range entries {
		out = append(out, auditEntry{AuditLog: entries[i], Critical: audit.IsCritical(&entries[i])})
	}

	log.Info("Audit entries listed",
		zap.Uint("company_id", g.CompanyID),
		zap.Int("count", len(out)))
	return c.JSON(http.StatusOK, out)
}
