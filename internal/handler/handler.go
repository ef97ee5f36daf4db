// Package handler wires HTTP requests into the invoice lifecycle core.
// Every mutation follows the same path: resolve membership, check the
// permission flag, run the domain rule (state machine or deletion guard),
// write through the store, append an audit entry.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ofirwie/rechnung-meister/internal/audit"
	"github.com/ofirwie/rechnung-meister/internal/company"
	"github.com/ofirwie/rechnung-meister/internal/invoice"
	"github.com/ofirwie/rechnung-meister/internal/permission"
	"github.com/ofirwie/rechnung-meister/pkg/config"
	"github.com/ofirwie/rechnung-meister/pkg/database"
	"github.com/ofirwie/rechnung-meister/pkg/logger"
	"github.com/ofirwie/rechnung-meister/prometheus"
)

var (
	resolver     *company.Resolver
	auditor      *audit.Recorder
	allocator    *invoice.Allocator
	guard        *invoice.Guard
	allocRetries int
)

// Init builds the shared core components from configuration. Must be
// called after database.InitDB.
func Init(cfg *config.Config) {
	db := database.GetDB()
	resolver = company.NewResolver(db, cfg.App.RootAdminEmails)
	auditor = audit.NewRecorder(db)
	allocator = invoice.NewAllocator(db)
	guard = invoice.NewGuard(db, auditor)
	allocRetries = cfg.App.AllocRetries
	if allocRetries < 1 {
		allocRetries = 1
	}
}

// identity pulls the authenticated principal from the echo context.
func identity(c echo.Context) (userID uint, email string, ok bool) {
	userID, ok = c.Get("user_id").(uint)
	if !ok {
		return 0, "", false
	}
	email, _ = c.Get("email").(string)
	return userID, email, true
}

// grant is the outcome of a successful authorization check.
type grant struct {
	Membership *company.Membership
	UserID     uint
	Email      string
	CompanyID  uint
}

// requireAccess resolves the caller's membership in the request's company
// and checks one permission flag. On failure it writes the error response
// and returns ok = false, so handlers just return nil. There is no
// caching: every call re-reads the membership row.
func requireAccess(c echo.Context, resource permission.Resource, action permission.Action) (grant, bool) {
	log := logger.FromContext(c)

	userID, email, ok := identity(c)
	if !ok {
		log.Error("Failed to get user ID from context")
		prometheus.RecordAuthError("unauthenticated")
		c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
		return grant{}, false
	}

	companyID, ok := c.Get("company_id").(uint)
	if !ok {
		prometheus.RecordAuthError("missing_company_context")
		c.JSON(http.StatusBadRequest, echo.Map{"error": "select a company first"})
		return grant{}, false
	}

	m, err := resolver.Resolve(c.Request().Context(), userID, email, companyID)
	if err != nil {
		if err == company.ErrNotMember {
			log.Warn("No active membership",
				zap.Uint("user_id", userID),
				zap.Uint("company_id", companyID))
			prometheus.RecordAuthError("not_member")
			c.JSON(http.StatusForbidden, echo.Map{"error": "no access to this company"})
			return grant{}, false
		}
		log.Error("Membership lookup failed", zap.Error(err))
		prometheus.RecordAuthError("db_error")
		c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		return grant{}, false
	}

	if err := permission.Require(m.Permissions, resource, action); err != nil {
		log.Warn("Permission denied",
			zap.Uint("user_id", userID),
			zap.Uint("company_id", companyID),
			zap.String("resource", string(resource)),
			zap.String("action", string(action)))
		prometheus.RecordPermissionDenied(string(resource), string(action))
		c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
		return grant{}, false
	}

	return grant{Membership: m, UserID: userID, Email: email, CompanyID: companyID}, true
}
