package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ofirwie/rechnung-meister/internal/company"
	"github.com/ofirwie/rechnung-meister/internal/model"
	"github.com/ofirwie/rechnung-meister/internal/permission"
	"github.com/ofirwie/rechnung-meister/pkg/database"
	"github.com/ofirwie/rechnung-meister/pkg/logger"
	"github.com/ofirwie/rechnung-meister/prometheus"
)

// CreateCompany creates a new company. Only root admins may do this.
func CreateCompany(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordCompanyOperation("create")

	userID, email, ok := identity(c)
	if !ok {
		prometheus.RecordAuthError("unauthenticated")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	if !resolver.IsRootAdmin(email) {
		log.Warn("Non-root company creation attempt", zap.String("email", email))
		prometheus.RecordAuthError("root_admin_required")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only root administrators can create companies"})
	}

	var req struct {
		Name            string `json:"name" validate:"required"`
		LegalName       string `json:"legal_name"`
		VatID           string `json:"vat_id"`
		TaxNumber       string `json:"tax_number"`
		DefaultCurrency string `json:"default_currency"`
		FiscalYearStart int    `json:"fiscal_year_start"`
		IsMainCompany   bool   `json:"is_main_company"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse company creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.DefaultCurrency == "" {
		req.DefaultCurrency = "EUR"
	}
	if req.FiscalYearStart < 1 || req.FiscalYearStart > 12 {
		req.FiscalYearStart = 1
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	tx := database.GetDB().Begin()
	if tx.Error != nil {
		log.Error("Failed to begin transaction", zap.Error(tx.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	// At most one company is the organization's primary entity.
	if req.IsMainCompany {
		if err := tx.Model(&model.Company{}).Where("is_main_company = ?", true).
			Update("is_main_company", false).Error; err != nil {
			tx.Rollback()
			log.Error("Failed to clear previous main company", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "company creation failed"})
		}
	}

	comp := model.Company{
		Name:            req.Name,
		LegalName:       req.LegalName,
		VatID:           req.VatID,
		TaxNumber:       req.TaxNumber,
		DefaultCurrency: req.DefaultCurrency,
		FiscalYearStart: req.FiscalYearStart,
		IsMainCompany:   req.IsMainCompany,
		Active:          true,
		CanBeDeleted:    true,
		OwnerID:         userID,
	}
	if result := tx.Create(&comp); result.Error != nil {
		tx.Rollback()
		log.Error("Failed to create company", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "company creation failed"})
	}

	// The creating root admin gets an owner membership row so the company
	// has at least one regular owner on record.
	perms, err := permission.Marshal(permission.Defaults(permission.RoleOwner))
	if err != nil {
		tx.Rollback()
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "company creation failed"})
	}
	member := model.CompanyUser{
		UserID:      userID,
		CompanyID:   comp.ID,
		Role:        permission.RoleOwner,
		Permissions: perms,
		IsDefault:   false,
		Active:      true,
	}
	if result := tx.Create(&member); result.Error != nil {
		tx.Rollback()
		log.Error("Failed to create owner membership", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "company creation failed"})
	}

	if err := tx.Commit().Error; err != nil {
		log.Error("Failed to commit transaction", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "transaction commit failed"})
	}

	log.Info("Company created",
		zap.String("name", comp.Name),
		zap.Uint("id", comp.ID),
		zap.Uint("owner_id", comp.OwnerID))

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Company created successfully",
		"company": comp,
	})
}

// ListCompanies returns the companies the caller belongs to. Root admins
// see every company.
func ListCompanies(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordCompanyOperation("list")

	userID, email, ok := identity(c)
	if !ok {
		prometheus.RecordAuthError("unauthenticated")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	if resolver.IsRootAdmin(email) {
		var companies []model.Company
		if result := database.GetDB().Find(&companies); result.Error != nil {
			log.Error("Failed to list companies", zap.Error(result.Error))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve companies"})
		}
		return c.JSON(http.StatusOK, companies)
	}

	var memberships []model.CompanyUser
	result := database.GetDB().Preload("Company").
		Where("user_id = ? AND active = ?", userID, true).
		Find(&memberships)
	if result.Error != nil {
		log.Error("Failed to retrieve user's companies", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve companies"})
	}

	type CompanyResponse struct {
		ID        uint      `json:"id"`
		Name      string    `json:"name"`
		Role      string    `json:"role"`
		Active    bool      `json:"active"`
		IsDefault bool      `json:"is_default"`
		CreatedAt time.Time `json:"created_at"`
	}
	response := make([]CompanyResponse, 0, len(memberships))
	for _, m := range memberships {
		response = append(response, CompanyResponse{
			ID:        m.CompanyID,
			Name:      m.Company.Name,
			Role:      m.Role,
			Active:    m.Company.Active,
			IsDefault: m.IsDefault,
			CreatedAt: m.Company.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, response)
}

// resolveCompanyParam resolves the caller's membership against the :id
// path parameter and checks one permission flag.
func resolveCompanyParam(c echo.Context, action permission.Action) (*company.Membership, uint, bool) {
	log := logger.FromContext(c)

	userID, email, ok := identity(c)
	if !ok {
		prometheus.RecordAuthError("unauthenticated")
		c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
		return nil, 0, false
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid company ID"})
		return nil, 0, false
	}
	companyID := uint(id)

	m, err := resolver.Resolve(c.Request().Context(), userID, email, companyID)
	if err != nil {
		if err == company.ErrNotMember {
			log.Warn("Unauthorized company access attempt",
				zap.Uint("requesting_user_id", userID),
				zap.Uint("company_id", companyID))
			prometheus.RecordAuthError("not_member")
			c.JSON(http.StatusForbidden, echo.Map{"error": "no access to this company"})
			return nil, 0, false
		}
		c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		return nil, 0, false
	}

	if err := permission.Require(m.Permissions, permission.ResourceCompany, action); err != nil {
		prometheus.RecordPermissionDenied(string(permission.ResourceCompany), string(action))
		c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
		return nil, 0, false
	}
	return m, companyID, true
}

// GetCompany retrieves company details
func GetCompany(c echo.Context) error {
	prometheus.RecordCompanyOperation("access")

	_, companyID, ok := resolveCompanyParam(c, permission.ActionRead)
	if !ok {
		return nil
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var comp model.Company
	if result := database.GetDB().First(&comp, companyID); result.Error != nil {
		logger.FromContext(c).Error("Company not found", zap.Uint("id", companyID), zap.Error(result.Error))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "company not found"})
	}
	return c.JSON(http.StatusOK, comp)
}

// UpdateCompany updates company settings
func UpdateCompany(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordCompanyOperation("update")

	_, companyID, ok := resolveCompanyParam(c, permission.ActionManageSettings)
	if !ok {
		return nil
	}

	var req struct {
		Name            *string `json:"name,omitempty"`
		LegalName       *string `json:"legal_name,omitempty"`
		VatID           *string `json:"vat_id,omitempty"`
		TaxNumber       *string `json:"tax_number,omitempty"`
		DefaultCurrency *string `json:"default_currency,omitempty"`
		FiscalYearStart *int    `json:"fiscal_year_start,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	patch := map[string]any{}
	if req.Name != nil {
		patch["name"] = *req.Name
	}
	if req.LegalName != nil {
		patch["legal_name"] = *req.LegalName
	}
	if req.VatID != nil {
		patch["vat_id"] = *req.VatID
	}
	if req.TaxNumber != nil {
		patch["tax_number"] = *req.TaxNumber
	}
	if req.DefaultCurrency != nil {
		patch["default_currency"] = *req.DefaultCurrency
	}
	if req.FiscalYearStart != nil && *req.FiscalYearStart >= 1 && *req.FiscalYearStart <= 12 {
		patch["fiscal_year_start"] = *req.FiscalYearStart
	}
	if len(patch) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "nothing to update"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	result := database.GetDB().Model(&model.Company{}).Where("id = ?", companyID).Updates(patch)
	if result.Error != nil {
		log.Error("Failed to update company", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update company"})
	}

	log.Info("Company updated", zap.Uint("company_id", companyID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Company updated successfully"})
}

// DeactivateCompany soft-deactivates a company (active = false). Only
// root admins may do this, and never while can_be_deleted is false.
func DeactivateCompany(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordCompanyOperation("deactivate")

	_, email, ok := identity(c)
	if !ok {
		prometheus.RecordAuthError("unauthenticated")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	if !resolver.IsRootAdmin(email) {
		prometheus.RecordAuthError("root_admin_required")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only root administrators can deactivate companies"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid company ID"})
	}

	var comp model.Company
	if result := database.GetDB().First(&comp, id); result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "company not found"})
	}
	if !comp.CanBeDeleted {
		log.Warn("Deactivation of protected company blocked", zap.Uint64("id", id))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "this company cannot be deactivated"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := database.GetDB().Model(&comp).Update("active", false).Error; err != nil {
		log.Error("Failed to deactivate company", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to deactivate company"})
	}

	log.Info("Company deactivated", zap.Uint64("id", id))
	return c.JSON(http.StatusOK, echo.Map{"message": "Company deactivated successfully"})
}
