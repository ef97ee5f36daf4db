package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ofirwie/rechnung-meister/internal/model"
	"github.com/ofirwie/rechnung-meister/internal/permission"
	"github.com/ofirwie/rechnung-meister/pkg/database"
	"github.com/ofirwie/rechnung-meister/pkg/logger"
	"github.com/ofirwie/rechnung-meister/prometheus"
)

// InviteMember adds an existing user to the caller's company. The member's
// permission set is either the explicit override from the request or a
// snapshot of the role defaults; either way it is frozen on the row.
func InviteMember(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordCompanyOperation("invite_member")

	g, ok := requireAccess(c, permission.ResourceCompany, permission.ActionManageUsers)
	if !ok {
		return nil
	}

	var req struct {
		UserEmail   string         `json:"user_email" validate:"required,email"`
		Role        string         `json:"role,omitempty"`
		Permissions permission.Set `json:"permissions,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse invite request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Role == "" {
		req.Role = permission.RoleMember
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	// The target user must already exist; invitations do not create accounts.
	var user model.User
	if result := database.GetDB().Where("email = ?", req.UserEmail).First(&user); result.Error != nil {
		log.Error("User not found", zap.String("email", req.UserEmail))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	// A returning member is reactivated instead of duplicated: exactly one
	// row exists per (company, user) pair.
	var existing model.CompanyUser
	result := database.GetDB().Unscoped().
		Where("user_id = ? AND company_id = ?", user.ID, g.CompanyID).
		First(&existing)
	if result.Error == nil {
		if existing.Active && !existing.DeletedAt.Valid {
			return c.JSON(http.StatusConflict, echo.Map{"error": "user is already a member of this company"})
		}
		perms := req.Permissions
		if perms == nil {
			perms = permission.Defaults(req.Role)
		}
		raw, err := permission.Marshal(perms)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "invite failed"})
		}
		patch := map[string]any{
			"role":        req.Role,
			"permissions": raw,
			"active":      true,
			"deleted_at":  nil,
		}
		if err := database.GetDB().Unscoped().Model(&existing).Updates(patch).Error; err != nil {
			log.Error("Failed to reactivate membership", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "invite failed"})
		}
		auditMembership(c, g.CompanyID, g.UserID, model.AuditActionUpdate, existing.ID,
			map[string]any{"active": false},
			map[string]any{"active": true, "role": req.Role})
		log.Info("Membership reactivated",
			zap.Uint("company_id", g.CompanyID),
			zap.String("user_email", req.UserEmail),
			zap.String("role", req.Role))
		return c.JSON(http.StatusOK, echo.Map{"message": "User re-added to company"})
	}

	perms := req.Permissions
	if perms == nil {
		perms = permission.Defaults(req.Role)
	}
	raw, err := permission.Marshal(perms)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "invite failed"})
	}

	member := model.CompanyUser{
		UserID:      user.ID,
		CompanyID:   g.CompanyID,
		Role:        req.Role,
		Permissions: raw,
		Active:      true,
	}
	if err := database.GetDB().Create(&member).Error; err != nil {
		log.Error("Failed to add user to company", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to add user to company"})
	}

	auditMembership(c, g.CompanyID, g.UserID, model.AuditActionInsert, member.ID, nil,
		map[string]any{"user_id": user.ID, "company_id": g.CompanyID, "role": req.Role})

	log.Info("User added to company",
		zap.Uint("company_id", g.CompanyID),
		zap.String("user_email", req.UserEmail),
		zap.String("role", req.Role))

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "User added to company successfully",
		"member":  member,
	})
}

// UpdateMember changes a member's role or explicit permission set. A role
// change re-derives the snapshot from the new role's defaults unless an
// explicit set is supplied.
func UpdateMember(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordCompanyOperation("update_member")

	g, ok := requireAccess(c, permission.ResourceCompany, permission.ActionManageUsers)
	if !ok {
		return nil
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid membership ID"})
	}

	var req struct {
		Role        string         `json:"role,omitempty"`
		Permissions permission.Set `json:"permissions,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Role == "" && req.Permissions == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "nothing to update"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())

	var member model.CompanyUser
	result := database.GetDB().
		Where("id = ? AND company_id = ?", id, g.CompanyID).
		First(&member)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "membership not found"})
	}

	// The audit snapshots carry only the fields this request touched.
	old := map[string]any{}
	changed := map[string]any{}
	patch := map[string]any{}
	if req.Role != "" {
		old["role"] = member.Role
		changed["role"] = req.Role
		patch["role"] = req.Role
	}
	perms := req.Permissions
	if perms == nil && req.Role != "" {
		perms = permission.Defaults(req.Role)
	}
	if perms != nil {
		raw, err := permission.Marshal(perms)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
		old["permissions"] = member.Permissions
		changed["permissions"] = raw
		patch["permissions"] = raw
	}

	if err := database.GetDB().Model(&member).Updates(patch).Error; err != nil {
		log.Error("Failed to update membership", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update membership"})
	}

	auditMembership(c, g.CompanyID, g.UserID, model.AuditActionUpdate, member.ID, old, changed)

	log.Info("Membership updated",
		zap.Uint("company_id", g.CompanyID),
		zap.Uint64("membership_id", id))
	return c.JSON(http.StatusOK, echo.Map{"message": "Membership updated successfully"})
}

// DeactivateMember removes a user from a company by flagging the
// membership inactive. Rows are never hard-deleted; the history stays.
func DeactivateMember(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordCompanyOperation("remove_member")

	g, ok := requireAccess(c, permission.ResourceCompany, permission.ActionManageUsers)
	if !ok {
		return nil
	}

	companyID, err := strconv.ParseUint(c.Param("company_id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid company ID"})
	}
	if uint(companyID) != g.CompanyID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "company mismatch"})
	}
	targetUserID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user ID"})
	}

	// The owner on record cannot be removed.
	var comp model.Company
	if result := database.GetDB().First(&comp, g.CompanyID); result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "company not found"})
	}
	if comp.OwnerID == uint(targetUserID) {
		log.Warn("Attempted to remove company owner",
			zap.Uint("company_id", g.CompanyID),
			zap.Uint64("owner_id", targetUserID))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "cannot remove the company owner"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())

	var member model.CompanyUser
	result := database.GetDB().
		Where("user_id = ? AND company_id = ?", targetUserID, g.CompanyID).
		First(&member)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found in this company"})
	}
	if !member.Active {
		return c.JSON(http.StatusOK, echo.Map{"message": "User already removed"})
	}

	if err := database.GetDB().Model(&member).Update("active", false).Error; err != nil {
		log.Error("Failed to deactivate membership", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to remove user from company"})
	}

	auditMembership(c, g.CompanyID, g.UserID, model.AuditActionUpdate, member.ID,
		map[string]any{"active": true},
		map[string]any{"active": false})

	log.Info("User removed from company",
		zap.Uint("company_id", g.CompanyID),
		zap.Uint64("user_id", targetUserID))
	return c.JSON(http.StatusOK, echo.Map{"message": "User removed from company successfully"})
}

func auditMembership(c echo.Context, companyID, actorID uint, action string, recordID uint, oldValues, newValues map[string]any) {
	if err := auditor.Record(c.Request().Context(), companyID, actorID, action, "company_users", recordID, oldValues, newValues); err != nil {
		logger.FromContext(c).Error("Failed to write audit entry", zap.Error(err))
	}
}
