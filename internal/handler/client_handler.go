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

// ClientRequest defines the structure for client creation/update requests
type ClientRequest struct {
	CompanyName   string  `json:"company_name" validate:"required"`
	Abbreviation  string  `json:"abbreviation" validate:"required,max=10,alphanum"`
	ContactPerson string  `json:"contact_person"`
	Email         string  `json:"email"`
	Address       string  `json:"address"`
	City          string  `json:"city"`
	Country       string  `json:"country"`
	PostalCode    string  `json:"postal_code"`
	VatID         string  `json:"vat_id"`
	TaxNumber     string  `json:"tax_number"`
	HourlyRate    float64 `json:"hourly_rate"`
	Currency      string  `json:"currency"`
}

// CreateClient creates a new client for the current company
func CreateClient(c echo.Context) error {
	log := logger.FromContext(c)

	g, ok := requireAccess(c, permission.ResourceSuppliers, permission.ActionCreate)
	if !ok {
		return nil
	}

	var req ClientRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request data"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}

	// One abbreviation per company; the number allocator builds prefixes
	// from it.
	var count int64
	database.GetDB().Model(&model.Client{}).
		Where("abbreviation = ? AND company_id = ?", req.Abbreviation, g.CompanyID).
		Count(&count)
	if count > 0 {
		log.Warn("Client abbreviation already in use",
			zap.String("abbreviation", req.Abbreviation),
			zap.Uint("company_id", g.CompanyID))
		return c.JSON(http.StatusConflict, echo.Map{"error": "a client with this abbreviation already exists"})
	}

	client := model.Client{
		CompanyID:     g.CompanyID,
		CompanyName:   req.CompanyName,
		Abbreviation:  req.Abbreviation,
		ContactPerson: req.ContactPerson,
		Email:         req.Email,
		Address:       req.Address,
		City:          req.City,
		Country:       req.Country,
		PostalCode:    req.PostalCode,
		VatID:         req.VatID,
		TaxNumber:     req.TaxNumber,
		HourlyRate:    req.HourlyRate,
		Currency:      req.Currency,
		CreatedBy:     g.UserID,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&client); result.Error != nil {
		log.Error("Failed to create client", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create client"})
	}

	log.Info("Client created",
		zap.Uint("id", client.ID),
		zap.String("company_name", client.CompanyName),
		zap.Uint("company_id", client.CompanyID))
	return c.JSON(http.StatusCreated, client)
}

// ListClients lists the current company's clients
func ListClients(c echo.Context) error {
	log := logger.FromContext(c)

	g, ok := requireAccess(c, permission.ResourceSuppliers, permission.ActionRead)
	if !ok {
		return nil
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var clients []model.Client
	result := database.GetDB().
		Where("company_id = ?", g.CompanyID).
		Order("company_name").
		Find(&clients)
	if result.Error != nil {
		log.Error("Failed to list clients", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve clients"})
	}
	return c.JSON(http.StatusOK, clients)
}

// GetClient retrieves a client by ID for the current company
func GetClient(c echo.Context) error {
	g, ok := requireAccess(c, permission.ResourceSuppliers, permission.ActionRead)
	if !ok {
		return nil
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid client ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var client model.Client
	result := database.GetDB().
		Where("id = ? AND company_id = ?", id, g.CompanyID).
		First(&client)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
	}
	return c.JSON(http.StatusOK, client)
}

// UpdateClient updates a client. Invoices keep their snapshot: edits here
// never touch already-created invoices.
func UpdateClient(c echo.Context) error {
	log := logger.FromContext(c)

	g, ok := requireAccess(c, permission.ResourceSuppliers, permission.ActionUpdate)
	if !ok {
		return nil
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid client ID"})
	}

	var client model.Client
	result := database.GetDB().
		Where("id = ? AND company_id = ?", id, g.CompanyID).
		First(&client)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
	}

	var req ClientRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request data"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	client.CompanyName = req.CompanyName
	client.Abbreviation = req.Abbreviation
	client.ContactPerson = req.ContactPerson
	client.Email = req.Email
	client.Address = req.Address
	client.City = req.City
	client.Country = req.Country
	client.PostalCode = req.PostalCode
	client.VatID = req.VatID
	client.TaxNumber = req.TaxNumber
	client.HourlyRate = req.HourlyRate
	if req.Currency != "" {
		client.Currency = req.Currency
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := database.GetDB().Save(&client).Error; err != nil {
		log.Error("Failed to update client", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update client"})
	}

	log.Info("Client updated", zap.Uint("id", client.ID), zap.Uint("company_id", g.CompanyID))
	return c.JSON(http.StatusOK, client)
}

// DeleteClient soft-deletes a client
func DeleteClient(c echo.Context) error {
	log := logger.FromContext(c)

	g, ok := requireAccess(c, permission.ResourceSuppliers, permission.ActionDelete)
	if !ok {
		return nil
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid client ID"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	result := database.GetDB().
		Where("id = ? AND company_id = ?", id, g.CompanyID).
		Delete(&model.Client{})
	if result.Error != nil {
		log.Error("Failed to delete client", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete client"})
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
	}

	log.Info("Client deleted", zap.Uint64("id", id), zap.Uint("company_id", g.CompanyID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Client deleted successfully"})
}
