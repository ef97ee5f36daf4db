package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ofirwie/rechnung-meister/internal/invoice"
	"github.com/ofirwie/rechnung-meister/internal/model"
	"github.com/ofirwie/rechnung-meister/internal/permission"
	"github.com/ofirwie/rechnung-meister/pkg/database"
	"github.com/ofirwie/rechnung-meister/pkg/logger"
	"github.com/ofirwie/rechnung-meister/prometheus"
)

// LineItemRequest is one service line in an invoice request.
type LineItemRequest struct {
	Description string  `json:"description" validate:"required"`
	Quantity    float64 `json:"quantity"`
	Hours       float64 `json:"hours"`
	Rate        float64 `json:"rate"`
}

// InvoiceRequest defines the structure for invoice creation/update requests
type InvoiceRequest struct {
	ClientID           uint              `json:"client_id" validate:"required"`
	Period             string            `json:"period,omitempty"` // YYYY-MM, defaults to current month
	VatRate            float64           `json:"vat_rate"`
	Currency           string            `json:"currency"`
	ExchangeRate       float64           `json:"exchange_rate"`
	Language           string            `json:"language"`
	ServicePeriodStart *time.Time        `json:"service_period_start,omitempty"`
	ServicePeriodEnd   *time.Time        `json:"service_period_end,omitempty"`
	DueDate            *time.Time        `json:"due_date,omitempty"`
	LineItems          []LineItemRequest `json:"line_items" validate:"required,min=1,dive"`
}

// buildLineItems computes per-line amounts: hours-based lines bill
// hours * rate, the rest quantity * rate.
func buildLineItems(reqs []LineItemRequest) ([]model.InvoiceLineItem, float64) {
	items := make([]model.InvoiceLineItem, 0, len(reqs))
	subtotal := 0.0
	for i, li := range reqs {
		qty := li.Quantity
		if qty == 0 {
			qty = 1
		}
		amount := qty * li.Rate
		if li.Hours > 0 {
			amount = li.Hours * li.Rate
		}
		items = append(items, model.InvoiceLineItem{
			Position:    i + 1,
			Description: li.Description,
			Quantity:    qty,
			Hours:       li.Hours,
			Rate:        li.Rate,
			Amount:      amount,
		})
		subtotal += amount
	}
	return items, subtotal
}

// CreateInvoice creates a draft invoice with a freshly allocated number.
//
// Allocation is a proposal; the partial unique index is the authority.
// When a concurrent request wins the same candidate number, the insert
// fails as a duplicate and allocation is retried with a fresh read, up to
// the configured bound.
func CreateInvoice(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordInvoiceOperation("create")

	g, ok := requireAccess(c, permission.ResourceInvoices, permission.ActionCreate)
	if !ok {
		return nil
	}

	var req InvoiceRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse invoice request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	period := time.Now().UTC()
	if req.Period != "" {
		p, err := time.Parse("2006-01", req.Period)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "period must be formatted YYYY-MM"})
		}
		period = p
	}
	if req.Language == "" {
		req.Language = "de"
	}
	if req.ExchangeRate == 0 {
		req.ExchangeRate = 1
	}

	// Snapshot the client. The invoice keeps these values even if the
	// client record changes later.
	var client model.Client
	result := database.GetDB().
		Where("id = ? AND company_id = ?", req.ClientID, g.CompanyID).
		First(&client)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
	}
	if req.Currency == "" {
		req.Currency = client.Currency
	}

	items, subtotal := buildLineItems(req.LineItems)
	vatAmount := subtotal * req.VatRate / 100
	total := (subtotal + vatAmount) * req.ExchangeRate

	prefix := invoice.Prefix(period, client.Abbreviation)

	inv := model.Invoice{
		CompanyID:          g.CompanyID,
		UserID:             g.UserID,
		Status:             string(invoice.StatusDraft),
		ClientID:           client.ID,
		ClientCompany:      client.CompanyName,
		ClientAddress:      client.Address,
		ClientVatID:        client.VatID,
		ClientTaxNumber:    client.TaxNumber,
		LineItems:          items,
		Subtotal:           subtotal,
		VatRate:            req.VatRate,
		VatAmount:          vatAmount,
		Total:              total,
		Currency:           req.Currency,
		ExchangeRate:       req.ExchangeRate,
		Language:           req.Language,
		ServicePeriodStart: req.ServicePeriodStart,
		ServicePeriodEnd:   req.ServicePeriodEnd,
		DueDate:            req.DueDate,
		CreatedBy:          g.UserID,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	err := allocator.CreateWithRetry(c.Request().Context(), &inv, prefix, allocRetries,
		func(number string, attempt int) {
			// Lost the race for this number; the next attempt re-reads.
			prometheus.AllocationRetryCounter.Inc()
			log.Warn("Invoice number collision, retrying allocation",
				zap.String("number", number),
				zap.Int("attempt", attempt))
		})
	if err != nil {
		if errors.Is(err, invoice.ErrAllocationExhausted) {
			log.Error("Invoice number allocation retries exhausted",
				zap.String("prefix", prefix),
				zap.Int("retries", allocRetries))
			return c.JSON(http.StatusConflict, echo.Map{"error": "could not allocate a unique invoice number, please retry"})
		}
		log.Error("Failed to create invoice", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create invoice"})
	}

	auditInvoice(c, g.CompanyID, g.UserID, model.AuditActionInsert, inv.ID, nil, map[string]any{
		"invoice_number": inv.InvoiceNumber,
		"status":         inv.Status,
		"total":          inv.Total,
	})

	log.Info("Invoice created",
		zap.Uint("id", inv.ID),
		zap.String("number", inv.InvoiceNumber),
		zap.Uint("company_id", g.CompanyID))
	return c.JSON(http.StatusCreated, inv)
}

// ListInvoices lists the current company's invoices, optionally filtered
// by status.
func ListInvoices(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordInvoiceOperation("list")

	g, ok := requireAccess(c, permission.ResourceInvoices, permission.ActionRead)
	if !ok {
		return nil
	}

	q := database.GetDB().Where("company_id = ?", g.CompanyID)
	if status := c.QueryParam("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var invoices []model.Invoice
	if result := q.Order("created_at DESC").Find(&invoices); result.Error != nil {
		log.Error("Failed to list invoices", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve invoices"})
	}
	return c.JSON(http.StatusOK, invoices)
}

// GetInvoice retrieves an invoice with its line items
func GetInvoice(c echo.Context) error {
	prometheus.RecordInvoiceOperation("get")

	g, ok := requireAccess(c, permission.ResourceInvoices, permission.ActionRead)
	if !ok {
		return nil
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid invoice ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var inv model.Invoice
	result := database.GetDB().Preload("LineItems").
		Where("id = ? AND company_id = ?", id, g.CompanyID).
		First(&inv)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "invoice not found"})
	}
	return c.JSON(http.StatusOK, inv)
}

// UpdateInvoice edits a draft invoice. Non-drafts must be reverted first;
// their content is frozen.
func UpdateInvoice(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordInvoiceOperation("update")

	g, ok := requireAccess(c, permission.ResourceInvoices, permission.ActionUpdate)
	if !ok {
		return nil
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid invoice ID"})
	}

	var inv model.Invoice
	result := database.GetDB().
		Where("id = ? AND company_id = ?", id, g.CompanyID).
		First(&inv)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "invoice not found"})
	}
	if inv.Status != string(invoice.StatusDraft) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "only draft invoices can be edited"})
	}

	var req InvoiceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.ExchangeRate == 0 {
		req.ExchangeRate = 1
	}

	items, subtotal := buildLineItems(req.LineItems)
	vatAmount := subtotal * req.VatRate / 100
	total := (subtotal + vatAmount) * req.ExchangeRate

	oldValues := map[string]any{"status": inv.Status, "total": inv.Total}

	defer prometheus.TrackDBOperation("update")(time.Now())
	tx := database.GetDB().Begin()
	if tx.Error != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	// Replace the line items wholesale; positions are reassigned.
	if err := tx.Where("invoice_id = ?", inv.ID).Delete(&model.InvoiceLineItem{}).Error; err != nil {
		tx.Rollback()
		log.Error("Failed to clear line items", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update invoice"})
	}
	for i := range items {
		items[i].InvoiceID = inv.ID
	}
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		log.Error("Failed to write line items", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update invoice"})
	}

	patch := map[string]any{
		"subtotal":             subtotal,
		"vat_rate":             req.VatRate,
		"vat_amount":           vatAmount,
		"total":                total,
		"exchange_rate":        req.ExchangeRate,
		"service_period_start": req.ServicePeriodStart,
		"service_period_end":   req.ServicePeriodEnd,
		"due_date":             req.DueDate,
	}
	if req.Currency != "" {
		patch["currency"] = req.Currency
	}
	if req.Language != "" {
		patch["language"] = req.Language
	}
	if err := tx.Model(&model.Invoice{}).
		Where("id = ? AND company_id = ?", inv.ID, g.CompanyID).
		Updates(patch).Error; err != nil {
		tx.Rollback()
		log.Error("Failed to update invoice", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update invoice"})
	}

	if err := tx.Commit().Error; err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "transaction commit failed"})
	}

	auditInvoice(c, g.CompanyID, g.UserID, model.AuditActionUpdate, inv.ID, oldValues,
		map[string]any{"status": inv.Status, "total": total})

	log.Info("Invoice updated", zap.Uint("id", inv.ID), zap.Uint("company_id", g.CompanyID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Invoice updated successfully"})
}

// TransitionInvoice returns a handler applying one state-machine
// transition to the invoice in the path. Routes map triggers to targets:
// submit, approve, reject, issue, revert and cancel.
func TransitionInvoice(target invoice.Status) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromContext(c)
		prometheus.RecordInvoiceOperation("transition")

		g, ok := requireAccess(c, permission.ResourceInvoices, permission.ActionUpdate)
		if !ok {
			return nil
		}

		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid invoice ID"})
		}

		var inv model.Invoice
		result := database.GetDB().
			Where("id = ? AND company_id = ?", id, g.CompanyID).
			First(&inv)
		if result.Error != nil {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "invoice not found"})
		}

		from := inv.Status
		now := time.Now().UTC()
		if err := invoice.Transition(&inv, target, g.UserID, now); err != nil {
			var ite *invoice.InvalidTransitionError
			if errors.As(err, &ite) {
				prometheus.RecordTransition(string(ite.From), string(ite.To), "rejected")
				log.Warn("Invalid invoice transition",
					zap.Uint("id", inv.ID),
					zap.String("from", string(ite.From)),
					zap.String("to", string(ite.To)))
				return c.JSON(http.StatusConflict, echo.Map{
					"error": err.Error(),
					"from":  ite.From,
					"to":    ite.To,
				})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "transition failed"})
		}

		// Single-row update guarded by primary key plus company id.
		patch := map[string]any{
			"status":       inv.Status,
			"approved_at":  inv.ApprovedAt,
			"approved_by":  inv.ApprovedBy,
			"issued_at":    inv.IssuedAt,
			"cancelled_at": inv.CancelledAt,
		}
		defer prometheus.TrackDBOperation("update")(time.Now())
		if err := database.GetDB().Model(&model.Invoice{}).
			Where("id = ? AND company_id = ?", inv.ID, g.CompanyID).
			Updates(patch).Error; err != nil {
			log.Error("Failed to persist transition", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "transition failed"})
		}

		prometheus.RecordTransition(from, string(target), "ok")
		auditInvoice(c, g.CompanyID, g.UserID, model.AuditActionUpdate, inv.ID,
			map[string]any{"status": from},
			map[string]any{"status": inv.Status})

		log.Info("Invoice transitioned",
			zap.Uint("id", inv.ID),
			zap.String("from", from),
			zap.String("to", inv.Status))
		return c.JSON(http.StatusOK, inv)
	}
}

// DeleteInvoice soft-deletes a draft invoice through the deletion guard.
// The request must carry the language-specific confirmation phrase and a
// reason of at least 10 characters.
func DeleteInvoice(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordInvoiceOperation("delete")

	g, ok := requireAccess(c, permission.ResourceInvoices, permission.ActionDelete)
	if !ok {
		return nil
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid invoice ID"})
	}

	var req struct {
		Confirmation string `json:"confirmation"`
		Reason       string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	// Unscoped so a repeated delete of an already-removed draft stays a
	// visible no-op instead of a 404.
	var inv model.Invoice
	result := database.GetDB().Unscoped().
		Where("id = ? AND company_id = ?", id, g.CompanyID).
		First(&inv)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "invoice not found"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	err = guard.RequestDeletion(c.Request().Context(), &inv, g.UserID, req.Confirmation, req.Reason)
	if err != nil {
		if errors.Is(err, invoice.ErrDeletionForbidden) {
			log.Warn("Deletion of non-draft invoice rejected",
				zap.Uint("id", inv.ID),
				zap.String("status", inv.Status))
			return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
		}
		var ve *invoice.ValidationError
		if errors.As(err, &ve) {
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": ve.Error(), "field": ve.Field})
		}
		log.Error("Failed to delete invoice", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete invoice"})
	}

	log.Info("Invoice deleted",
		zap.Uint("id", inv.ID),
		zap.String("number", inv.InvoiceNumber),
		zap.Uint("company_id", g.CompanyID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Invoice deleted successfully"})
}

func auditInvoice(c echo.Context, companyID, actorID uint, action string, recordID uint, oldValues, newValues map[string]any) {
	if err := auditor.Record(c.Request().Context(), companyID, actorID, action, "invoices", recordID, oldValues, newValues); err != nil {
		logger.FromContext(c).Error("Failed to write audit entry", zap.Error(err))
		return
	}
	if action == model.AuditActionDelete {
		prometheus.CriticalAuditCounter.Inc()
	}
}
