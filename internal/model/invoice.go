package model

import (
	"time"

	"gorm.io/gorm"
)

// Invoice represents an invoice owned by a company and a user.
//
// Client fields are a snapshot copied from the client record at creation
// time. This is deliberate: a finalized invoice must not change
// retroactively when the client record is edited.
//
// Uniqueness of (invoice_number, user_id) among rows where deleted_at IS
// NULL is enforced by a partial unique index created in pkg/database; the
// gorm tags cannot express the WHERE clause.
type Invoice struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	CompanyID     uint   `json:"company_id" gorm:"index;not null"`
	UserID        uint   `json:"user_id" gorm:"index;not null"`
	InvoiceNumber string `json:"invoice_number" gorm:"type:varchar(50);not null"`
	Status        string `json:"status" gorm:"type:varchar(30);not null;default:'draft'"`

	// Client snapshot
	ClientID        uint   `json:"client_id" gorm:"index"`
	ClientCompany   string `json:"client_company" gorm:"type:varchar(200)"`
	ClientAddress   string `json:"client_address" gorm:"type:text"`
	ClientVatID     string `json:"client_vat_id" gorm:"type:varchar(50)"`
	ClientTaxNumber string `json:"client_tax_number" gorm:"type:varchar(50)"`

	LineItems []InvoiceLineItem `json:"line_items,omitempty" gorm:"foreignKey:InvoiceID"`

	Subtotal     float64 `json:"subtotal"`
	VatRate      float64 `json:"vat_rate"`
	VatAmount    float64 `json:"vat_amount"`
	Total        float64 `json:"total"`
	Currency     string  `json:"currency" gorm:"type:varchar(3);default:'EUR'"`
	ExchangeRate float64 `json:"exchange_rate" gorm:"default:1"`
	Language     string  `json:"language" gorm:"type:varchar(2);default:'de'"` // 'de' or 'en'

	ServicePeriodStart *time.Time `json:"service_period_start,omitempty"`
	ServicePeriodEnd   *time.Time `json:"service_period_end,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"`

	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  *uint      `json:"approved_by,omitempty"`
	IssuedAt    *time.Time `json:"issued_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CreatedBy uint           `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// InvoiceLineItem is a single service line on an invoice.
type InvoiceLineItem struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	InvoiceID   uint    `json:"invoice_id" gorm:"index;not null"`
	Position    int     `json:"position"`
	Description string  `json:"description" gorm:"type:text;not null"`
	Quantity    float64 `json:"quantity" gorm:"default:1"`
	Hours       float64 `json:"hours"`
	Rate        float64 `json:"rate"`
	Amount      float64 `json:"amount"`
}
