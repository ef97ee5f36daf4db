package model

import (
	"time"

	"gorm.io/gorm"
)

// Client represents a billable client belonging to a company.
// The Abbreviation feeds the invoice number prefix (e.g. "ACME" in
// 2025-08-ACME-001), so it should stay short and stable.
type Client struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	CompanyID     uint           `json:"company_id" gorm:"index;not null"`
	CompanyName   string         `json:"company_name" gorm:"type:varchar(200);not null"`
	Abbreviation  string         `json:"abbreviation" gorm:"type:varchar(10);not null"`
	ContactPerson string         `json:"contact_person" gorm:"type:varchar(100)"`
	Email         string         `json:"email" gorm:"type:varchar(100)"`
	Address       string         `json:"address" gorm:"type:text"`
	City          string         `json:"city" gorm:"type:varchar(100)"`
	Country       string         `json:"country" gorm:"type:varchar(100)"`
	PostalCode    string         `json:"postal_code" gorm:"type:varchar(20)"`
	VatID         string         `json:"vat_id" gorm:"type:varchar(50)"`
	TaxNumber     string         `json:"tax_number" gorm:"type:varchar(50)"`
	HourlyRate    float64        `json:"hourly_rate"`
	Currency      string         `json:"currency" gorm:"type:varchar(3);default:'EUR'"`
	CreatedBy     uint           `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}
