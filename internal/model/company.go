package model

import (
	"time"

	"gorm.io/gorm"
)

// Company represents a tenant: an isolated organizational unit that owns
// its own invoices, clients and members.
type Company struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	Name             string         `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	LegalName        string         `json:"legal_name" gorm:"type:varchar(200)"`
	VatID            string         `json:"vat_id" gorm:"type:varchar(50)"`
	TaxNumber        string         `json:"tax_number" gorm:"type:varchar(50)"`
	DefaultCurrency  string         `json:"default_currency" gorm:"type:varchar(3);default:'EUR'"`
	FiscalYearStart  int            `json:"fiscal_year_start" gorm:"default:1"` // month 1-12
	Active           bool           `json:"active" gorm:"default:true"`
	CanBeDeleted     bool           `json:"can_be_deleted" gorm:"default:true"`
	IsMainCompany    bool           `json:"is_main_company" gorm:"default:false"`
	OwnerID          uint           `json:"owner_id" gorm:"index;not null"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`
}
